package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestablePort is an in-memory SerialPorter. Reads block until Feed supplies
// data or the port is closed; writes are captured for inspection.
type TestablePort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	read    bytes.Buffer
	written bytes.Buffer
	eof     bool
	closed  bool

	// WriteError, when set, is returned by the next Write.
	WriteError error
	// ShortWrites makes Write report one byte fewer than it was given.
	ShortWrites bool
}

func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed appends each line, newline terminated, to the read side.
func (p *TestablePort) Feed(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.read.WriteString(l)
		p.read.WriteByte('\n')
	}
	p.cond.Broadcast()
}

// EOF makes reads return io.EOF once the buffered data is consumed.
func (p *TestablePort) EOF() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eof = true
	p.cond.Broadcast()
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.read.Len() == 0 && !p.eof && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	if p.read.Len() == 0 {
		return 0, io.EOF
	}
	return p.read.Read(b)
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	n, _ := p.written.Write(b)
	if p.ShortWrites {
		n--
	}
	return n, nil
}

// Written returns everything written to the port so far.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
