package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/proximity.report/internal/beacon"
)

type fakeSource struct {
	mu      sync.Mutex
	starts  int
	stops   int
	ads     []beacon.Advertisement
	err     error
	blocked bool
}

func (f *fakeSource) Run(ctx context.Context, deliver func(beacon.Advertisement)) error {
	for _, a := range f.ads {
		deliver(a)
	}
	if f.err != nil {
		return f.err
	}
	if f.blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeSource) StartScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSource) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

type sink struct {
	mu  sync.Mutex
	got []beacon.Advertisement
}

func (s *sink) ingest(a beacon.Advertisement) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return true
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestGateRadio_EnableWithoutSource(t *testing.T) {
	g := NewBus().Gate("ibeacon")
	err := g.Enable()
	assert.ErrorIs(t, err, ErrNoSource)
	assert.Contains(t, err.Error(), "ibeacon")

	assert.ErrorIs(t, NewBus().Run(context.Background()), ErrNoSource)
}

func TestGateRadio_DeliversOnlyWhileOpen(t *testing.T) {
	bus := NewBus(&fakeSource{})
	g := bus.Gate("ibeacon")
	require.NoError(t, g.Enable())
	var s sink
	g.Connect(s.ingest)

	a := beacon.Advertisement{Device: "aa", RSSI: -60}
	bus.Deliver(a)
	assert.Zero(t, s.len(), "closed gate drops advertisements")

	require.NoError(t, g.StartScan())
	assert.True(t, g.Open())
	bus.Deliver(a)
	assert.Equal(t, 1, s.len())

	require.NoError(t, g.StopScan())
	bus.Deliver(a)
	assert.Equal(t, 1, s.len())
}

func TestBus_ScannerFollowsOpenGates(t *testing.T) {
	src := &fakeSource{}
	bus := NewBus(src)
	a, b := bus.Gate("a"), bus.Gate("b")

	require.NoError(t, a.StartScan())
	require.NoError(t, a.StartScan())
	require.NoError(t, b.StartScan())
	assert.Equal(t, 1, src.starts)

	require.NoError(t, a.StopScan())
	assert.Zero(t, src.stops, "b is still scanning")
	require.NoError(t, b.StopScan())
	require.NoError(t, b.StopScan())
	assert.Equal(t, 1, src.stops)
}

// slowScanner holds StopScan until released, like a dongle that is slow
// to acknowledge a command.
type slowScanner struct {
	fakeSource
	stopping chan struct{}
	release  chan struct{}
	on       bool
}

func (s *slowScanner) StartScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = true
	return nil
}

func (s *slowScanner) StopScan() error {
	close(s.stopping)
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = false
	return nil
}

func (s *slowScanner) scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func TestBus_ScannerStaysOnWhenGateOpensDuringStop(t *testing.T) {
	src := &slowScanner{stopping: make(chan struct{}), release: make(chan struct{})}
	bus := NewBus(src)
	a, b := bus.Gate("a"), bus.Gate("b")
	require.NoError(t, a.StartScan())

	stopped := make(chan error, 1)
	go func() { stopped <- a.StopScan() }()
	<-src.stopping

	started := make(chan error, 1)
	go func() { started <- b.StartScan() }()
	require.Eventually(t, b.Open, time.Second, time.Millisecond)
	close(src.release)

	require.NoError(t, <-stopped)
	require.NoError(t, <-started)
	assert.True(t, src.scanning(), "scanner must be on while gate b is open")
}

func TestBus_Run(t *testing.T) {
	finite := &fakeSource{ads: []beacon.Advertisement{{Device: "aa"}, {Device: "bb"}}}
	endless := &fakeSource{blocked: true}
	bus := NewBus(finite, endless)
	g := bus.Gate("x")
	var s sink
	g.Connect(s.ingest)
	require.NoError(t, g.StartScan())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	require.Eventually(t, func() bool { return s.len() == 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bus did not stop")
	}
}

func TestBus_RunSourceError(t *testing.T) {
	boom := errors.New("boom")
	bus := NewBus(&fakeSource{err: boom}, &fakeSource{blocked: true})
	err := bus.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
