package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// handler is the tracker-specific half of a cycle. All methods run on the
// cycle goroutine.
type handler interface {
	handle(a beacon.Advertisement, now time.Time)
	tick(now time.Time)
	flush(now time.Time)
}

// cycle is the single owner of a tracker's registries while tracking is on.
type cycle struct {
	name  string
	radio Radio
	opts  Options
	h     handler

	mu  sync.Mutex
	cur *session

	dropped atomic.Uint64
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	inbox  chan beacon.Advertisement
	calls  chan func()
}

func newCycle(name string, radio Radio, opts Options, h handler) *cycle {
	return &cycle{name: name, radio: radio, opts: opts, h: h}
}

func (c *cycle) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// start begins a session unless one is already running. The aging ticker
// and the phase timer exist by the time start returns.
func (c *cycle) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return nil
	}
	if err := c.radio.StartScan(); err != nil {
		return fmt.Errorf("%s: start scan: %w", c.name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cancel: cancel,
		done:   make(chan struct{}),
		inbox:  make(chan beacon.Advertisement, c.opts.InboxSize),
		calls:  make(chan func()),
	}
	ticker := c.opts.Clock.NewTicker(c.opts.AgingPeriod)
	phase := c.opts.Clock.NewTimer(c.opts.ScanActive)
	c.cur = s

	go c.loop(ctx, s, ticker, phase)
	monitoring.Logf("%s: tracking started", c.name)
	return nil
}

// stop ends the running session, waits for its goroutine, stops the radio
// and then runs cleanup. cleanup also runs when nothing was running.
func (c *cycle) stop(cleanup func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.cur
	if s != nil {
		s.cancel()
		<-s.done
		c.cur = nil
		if err := c.radio.StopScan(); err != nil {
			monitoring.Logf("%s: stop scan: %v", c.name, err)
		}
		monitoring.Logf("%s: tracking stopped", c.name)
	}
	if cleanup != nil {
		cleanup()
	}
}

// do runs fn serialized with the cycle goroutine: on it while a session is
// running, inline otherwise.
func (c *cycle) do(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.cur
	if s == nil {
		fn()
		return
	}
	done := make(chan struct{})
	s.calls <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// ingest queues an advertisement for the running session. It never blocks;
// advertisements arriving while stopped or with a full inbox are dropped.
// The send happens under mu so a session that stop has retired never
// receives anything.
func (c *cycle) ingest(a beacon.Advertisement) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.cur
	if s == nil {
		return false
	}
	select {
	case s.inbox <- a:
		return true
	default:
		if n := c.dropped.Add(1); n&(n-1) == 0 {
			monitoring.Logf("%s: inbox full, %d advertisements dropped so far", c.name, n)
		}
		return false
	}
}

func (c *cycle) loop(ctx context.Context, s *session, ticker timeutil.Ticker, phase timeutil.Timer) {
	defer close(s.done)
	defer ticker.Stop()
	defer phase.Stop()

	scanning := true
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.inbox:
			if ctx.Err() != nil {
				return
			}
			now := a.Received
			if now.IsZero() {
				now = c.opts.Clock.Now()
			}
			c.h.handle(a, now)
		case now := <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			c.h.tick(now)
		case now := <-phase.C():
			if ctx.Err() != nil {
				return
			}
			if scanning {
				if err := c.radio.StopScan(); err != nil {
					monitoring.Logf("%s: stop scan: %v", c.name, err)
				}
				scanning = false
				c.h.flush(now)
				phase.Reset(c.opts.ScanSettle)
			} else {
				if err := c.radio.StartScan(); err != nil {
					monitoring.Logf("%s: restart scan: %v", c.name, err)
				}
				scanning = true
				phase.Reset(c.opts.ScanActive)
			}
		case fn := <-s.calls:
			fn()
		}
	}
}
