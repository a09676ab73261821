// Package scan connects advertisement sources to trackers.
//
// A Bus runs every configured Source and hands each advertisement to the
// GateRadio of every tracker. A gate only lets advertisements through while
// its tracker is in the active phase of its scan cycle, the way a platform
// radio drops scan callbacks once scanning is stopped.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
)

// ErrNoSource is returned by GateRadio.Enable when the bus has no source.
var ErrNoSource = errors.New("scan: no advertisement source configured")

// Source produces advertisements until ctx is cancelled or it runs dry.
type Source interface {
	Run(ctx context.Context, deliver func(beacon.Advertisement)) error
}

// Scanner is implemented by sources that drive hardware which must be told
// to start and stop scanning.
type Scanner interface {
	StartScan() error
	StopScan() error
}

// Bus fans advertisements from its sources out to its gates.
type Bus struct {
	sources []Source

	mu    sync.RWMutex
	gates []*GateRadio

	// scanMu serializes the open count with the Scanner commands it
	// triggers, so a SCAN OFF never lands after a later SCAN ON.
	scanMu sync.Mutex
	open   int
}

func NewBus(sources ...Source) *Bus {
	return &Bus{sources: sources}
}

// Gate returns a new closed gate attached to the bus.
func (b *Bus) Gate(name string) *GateRadio {
	g := &GateRadio{name: name, bus: b}
	b.mu.Lock()
	b.gates = append(b.gates, g)
	b.mu.Unlock()
	return g
}

// Deliver hands a to every open gate.
func (b *Bus) Deliver(a beacon.Advertisement) {
	b.mu.RLock()
	gates := b.gates
	b.mu.RUnlock()
	for _, g := range gates {
		g.Deliver(a)
	}
}

// Run runs all sources until ctx is cancelled. A source that returns an
// error cancels the others.
func (b *Bus) Run(ctx context.Context) error {
	if len(b.sources) == 0 {
		return ErrNoSource
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range b.sources {
		g.Go(func() error {
			err := src.Run(ctx, b.Deliver)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%T: %w", src, err)
			}
			monitoring.Logf("scan: %T finished", src)
			return nil
		})
	}
	return g.Wait()
}

// opened and closed count open gates so hardware scanning runs while any
// tracker is in its active phase.
func (b *Bus) opened() error {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	b.open++
	if b.open != 1 {
		return nil
	}
	var errs []error
	for _, src := range b.sources {
		if s, ok := src.(Scanner); ok {
			errs = append(errs, s.StartScan())
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) closed() error {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	b.open--
	if b.open != 0 {
		return nil
	}
	var errs []error
	for _, src := range b.sources {
		if s, ok := src.(Scanner); ok {
			errs = append(errs, s.StopScan())
		}
	}
	return errors.Join(errs...)
}

// GateRadio is the radio seen by one tracker.
type GateRadio struct {
	name string
	bus  *Bus
	open atomic.Bool

	mu    sync.RWMutex
	sinks []func(beacon.Advertisement) bool
}

// Connect registers a sink, typically a tracker's Ingest.
func (g *GateRadio) Connect(sink func(beacon.Advertisement) bool) {
	g.mu.Lock()
	g.sinks = append(g.sinks, sink)
	g.mu.Unlock()
}

func (g *GateRadio) Enable() error {
	if len(g.bus.sources) == 0 {
		return fmt.Errorf("%s: %w", g.name, ErrNoSource)
	}
	return nil
}

func (g *GateRadio) StartScan() error {
	if g.open.Swap(true) {
		return nil
	}
	return g.bus.opened()
}

func (g *GateRadio) StopScan() error {
	if !g.open.Swap(false) {
		return nil
	}
	return g.bus.closed()
}

// Open reports whether the gate currently passes advertisements.
func (g *GateRadio) Open() bool {
	return g.open.Load()
}

// Deliver forwards a to the sinks while the gate is open.
func (g *GateRadio) Deliver(a beacon.Advertisement) {
	if !g.open.Load() {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, sink := range g.sinks {
		sink(a)
	}
}
