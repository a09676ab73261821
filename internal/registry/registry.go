// Package registry keeps the set of currently observable beacons and ages
// out the ones that stop advertising.
//
// Every entry counts the aging periods since it was last heard. An entry is
// Active while that count is below StaleAfter; at StaleAfter its signal is
// replaced by proximity.NoSignalRSSI and it becomes Stale but stays
// enumerable; at EvictAfter it is removed. Observing the beacon again resets
// the count.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/proximity"
)

// ErrPositionOutOfRange is returned by At for positions outside 1..Len.
var ErrPositionOutOfRange = errors.New("registry: position out of range")

const (
	DefaultStaleAfter    = 4
	DefaultEvictAfter    = 10
	DefaultHistoryLength = 16
)

// State is the aging state of a tracked beacon.
type State int

const (
	Active State = iota
	Stale
	Evicted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Stale:
		return "stale"
	case Evicted:
		return "evicted"
	}
	return "unknown"
}

// Event is a change in the registry worth telling listeners about.
type Event int

const (
	// Changed means entries went stale or were removed.
	Changed Event = iota
	// RegionEntered means the first entry arrived in an empty registry.
	RegionEntered
	// RegionExited means the last entry was removed.
	RegionExited
)

func (e Event) String() string {
	switch e {
	case Changed:
		return "changed"
	case RegionEntered:
		return "region-entered"
	case RegionExited:
		return "region-exited"
	}
	return "unknown"
}

// Config controls aging and ordering.
type Config struct {
	StaleAfter uint32
	EvictAfter uint32

	// RegionEvents enables RegionEntered/RegionExited. When disabled an
	// emptied registry reports Changed instead.
	RegionEvents bool

	// Rank orders snapshots ascending. Nil uses DefaultRank.
	Rank func(*TrackedBeacon) float64

	// HistoryLength bounds the per-beacon rssi history; 0 disables it.
	HistoryLength int

	// OnEvict, when set, is called with a copy of every removed entry while
	// the registry lock is held. It must not call back into the registry.
	OnEvict func(TrackedBeacon)
}

// DefaultConfig returns the standard aging thresholds.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    DefaultStaleAfter,
		EvictAfter:    DefaultEvictAfter,
		HistoryLength: DefaultHistoryLength,
	}
}

// TrackedBeacon is one entry of the registry. Values handed out by the
// registry are copies.
type TrackedBeacon struct {
	beacon.Identity
	Frame        beacon.Frame
	Device       string
	LastRSSI     int
	MissedCycles uint32
	Telemetry    *beacon.EddystoneTLM
	FirstSeen    time.Time
	LastSeen     time.Time

	seq        uint64
	history    []int
	staleAfter uint32
	evictAfter uint32
}

// State derives the aging state from the missed cycle count.
func (b *TrackedBeacon) State() State {
	switch {
	case b.MissedCycles >= b.evictAfter:
		return Evicted
	case b.MissedCycles >= b.staleAfter:
		return Stale
	default:
		return Active
	}
}

// History returns the recorded rssi samples, oldest first.
func (b *TrackedBeacon) History() []int {
	return slices.Clone(b.history)
}

// TxPower is the calibrated tx power of the latest frame.
func (b *TrackedBeacon) TxPower() int {
	return beacon.TxPowerOf(b.Frame)
}

func (b *TrackedBeacon) clone() TrackedBeacon {
	c := *b
	c.history = slices.Clone(b.history)
	if b.Telemetry != nil {
		t := *b.Telemetry
		c.Telemetry = &t
	}
	return c
}

// DefaultRank is iBeacon accuracy or Eddystone distance. Stale entries rank
// by their sentinel signal like any other.
func DefaultRank(b *TrackedBeacon) float64 {
	switch b.Frame.(type) {
	case beacon.IBeacon:
		return proximity.Accuracy(b.LastRSSI, b.TxPower())
	default:
		return proximity.EddystoneDistance(b.LastRSSI, b.TxPower())
	}
}

// Registry is a self-expiring set of tracked beacons keyed by identity.
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	entries map[beacon.Identity]*TrackedBeacon
	nextSeq uint64
}

// New creates an empty registry. Zero thresholds fall back to the defaults.
func New(cfg Config) *Registry {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = DefaultEvictAfter
	}
	if cfg.Rank == nil {
		cfg.Rank = DefaultRank
	}
	if cfg.HistoryLength < 0 {
		cfg.HistoryLength = 0
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[beacon.Identity]*TrackedBeacon),
	}
}

// Observe records a sighting of f from device. Known identities are updated
// in place and made Active again; unknown ones are inserted. Frames without
// an identity (telemetry) are ignored.
func (r *Registry) Observe(device string, f beacon.Frame, rssi int, now time.Time) []Event {
	id, ok := beacon.IdentityOf(device, f)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.entries[id]; ok {
		b.Frame = f
		b.Device = device
		b.LastRSSI = rssi
		b.MissedCycles = 0
		b.LastSeen = now
		r.record(b, rssi)
		return nil
	}

	wasEmpty := len(r.entries) == 0
	b := &TrackedBeacon{
		Identity:   id,
		Frame:      f,
		Device:     device,
		LastRSSI:   rssi,
		FirstSeen:  now,
		LastSeen:   now,
		seq:        r.nextSeq,
		staleAfter: r.cfg.StaleAfter,
		evictAfter: r.cfg.EvictAfter,
	}
	r.nextSeq++
	r.record(b, rssi)
	r.entries[id] = b

	if wasEmpty && r.cfg.RegionEvents {
		return []Event{RegionEntered}
	}
	return nil
}

func (r *Registry) record(b *TrackedBeacon, rssi int) {
	if r.cfg.HistoryLength == 0 {
		return
	}
	b.history = append(b.history, rssi)
	if over := len(b.history) - r.cfg.HistoryLength; over > 0 {
		b.history = b.history[over:]
	}
}

// AttachTelemetry stores tlm on every entry advertised by device, refreshing
// its signal and making it Active again. It reports whether any entry
// matched.
func (r *Registry) AttachTelemetry(device string, tlm beacon.EddystoneTLM, rssi int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := false
	for _, b := range r.entries {
		if b.Device != device {
			continue
		}
		t := tlm
		b.Telemetry = &t
		b.LastRSSI = rssi
		b.MissedCycles = 0
		b.LastSeen = now
		r.record(b, rssi)
		matched = true
	}
	return matched
}

// Tick advances every entry by one aging period. At most one Changed event
// is returned per tick; an emptied registry yields RegionExited instead when
// region events are enabled.
func (r *Registry) Tick(now time.Time) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return nil
	}

	changed := false
	removed := 0
	for id, b := range r.entries {
		b.MissedCycles++
		switch {
		case b.MissedCycles >= r.cfg.EvictAfter:
			delete(r.entries, id)
			removed++
			if r.cfg.OnEvict != nil {
				r.cfg.OnEvict(b.clone())
			}
		case b.MissedCycles == r.cfg.StaleAfter:
			b.LastRSSI = proximity.NoSignalRSSI
			changed = true
		}
	}

	if removed > 0 && len(r.entries) == 0 {
		if r.cfg.RegionEvents {
			return []Event{RegionExited}
		}
		return []Event{Changed}
	}
	if changed || removed > 0 {
		return []Event{Changed}
	}
	return nil
}

// Snapshot returns copies of all entries, Active and Stale, sorted ascending
// by rank with ties in insertion order.
func (r *Registry) Snapshot() []TrackedBeacon {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []TrackedBeacon {
	type ranked struct {
		b    TrackedBeacon
		rank float64
	}
	rs := make([]ranked, 0, len(r.entries))
	for _, b := range r.entries {
		rs = append(rs, ranked{b: b.clone(), rank: r.cfg.Rank(b)})
	}
	slices.SortFunc(rs, func(a, b ranked) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.b.seq, b.b.seq)
	})

	out := make([]TrackedBeacon, len(rs))
	for i := range rs {
		out[i] = rs[i].b
	}
	return out
}

// At returns the entry at the 1-based position of the current snapshot.
func (r *Registry) At(position int) (TrackedBeacon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if position < 1 || position > len(r.entries) {
		return TrackedBeacon{}, fmt.Errorf("%w: %d not in 1..%d", ErrPositionOutOfRange, position, len(r.entries))
	}
	return r.sortedLocked()[position-1], nil
}

// Get returns the entry with the given identity.
func (r *Registry) Get(id beacon.Identity) (TrackedBeacon, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.entries[id]
	if !ok {
		return TrackedBeacon{}, false
	}
	return b.clone(), true
}

// Len is the number of Active and Stale entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear drops every entry without emitting events.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}
