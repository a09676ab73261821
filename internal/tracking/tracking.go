// Package tracking runs the scan cycle for iBeacon and Eddystone tracking.
//
// Each tracker owns one cycle. While tracking is on, a single goroutine
// receives advertisements from an inbox, ages the registries once per aging
// period and alternates the radio between an active scan phase and a short
// settle phase, flushing a snapshot to the Publisher at each settle. Every
// registry mutation happens on that goroutine. Stopping waits for it to
// exit before the radio is stopped and the registries are cleared, so no
// notification is published after Stop returns.
package tracking

import (
	"errors"
	"time"

	"github.com/banshee-data/proximity.report/internal/config"
	"github.com/banshee-data/proximity.report/internal/registry"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// ErrNoAdapter is returned by tracking operations when the radio could not be
// enabled.
var ErrNoAdapter = errors.New("tracking: no usable bluetooth adapter")

// Radio is the scanning hardware. StartScan and StopScan bracket the active
// phase of each cycle.
type Radio interface {
	Enable() error
	StartScan() error
	StopScan() error
}

// Publisher receives notifications. Publish is called from the tracking
// goroutine and must not block.
type Publisher interface {
	Publish(Notification)
}

// Options tunes a tracker. Zero values take the defaults.
type Options struct {
	Clock timeutil.Clock

	ScanActive  time.Duration
	ScanSettle  time.Duration
	AgingPeriod time.Duration

	StaleAfter    uint32
	EvictAfter    uint32
	HistoryLength int
	InboxSize     int

	// StopOnBadPosition stops tracking when a positional query is out of
	// range, in addition to returning the error.
	StopOnBadPosition bool
}

// OptionsFromConfig maps a tuning file onto tracker options.
func OptionsFromConfig(cfg *config.TuningConfig) Options {
	return Options{
		Clock:             timeutil.RealClock{},
		ScanActive:        cfg.GetScanActive(),
		ScanSettle:        cfg.GetScanSettle(),
		AgingPeriod:       cfg.GetAgingPeriod(),
		StaleAfter:        uint32(cfg.GetStaleAfter()),
		EvictAfter:        uint32(cfg.GetEvictAfter()),
		HistoryLength:     cfg.GetHistoryLength(),
		InboxSize:         cfg.GetInboxSize(),
		StopOnBadPosition: cfg.GetStopOnBadPosition(),
	}
}

// DefaultOptions returns the defaults of the tuning file.
func DefaultOptions() Options {
	return OptionsFromConfig(config.EmptyTuningConfig())
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.ScanActive <= 0 {
		o.ScanActive = d.ScanActive
	}
	if o.ScanSettle <= 0 {
		o.ScanSettle = d.ScanSettle
	}
	if o.AgingPeriod <= 0 {
		o.AgingPeriod = d.AgingPeriod
	}
	if o.StaleAfter == 0 {
		o.StaleAfter = d.StaleAfter
	}
	if o.EvictAfter == 0 {
		o.EvictAfter = d.EvictAfter
	}
	if o.InboxSize <= 0 {
		o.InboxSize = d.InboxSize
	}
	return o
}

func (o Options) registryConfig(regionEvents bool, onEvict func(registry.TrackedBeacon)) registry.Config {
	return registry.Config{
		StaleAfter:    o.StaleAfter,
		EvictAfter:    o.EvictAfter,
		RegionEvents:  regionEvents,
		HistoryLength: o.HistoryLength,
		OnEvict:       onEvict,
	}
}
