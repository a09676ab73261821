package tracking

import (
	"errors"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/registry"
)

const sourceIBeacon = "ibeacon"

// IBeaconTracker tracks iBeacons matching an optional region filter and
// reports region entry and exit.
type IBeaconTracker struct {
	cycle *cycle
	pub   Publisher
	opts  Options
	reg   *registry.Registry
	err   error // adapter failure, fixed at construction

	filter beacon.IBeaconFilter // owned by the cycle goroutine
}

// NewIBeaconTracker enables the radio and returns a stopped tracker. When
// the radio cannot be enabled an Error notification is published once and
// every tracking operation returns ErrNoAdapter.
func NewIBeaconTracker(radio Radio, pub Publisher, opts Options) *IBeaconTracker {
	opts = opts.withDefaults()
	t := &IBeaconTracker{
		pub:    pub,
		opts:   opts,
		filter: beacon.IBeaconFilter{Major: beacon.Unset, Minor: beacon.Unset},
	}
	t.reg = registry.New(opts.registryConfig(true, logEviction(sourceIBeacon)))
	t.cycle = newCycle(sourceIBeacon, radio, opts, t)
	t.err = enableRadio(radio, pub, sourceIBeacon, opts)
	return t
}

func enableRadio(radio Radio, pub Publisher, source string, opts Options) error {
	if err := radio.Enable(); err != nil {
		monitoring.Logf("%s: bluetooth adapter unavailable: %v", source, err)
		pub.Publish(Notification{
			Kind:   Error,
			Source: source,
			Err:    err.Error(),
			At:     opts.Clock.Now(),
		})
		return errors.Join(ErrNoAdapter, err)
	}
	return nil
}

func logEviction(source string) func(registry.TrackedBeacon) {
	return func(b registry.TrackedBeacon) {
		monitoring.Debugf("%s: evicted %s after %d missed periods", source, b.Identity, b.MissedCycles)
	}
}

// Start begins tracking beacons that match f. Calling Start while tracking
// replaces the filter; entries that no longer match age out.
func (t *IBeaconTracker) Start(f beacon.IBeaconFilter) error {
	if t.err != nil {
		return t.err
	}
	t.cycle.do(func() { t.filter = f })
	return t.cycle.start()
}

// Stop ends tracking and forgets every beacon. No notification is published
// once Stop has returned.
func (t *IBeaconTracker) Stop() error {
	if t.err != nil {
		return t.err
	}
	t.cycle.stop(func() {
		t.reg.Clear()
		t.filter = beacon.IBeaconFilter{Major: beacon.Unset, Minor: beacon.Unset}
	})
	return nil
}

// Scanning reports whether tracking is on.
func (t *IBeaconTracker) Scanning() bool {
	return t.cycle.running()
}

// Ingest hands an advertisement to the tracker. It reports whether the
// advertisement was queued.
func (t *IBeaconTracker) Ingest(a beacon.Advertisement) bool {
	return t.cycle.ingest(a)
}

// Beacons renders the current snapshot, nearest first.
func (t *IBeaconTracker) Beacons() []Record {
	return render(t.reg.Snapshot(), IBeaconRecord)
}

// Tracked returns the current snapshot entries.
func (t *IBeaconTracker) Tracked() []registry.TrackedBeacon {
	return t.reg.Snapshot()
}

// BeaconAt returns the beacon at the 1-based position of the snapshot. An
// out-of-range position also stops tracking when StopOnBadPosition is set.
func (t *IBeaconTracker) BeaconAt(position int) (Record, error) {
	if t.err != nil {
		return nil, t.err
	}
	b, err := t.reg.At(position)
	if err != nil {
		if errors.Is(err, registry.ErrPositionOutOfRange) && t.opts.StopOnBadPosition {
			monitoring.Logf("%s: %v; stopping tracking", sourceIBeacon, err)
			if serr := t.Stop(); serr != nil {
				monitoring.Logf("%s: stop tracking: %v", sourceIBeacon, serr)
			}
		}
		return nil, err
	}
	return IBeaconRecord(b), nil
}

// Lookup returns the beacon with the given identity.
func (t *IBeaconTracker) Lookup(id beacon.Identity) (Record, bool) {
	b, ok := t.reg.Get(id)
	if !ok {
		return nil, false
	}
	return IBeaconRecord(b), true
}

func (t *IBeaconTracker) handle(a beacon.Advertisement, now time.Time) {
	f, ok := beacon.DecodeIBeacon(a.Payload)
	if !ok || !t.filter.Match(f) {
		return
	}
	t.emit(t.reg.Observe(a.Device, f, a.RSSI, now), now)
}

func (t *IBeaconTracker) tick(now time.Time) {
	t.emit(t.reg.Tick(now), now)
}

func (t *IBeaconTracker) flush(now time.Time) {
	if t.reg.Len() > 0 {
		t.publishSnapshot(now)
	}
}

func (t *IBeaconTracker) emit(events []registry.Event, now time.Time) {
	for _, ev := range events {
		switch ev {
		case registry.RegionEntered:
			t.pub.Publish(Notification{Kind: RegionEntered, Source: sourceIBeacon, At: now})
		case registry.RegionExited:
			t.pub.Publish(Notification{Kind: RegionExited, Source: sourceIBeacon, At: now})
		case registry.Changed:
			t.publishSnapshot(now)
		}
	}
}

func (t *IBeaconTracker) publishSnapshot(now time.Time) {
	t.pub.Publish(Notification{
		Kind:    BeaconsFound,
		Source:  sourceIBeacon,
		Beacons: t.Beacons(),
		At:      now,
	})
}
