package tracking

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/registry"
)

const (
	sourceEddystone    = "eddystone"
	sourceEddystoneUID = "eddystone-uid"
	sourceEddystoneURL = "eddystone-url"
)

// EddystoneTracker tracks Eddystone-UID and Eddystone-URL beacons in two
// independent registries sharing one scan cycle. Telemetry frames attach to
// the beacons advertised by the same device.
type EddystoneTracker struct {
	cycle *cycle
	pub   Publisher
	opts  Options
	uids  *registry.Registry
	urls  *registry.Registry
	err   error

	// ops serializes start/stop so the on flags and the cycle state agree.
	ops sync.Mutex

	// owned by the cycle goroutine
	uidOn     bool
	urlOn     bool
	uidFilter beacon.UIDFilter
}

// NewEddystoneTracker enables the radio and returns a stopped tracker. When
// the radio cannot be enabled an Error notification is published once and
// every tracking operation returns ErrNoAdapter.
func NewEddystoneTracker(radio Radio, pub Publisher, opts Options) *EddystoneTracker {
	opts = opts.withDefaults()
	t := &EddystoneTracker{pub: pub, opts: opts}
	t.uids = registry.New(opts.registryConfig(false, logEviction(sourceEddystoneUID)))
	t.urls = registry.New(opts.registryConfig(false, logEviction(sourceEddystoneURL)))
	t.cycle = newCycle(sourceEddystone, radio, opts, t)
	t.err = enableRadio(radio, pub, sourceEddystone, opts)
	return t
}

// StartUID begins tracking Eddystone-UID beacons matching f, replacing any
// previous filter.
func (t *EddystoneTracker) StartUID(f beacon.UIDFilter) error {
	if t.err != nil {
		return t.err
	}
	t.ops.Lock()
	defer t.ops.Unlock()

	t.cycle.do(func() {
		t.uidOn = true
		t.uidFilter = f
	})
	return t.cycle.start()
}

// StartURL begins tracking Eddystone-URL beacons.
func (t *EddystoneTracker) StartURL() error {
	if t.err != nil {
		return t.err
	}
	t.ops.Lock()
	defer t.ops.Unlock()

	t.cycle.do(func() { t.urlOn = true })
	return t.cycle.start()
}

// StopUID stops UID tracking and forgets UID beacons. The cycle keeps
// running while URL tracking is on.
func (t *EddystoneTracker) StopUID() error {
	if t.err != nil {
		return t.err
	}
	t.ops.Lock()
	defer t.ops.Unlock()

	t.cycle.do(func() {
		t.uidOn = false
		t.uidFilter = beacon.UIDFilter{}
		t.uids.Clear()
	})
	if !t.urlOn {
		t.cycle.stop(nil)
	}
	return nil
}

// StopURL stops URL tracking and forgets URL beacons. The cycle keeps
// running while UID tracking is on.
func (t *EddystoneTracker) StopURL() error {
	if t.err != nil {
		return t.err
	}
	t.ops.Lock()
	defer t.ops.Unlock()

	t.cycle.do(func() {
		t.urlOn = false
		t.urls.Clear()
	})
	if !t.uidOn {
		t.cycle.stop(nil)
	}
	return nil
}

// StopAll stops both kinds of tracking.
func (t *EddystoneTracker) StopAll() error {
	if t.err != nil {
		return t.err
	}
	t.ops.Lock()
	defer t.ops.Unlock()

	t.cycle.stop(func() {
		t.uidOn, t.urlOn = false, false
		t.uidFilter = beacon.UIDFilter{}
		t.uids.Clear()
		t.urls.Clear()
	})
	return nil
}

// Scanning reports whether the cycle is running.
func (t *EddystoneTracker) Scanning() bool {
	return t.cycle.running()
}

// TrackingUID and TrackingURL report which kinds are enabled.
func (t *EddystoneTracker) TrackingUID() bool {
	t.ops.Lock()
	defer t.ops.Unlock()
	return t.uidOn
}

func (t *EddystoneTracker) TrackingURL() bool {
	t.ops.Lock()
	defer t.ops.Unlock()
	return t.urlOn
}

// Ingest hands an advertisement to the tracker. It reports whether the
// advertisement was queued.
func (t *EddystoneTracker) Ingest(a beacon.Advertisement) bool {
	return t.cycle.ingest(a)
}

// UIDs renders the UID snapshot, nearest first.
func (t *EddystoneTracker) UIDs() []Record {
	return render(t.uids.Snapshot(), UIDRecord)
}

// URLs renders the URL snapshot, nearest first.
func (t *EddystoneTracker) URLs() []Record {
	return render(t.urls.Snapshot(), URLRecord)
}

// TrackedUIDs and TrackedURLs return the snapshot entries.
func (t *EddystoneTracker) TrackedUIDs() []registry.TrackedBeacon { return t.uids.Snapshot() }
func (t *EddystoneTracker) TrackedURLs() []registry.TrackedBeacon { return t.urls.Snapshot() }

// UIDAt returns the UID beacon at a 1-based position. An out-of-range
// position also stops UID tracking when StopOnBadPosition is set.
func (t *EddystoneTracker) UIDAt(position int) (Record, error) {
	return t.at(t.uids, position, UIDRecord, t.StopUID)
}

// URLAt returns the URL beacon at a 1-based position. An out-of-range
// position also stops URL tracking when StopOnBadPosition is set.
func (t *EddystoneTracker) URLAt(position int) (Record, error) {
	return t.at(t.urls, position, URLRecord, t.StopURL)
}

func (t *EddystoneTracker) at(reg *registry.Registry, position int, fn func(registry.TrackedBeacon) Record, stop func() error) (Record, error) {
	if t.err != nil {
		return nil, t.err
	}
	b, err := reg.At(position)
	if err != nil {
		if errors.Is(err, registry.ErrPositionOutOfRange) && t.opts.StopOnBadPosition {
			monitoring.Logf("%s: %v; stopping tracking", sourceEddystone, err)
			if serr := stop(); serr != nil {
				monitoring.Logf("%s: stop tracking: %v", sourceEddystone, serr)
			}
		}
		return nil, err
	}
	return fn(b), nil
}

func (t *EddystoneTracker) handle(a beacon.Advertisement, now time.Time) {
	if f, ok := beacon.Decode(beacon.KindEddystoneTLM, a.Payload); ok {
		tlm := f.(beacon.EddystoneTLM)
		if t.uidOn {
			t.uids.AttachTelemetry(a.Device, tlm, a.RSSI, now)
		}
		if t.urlOn {
			t.urls.AttachTelemetry(a.Device, tlm, a.RSSI, now)
		}
	}

	if t.uidOn {
		if f, ok := beacon.Decode(beacon.KindEddystoneUID, a.Payload); ok && t.uidFilter.Match(f.(beacon.EddystoneUID)) {
			t.emit(t.uids, t.uids.Observe(a.Device, f, a.RSSI, now), now)
		}
	}
	if t.urlOn {
		if f, ok := beacon.Decode(beacon.KindEddystoneURL, a.Payload); ok {
			t.emit(t.urls, t.urls.Observe(a.Device, f, a.RSSI, now), now)
		}
	}
}

func (t *EddystoneTracker) tick(now time.Time) {
	t.emit(t.uids, t.uids.Tick(now), now)
	t.emit(t.urls, t.urls.Tick(now), now)
}

func (t *EddystoneTracker) flush(now time.Time) {
	if t.uidOn && t.uids.Len() > 0 {
		t.publishUIDs(now)
	}
	if t.urlOn && t.urls.Len() > 0 {
		t.publishURLs(now)
	}
}

func (t *EddystoneTracker) emit(reg *registry.Registry, events []registry.Event, now time.Time) {
	for _, ev := range events {
		if ev != registry.Changed {
			continue
		}
		if reg == t.uids {
			t.publishUIDs(now)
		} else {
			t.publishURLs(now)
		}
	}
}

func (t *EddystoneTracker) publishUIDs(now time.Time) {
	t.pub.Publish(Notification{Kind: EddystoneUIDFound, Source: sourceEddystoneUID, Beacons: t.UIDs(), At: now})
}

func (t *EddystoneTracker) publishURLs(now time.Time) {
	t.pub.Publish(Notification{Kind: EddystoneURLFound, Source: sourceEddystoneURL, Beacons: t.URLs(), At: now})
}
