package tracking

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var regionUUID = uuid.MustParse("e2c56db5-dffb-48d2-b060-d0f5a71096e0")

type fakeRadio struct {
	mu        sync.Mutex
	enableErr error
	scanErr   error
	starts    int
	stops     int
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) StartScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanErr != nil {
		return r.scanErr
	}
	r.starts++
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRadio) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type recorder struct {
	ch chan Notification
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Notification, 256)}
}

func (r *recorder) Publish(n Notification) { r.ch <- n }

func (r *recorder) next(t *testing.T) Notification {
	t.Helper()
	select {
	case n := <-r.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a notification")
	}
	return Notification{}
}

func (r *recorder) drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-r.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

func testOptions(clock timeutil.Clock) Options {
	return Options{
		Clock:             clock,
		ScanActive:        500 * time.Millisecond,
		ScanSettle:        10 * time.Millisecond,
		AgingPeriod:       time.Second,
		StopOnBadPosition: true,
	}
}

func ibeaconAdv(t *testing.T, device string, minor uint16, rssi int) beacon.Advertisement {
	t.Helper()
	return beacon.Advertisement{
		Payload: beacon.EncodeIBeacon(beacon.IBeacon{UUID: regionUUID, Major: 1, Minor: minor, TxPower: -59}),
		RSSI:    rssi,
		Device:  device,
	}
}

func uidAdv(device string, instance byte, rssi int) beacon.Advertisement {
	return beacon.Advertisement{
		Payload: beacon.EncodeEddystoneUID(beacon.EddystoneUID{
			Namespace: [10]byte{0xED, 0xD1, 0xEB, 0xEA, 0xC0, 0x4E, 0x5D, 0xEF, 0xA0, 0x17},
			Instance:  [6]byte{0, 0, 0, 0, 0, instance},
			TxPower:   -20,
		}),
		RSSI:   rssi,
		Device: device,
	}
}

func urlAdv(t *testing.T, device, url string, rssi int) beacon.Advertisement {
	t.Helper()
	raw, err := beacon.EncodeEddystoneURL(beacon.EddystoneURL{URL: url, TxPower: -20})
	require.NoError(t, err)
	return beacon.Advertisement{Payload: raw, RSSI: rssi, Device: device}
}

func tlmAdv(device string, rssi int) beacon.Advertisement {
	return beacon.Advertisement{
		Payload: beacon.EncodeEddystoneTLM(beacon.EddystoneTLM{
			BatteryMillivolts:   3000,
			TemperatureCelsius:  21.5,
			AdvertisingPDUCount: 42,
			SecondsSincePowerOn: 3600,
		}),
		RSSI:   rssi,
		Device: device,
	}
}

var errNoRadio = errors.New("hci0: no such device")
