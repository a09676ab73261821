package scan

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// VirtualBeacon is one advertiser emitted by a SimulatedSource.
type VirtualBeacon struct {
	Device string
	Frame  beacon.Frame
	RSSI   int
}

// SimulatedSource emits encoded advertisements for a fixed set of virtual
// beacons once per Interval, with Gaussian noise of Jitter dB on the RSSI.
type SimulatedSource struct {
	Beacons  []VirtualBeacon
	Interval time.Duration
	Jitter   float64
	Seed     uint64
	Clock    timeutil.Clock
}

// DefaultVirtualBeacons returns an iBeacon, an Eddystone-UID beacon and an
// Eddystone-URL beacon that also sends telemetry.
func DefaultVirtualBeacons() []VirtualBeacon {
	return []VirtualBeacon{
		{
			Device: "C0:FF:EE:00:00:01",
			Frame: beacon.IBeacon{
				UUID:    uuid.MustParse("e2c56db5-dffb-48d2-b060-d0f5a71096e0"),
				Major:   1,
				Minor:   1,
				TxPower: -59,
			},
			RSSI: -62,
		},
		{
			Device: "C0:FF:EE:00:00:02",
			Frame: beacon.EddystoneUID{
				Namespace: [10]byte{0xED, 0xD1, 0xEB, 0xEA, 0xC0, 0x4E, 0x5D, 0xEF, 0xA0, 0x17},
				Instance:  [6]byte{0, 0, 0, 0, 0, 1},
				TxPower:   -20,
			},
			RSSI: -75,
		},
		{
			Device: "C0:FF:EE:00:00:03",
			Frame:  beacon.EddystoneURL{URL: "https://example.com/beacon", TxPower: -18},
			RSSI:   -80,
		},
		{
			Device: "C0:FF:EE:00:00:03",
			Frame: beacon.EddystoneTLM{
				BatteryMillivolts:   3000,
				TemperatureCelsius:  21.5,
				AdvertisingPDUCount: 1024,
				SecondsSincePowerOn: 3600,
			},
			RSSI: -80,
		},
	}
}

func (s *SimulatedSource) Run(ctx context.Context, deliver func(beacon.Advertisement)) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	payloads := make([][]byte, len(s.Beacons))
	for i, b := range s.Beacons {
		raw, err := beacon.Encode(b.Frame)
		if err != nil {
			return fmt.Errorf("simulated beacon %s: %w", b.Device, err)
		}
		payloads[i] = raw
	}

	noise := distuv.Normal{Mu: 0, Sigma: s.Jitter, Src: rand.NewPCG(s.Seed, s.Seed^0x9E3779B97F4A7C15)}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			for i, b := range s.Beacons {
				rssi := b.RSSI
				if s.Jitter > 0 {
					rssi += int(math.Round(noise.Rand()))
				}
				if rssi > -1 {
					rssi = -1
				}
				deliver(beacon.Advertisement{Payload: payloads[i], RSSI: rssi, Device: b.Device, Received: now})
			}
		}
	}
}
