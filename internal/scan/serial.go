package scan

import (
	"context"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/serialmux"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// SerialSource reads advertisement reports from a scanner dongle. The
// caller runs the mux's Monitor loop.
type SerialSource struct {
	mux   serialmux.SerialMuxInterface
	clock timeutil.Clock
}

func NewSerialSource(mux serialmux.SerialMuxInterface, clock timeutil.Clock) *SerialSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialSource{mux: mux, clock: clock}
}

func (s *SerialSource) Run(ctx context.Context, deliver func(beacon.Advertisement)) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			s.handle(line, deliver)
		}
	}
}

func (s *SerialSource) handle(line string, deliver func(beacon.Advertisement)) {
	switch serialmux.ClassifyPayload(line) {
	case serialmux.EventTypeAdvertisement:
		a, err := ParseLine(line)
		if err != nil {
			monitoring.Debugf("serial: %v", err)
			return
		}
		a.Received = s.clock.Now()
		deliver(a)
	case serialmux.EventTypeStatus:
		if err := serialmux.HandleStatus(line); err != nil {
			monitoring.Logf("serial: %v", err)
		}
	default:
		monitoring.Debugf("serial: unknown line %q", line)
	}
}

func (s *SerialSource) StartScan() error {
	return s.mux.SendCommand(serialmux.CommandScanOn)
}

func (s *SerialSource) StopScan() error {
	return s.mux.SendCommand(serialmux.CommandScanOff)
}
