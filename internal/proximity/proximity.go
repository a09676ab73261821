// Package proximity converts received signal strength into distance
// estimates.
//
// Two different "no signal" sentinels are in play and must not be merged:
// NoSignalRSSI (-1) is what the registry writes into a stale beacon and what
// gates the Eddystone distance formula, while UnknownRSSI (0) is what gates
// the iBeacon accuracy formula.
package proximity

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// NoSignalRSSI marks a beacon that has not been heard for several aging
	// periods.
	NoSignalRSSI = -1
	// UnknownRSSI is the reading for which no accuracy can be computed.
	UnknownRSSI = 0

	UnknownAccuracy = -1.0
	UnknownDistance = -1.0
)

// Proximity is a coarse distance bucket.
type Proximity int

const (
	Unknown Proximity = iota
	Immediate
	Near
	Far
)

func (p Proximity) String() string {
	switch p {
	case Immediate:
		return "Immediate"
	case Near:
		return "Near"
	case Far:
		return "Far"
	default:
		return "Unknown"
	}
}

// Accuracy estimates the distance in metres to an iBeacon from the received
// rssi and the beacon's calibrated tx power at 1 m.
func Accuracy(rssi, txPower int) float64 {
	if rssi == UnknownRSSI {
		return UnknownAccuracy
	}
	ratio := float64(rssi) / float64(txPower)
	if ratio < 1.0 {
		return math.Pow(ratio, 10)
	}
	return 0.89976*math.Pow(ratio, 7.7095) + 0.111
}

// Classify buckets an accuracy value.
func Classify(accuracy float64) Proximity {
	switch {
	case accuracy == UnknownAccuracy:
		return Unknown
	case accuracy < 1:
		return Immediate
	case accuracy < 3:
		return Near
	default:
		return Far
	}
}

// EddystoneDistance estimates the distance in metres to an Eddystone beacon
// from the received rssi and the tx power calibrated at 0 m.
func EddystoneDistance(rssi, txPower int) float64 {
	if rssi == NoSignalRSSI {
		return UnknownDistance
	}
	return math.Pow(10, float64(txPower-rssi-41)/20.0)
}

// SignalStats returns the mean and standard deviation of recent rssi
// samples, skipping NoSignalRSSI entries. ok is false when nothing usable
// remains.
func SignalStats(samples []int) (mean, stddev float64, ok bool) {
	x := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s == NoSignalRSSI {
			continue
		}
		x = append(x, float64(s))
	}
	switch len(x) {
	case 0:
		return 0, 0, false
	case 1:
		return x[0], 0, true
	}
	mean, stddev = stat.MeanStdDev(x, nil)
	return mean, stddev, true
}
