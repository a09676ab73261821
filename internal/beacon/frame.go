// Package beacon decodes iBeacon and Eddystone frames out of raw BLE
// advertisements.
//
// Frames form a closed set: IBeacon, EddystoneUID, EddystoneURL and
// EddystoneTLM are the only implementations of Frame. Decoding never fails
// with an error; malformed or unrelated advertisements simply produce no
// frame.
package beacon

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a frame variant.
type Kind int

const (
	KindIBeacon Kind = iota
	KindEddystoneUID
	KindEddystoneURL
	KindEddystoneTLM
)

func (k Kind) String() string {
	switch k {
	case KindIBeacon:
		return "ibeacon"
	case KindEddystoneUID:
		return "eddystone-uid"
	case KindEddystoneURL:
		return "eddystone-url"
	case KindEddystoneTLM:
		return "eddystone-tlm"
	default:
		return "unknown"
	}
}

// Frame is a decoded beacon frame.
type Frame interface {
	Kind() Kind
	frame()
}

// IBeacon is an Apple iBeacon frame.
type IBeacon struct {
	UUID    uuid.UUID
	Major   uint16
	Minor   uint16
	TxPower int8 // calibrated RSSI at 1 m
}

// EddystoneUID is an Eddystone-UID frame.
type EddystoneUID struct {
	Namespace [10]byte
	Instance  [6]byte
	TxPower   int8 // calibrated RSSI at 0 m
}

// EddystoneURL is an Eddystone-URL frame with the URL already expanded.
type EddystoneURL struct {
	URL     string
	TxPower int8
}

// EddystoneTLM is an unencrypted Eddystone telemetry frame. It carries no
// identity of its own and only augments UID/URL beacons sent by the same
// device.
type EddystoneTLM struct {
	Version             uint8
	BatteryMillivolts   uint16
	TemperatureCelsius  float64 // decoded from signed 8.8 fixed point
	AdvertisingPDUCount uint32
	SecondsSincePowerOn uint32
}

func (IBeacon) Kind() Kind      { return KindIBeacon }
func (EddystoneUID) Kind() Kind { return KindEddystoneUID }
func (EddystoneURL) Kind() Kind { return KindEddystoneURL }
func (EddystoneTLM) Kind() Kind { return KindEddystoneTLM }

func (IBeacon) frame()      {}
func (EddystoneUID) frame() {}
func (EddystoneURL) frame() {}
func (EddystoneTLM) frame() {}

// NamespaceHex returns the namespace as upper-case hex.
func (f EddystoneUID) NamespaceHex() string {
	return strings.ToUpper(hex.EncodeToString(f.Namespace[:]))
}

// InstanceHex returns the instance as upper-case hex.
func (f EddystoneUID) InstanceHex() string {
	return strings.ToUpper(hex.EncodeToString(f.Instance[:]))
}

// BeaconID is the 16-byte namespace+instance pair as upper-case hex.
func (f EddystoneUID) BeaconID() string {
	return f.NamespaceHex() + f.InstanceHex()
}

// TxPowerOf returns the calibrated tx power carried by f. TLM frames carry
// none and report 0.
func TxPowerOf(f Frame) int {
	switch v := f.(type) {
	case IBeacon:
		return int(v.TxPower)
	case EddystoneUID:
		return int(v.TxPower)
	case EddystoneURL:
		return int(v.TxPower)
	case EddystoneTLM:
		return 0
	}
	return 0
}

// Advertisement is one advertising report as delivered by the radio layer.
// It is transient: decoded and dropped on receipt.
type Advertisement struct {
	Payload  []byte
	RSSI     int
	Device   string // opaque device identity, usually the advertiser address
	Received time.Time
}
