package tracking

import (
	"strconv"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/registry"
)

// Field is one labeled value of a rendered beacon. Nested telemetry is
// carried in Fields with an empty Value.
type Field struct {
	Label  string  `json:"label"`
	Value  string  `json:"value,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// Record is a beacon rendered as ordered labeled fields.
type Record []Field

// Get returns the value of the first field with the given label.
func (r Record) Get(label string) (string, bool) {
	for _, f := range r {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// IBeaconRecord renders an iBeacon entry.
func IBeaconRecord(b registry.TrackedBeacon) Record {
	f, _ := b.Frame.(beacon.IBeacon)
	acc := proximity.Accuracy(b.LastRSSI, int(f.TxPower))
	return Record{
		{Label: "UUID", Value: f.UUID.String()},
		{Label: "Major", Value: itoa(int(f.Major))},
		{Label: "Minor", Value: itoa(int(f.Minor))},
		{Label: "Tx Power", Value: itoa(int(f.TxPower))},
		{Label: "RSSI", Value: itoa(b.LastRSSI)},
		{Label: "Accuracy", Value: ftoa(acc)},
		{Label: "Distance", Value: proximity.Classify(acc).String()},
	}
}

// UIDRecord renders an Eddystone-UID entry, with telemetry when attached.
func UIDRecord(b registry.TrackedBeacon) Record {
	f, _ := b.Frame.(beacon.EddystoneUID)
	r := Record{
		{Label: "Namespace", Value: f.NamespaceHex()},
		{Label: "Instance", Value: f.InstanceHex()},
		{Label: "Beacon ID", Value: f.BeaconID()},
		{Label: "TX Power", Value: itoa(int(f.TxPower))},
		{Label: "RSSI", Value: itoa(b.LastRSSI)},
		{Label: "Distance", Value: ftoa(proximity.EddystoneDistance(b.LastRSSI, int(f.TxPower)))},
	}
	if b.Telemetry != nil {
		r = append(r, TLMField(*b.Telemetry))
	}
	return r
}

// URLRecord renders an Eddystone-URL entry, with telemetry when attached.
func URLRecord(b registry.TrackedBeacon) Record {
	f, _ := b.Frame.(beacon.EddystoneURL)
	r := Record{
		{Label: "URL", Value: f.URL},
		{Label: "TX Power", Value: itoa(int(f.TxPower))},
		{Label: "RSSI", Value: itoa(b.LastRSSI)},
		{Label: "Distance", Value: ftoa(proximity.EddystoneDistance(b.LastRSSI, int(f.TxPower)))},
	}
	if b.Telemetry != nil {
		r = append(r, TLMField(*b.Telemetry))
	}
	return r
}

// TLMField renders telemetry as a nested field.
func TLMField(t beacon.EddystoneTLM) Field {
	return Field{
		Label: "TLM",
		Fields: []Field{
			{Label: "Version", Value: itoa(int(t.Version))},
			{Label: "Battery Voltage", Value: itoa(int(t.BatteryMillivolts))},
			{Label: "Temperature", Value: ftoa(t.TemperatureCelsius)},
			{Label: "Advertising PDU Count", Value: strconv.FormatUint(uint64(t.AdvertisingPDUCount), 10)},
			{Label: "Time Since Power On", Value: strconv.FormatUint(uint64(t.SecondsSincePowerOn), 10)},
		},
	}
}

func render(snapshot []registry.TrackedBeacon, fn func(registry.TrackedBeacon) Record) []Record {
	out := make([]Record, len(snapshot))
	for i, b := range snapshot {
		out[i] = fn(b)
	}
	return out
}
