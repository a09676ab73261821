package tracking

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/registry"
)

func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	id1, c1 := h.Subscribe()
	_, c2 := h.Subscribe()

	h.Publish(Notification{Kind: RegionEntered})
	assert.Equal(t, RegionEntered, (<-c1).Kind)
	assert.Equal(t, RegionEntered, (<-c2).Kind)

	h.Unsubscribe(id1)
	_, ok := <-c1
	assert.False(t, ok, "unsubscribe closes the channel")

	h.Close()
	_, ok = <-c2
	assert.False(t, ok)

	_, c3 := h.Subscribe()
	_, ok = <-c3
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, c := h.Subscribe()
	for i := 0; i < hubBuffer*2; i++ {
		h.Publish(Notification{Kind: BeaconsFound})
	}
	assert.Len(t, c, hubBuffer)
}

func TestNotification_JSON(t *testing.T) {
	n := Notification{
		Kind:    EddystoneURLFound,
		Source:  "eddystone-url",
		Beacons: []Record{{{Label: "URL", Value: "https://x.org"}}},
		At:      t0,
	}
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"EddystoneURLFound"`)

	var back Notification
	require.NoError(t, json.Unmarshal(b, &back))
	if diff := cmp.Diff(n, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("Nope")))
}

func TestIBeaconRecord_Labels(t *testing.T) {
	b := registry.TrackedBeacon{
		Frame:    beacon.IBeacon{UUID: regionUUID, Major: 1, Minor: 2, TxPower: -59},
		LastRSSI: -59,
	}
	r := IBeaconRecord(b)

	var labels []string
	for _, f := range r {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"UUID", "Major", "Minor", "Tx Power", "RSSI", "Accuracy", "Distance"}, labels)

	want := Record{
		{Label: "UUID", Value: "e2c56db5-dffb-48d2-b060-d0f5a71096e0"},
		{Label: "Major", Value: "1"},
		{Label: "Minor", Value: "2"},
		{Label: "Tx Power", Value: "-59"},
		{Label: "RSSI", Value: "-59"},
		{Label: "Distance", Value: "Near"},
	}
	acc, err := strconv.ParseFloat(r[5].Value, 64)
	require.NoError(t, err)
	assert.InDelta(t, 1.01076, acc, 1e-9)

	got := append(append(Record{}, r[:5]...), r[6])
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestUIDRecord_Labels(t *testing.T) {
	b := registry.TrackedBeacon{
		Frame: beacon.EddystoneUID{
			Namespace: [10]byte{0xED, 0xD1, 0xEB, 0xEA, 0xC0, 0x4E, 0x5D, 0xEF, 0xA0, 0x17},
			Instance:  [6]byte{0, 0, 0, 0, 0, 1},
			TxPower:   -20,
		},
		LastRSSI: -61,
	}
	r := UIDRecord(b)
	require.Len(t, r, 6)

	want := []string{"Namespace", "Instance", "Beacon ID", "TX Power", "RSSI", "Distance"}
	for i, l := range want {
		assert.Equal(t, l, r[i].Label)
	}
	id, _ := r.Get("Beacon ID")
	assert.Equal(t, "EDD1EBEAC04E5DEFA017000000000001", id)
	d, _ := r.Get("Distance")
	assert.Equal(t, "1", d)

	tlm := beacon.EddystoneTLM{Version: 0, BatteryMillivolts: 2900}
	b.Telemetry = &tlm
	r = UIDRecord(b)
	require.Len(t, r, 7)
	assert.Equal(t, "TLM", r[6].Label)
	assert.Equal(t, []string{"Version", "Battery Voltage", "Temperature", "Advertising PDU Count", "Time Since Power On"},
		[]string{r[6].Fields[0].Label, r[6].Fields[1].Label, r[6].Fields[2].Label, r[6].Fields[3].Label, r[6].Fields[4].Label})
}
