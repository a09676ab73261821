package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/scan"
	"github.com/banshee-data/proximity.report/internal/timeutil"
	"github.com/banshee-data/proximity.report/internal/tracking"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var regionUUID = uuid.MustParse("e2c56db5-dffb-48d2-b060-d0f5a71096e0")

type idleSource struct{}

func (idleSource) Run(ctx context.Context, _ func(beacon.Advertisement)) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	bus   *scan.Bus
	hub   *tracking.Hub
	ib    *tracking.IBeaconTracker
	ed    *tracking.EddystoneTracker
	mux   *http.ServeMux
	clock *timeutil.MockClock
}

func newFixture(t *testing.T, sources ...scan.Source) *fixture {
	t.Helper()
	f := &fixture{bus: scan.NewBus(sources...), hub: tracking.NewHub(), clock: timeutil.NewMockClock(t0)}
	opts := tracking.DefaultOptions()
	opts.Clock = f.clock

	ibGate, edGate := f.bus.Gate("ibeacon"), f.bus.Gate("eddystone")
	f.ib = tracking.NewIBeaconTracker(ibGate, f.hub, opts)
	f.ed = tracking.NewEddystoneTracker(edGate, f.hub, opts)
	ibGate.Connect(f.ib.Ingest)
	edGate.Connect(f.ed.Ingest)

	f.mux = NewServer(f.ib, f.ed, f.hub).ServeMux()
	t.Cleanup(func() {
		f.ib.Stop()
		f.ed.StopAll()
		f.hub.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeRecords(t *testing.T, w *httptest.ResponseRecorder) []tracking.Record {
	t.Helper()
	var out []tracking.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func ibeaconAdv(device string, minor uint16, rssi int) beacon.Advertisement {
	return beacon.Advertisement{
		Payload: beacon.EncodeIBeacon(beacon.IBeacon{UUID: regionUUID, Major: 1, Minor: minor, TxPower: -59}),
		RSSI:    rssi,
		Device:  device,
	}
}

func TestIBeaconRoutes(t *testing.T) {
	f := newFixture(t, idleSource{})

	w := f.do(t, http.MethodGet, "/ibeacon/beacons", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodPost, "/ibeacon/start", `{"uuid":"`+regionUUID.String()+`","major":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"scanning":true}`, w.Body.String())

	f.bus.Deliver(ibeaconAdv("a", 1, -80))
	f.bus.Deliver(ibeaconAdv("b", 2, -55))
	require.Eventually(t, func() bool { return len(f.ib.Tracked()) == 2 }, time.Second, time.Millisecond)

	recs := decodeRecords(t, f.do(t, http.MethodGet, "/ibeacon/beacons", ""))
	require.Len(t, recs, 2)
	minor, _ := recs[0].Get("Minor")
	assert.Equal(t, "2", minor, "nearest first")

	w = f.do(t, http.MethodGet, "/ibeacon/beacons/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec tracking.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	minor, _ = rec.Get("Minor")
	assert.Equal(t, "1", minor)

	w = f.do(t, http.MethodGet, "/ibeacon/beacons/x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/ibeacon/beacons/3", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, f.ib.Scanning(), "a bad position stops tracking")

	w = f.do(t, http.MethodPost, "/ibeacon/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scanning":false}`, w.Body.String())
}

func TestIBeaconStart_BadRequests(t *testing.T) {
	f := newFixture(t, idleSource{})
	for _, body := range []string{
		`{"uuid":"not-a-uuid"}`,
		`{"uuid":"` + regionUUID.String() + `","major":70000}`,
		`{"colour":"blue"}`,
		`{`,
	} {
		w := f.do(t, http.MethodPost, "/ibeacon/start", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.False(t, f.ib.Scanning())

	w := f.do(t, http.MethodGet, "/ibeacon/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNoAdapter(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/ibeacon/start", "/eddystone/url/start", "/eddystone/stop"} {
		w := f.do(t, http.MethodPost, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}
}

func TestEddystoneRoutes(t *testing.T) {
	f := newFixture(t, idleSource{})

	w := f.do(t, http.MethodPost, "/eddystone/uid/start", `{"namespace":"EDD1EBEAC04E5DEFA017"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodPost, "/eddystone/url/start", "")
	require.Equal(t, http.StatusOK, w.Code)

	uid := beacon.EncodeEddystoneUID(beacon.EddystoneUID{
		Namespace: [10]byte{0xED, 0xD1, 0xEB, 0xEA, 0xC0, 0x4E, 0x5D, 0xEF, 0xA0, 0x17},
		Instance:  [6]byte{0, 0, 0, 0, 0, 1},
		TxPower:   -20,
	})
	url, err := beacon.EncodeEddystoneURL(beacon.EddystoneURL{URL: "https://example.com/", TxPower: -20})
	require.NoError(t, err)
	f.bus.Deliver(beacon.Advertisement{Payload: uid, RSSI: -60, Device: "aa"})
	f.bus.Deliver(beacon.Advertisement{Payload: url, RSSI: -70, Device: "bb"})
	require.Eventually(t, func() bool {
		return len(f.ed.TrackedUIDs()) == 1 && len(f.ed.TrackedURLs()) == 1
	}, time.Second, time.Millisecond)

	w = f.do(t, http.MethodGet, "/status", "")
	assert.JSONEq(t, `{"ibeacon":false,"eddystone":{"scanning":true,"uid":true,"url":true}}`, w.Body.String())

	recs := decodeRecords(t, f.do(t, http.MethodGet, "/eddystone/uids", ""))
	require.Len(t, recs, 1)
	id, _ := recs[0].Get("Beacon ID")
	assert.Equal(t, "EDD1EBEAC04E5DEFA017000000000001", id)

	w = f.do(t, http.MethodGet, "/eddystone/urls/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://example.com/")

	w = f.do(t, http.MethodPost, "/eddystone/uid/stop", "")
	assert.JSONEq(t, `{"scanning":true}`, w.Body.String())
	assert.JSONEq(t, `[]`, f.do(t, http.MethodGet, "/eddystone/uids", "").Body.String())

	w = f.do(t, http.MethodGet, "/eddystone/urls/2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, f.ed.Scanning())

	w = f.do(t, http.MethodPost, "/eddystone/url/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/eddystone/uids/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, idleSource{})
	require.NoError(t, f.ib.Start(beacon.IBeaconFilter{Major: beacon.Unset, Minor: beacon.Unset}))
	f.bus.Deliver(ibeaconAdv("a", 1, -59))
	require.Eventually(t, func() bool { return len(f.ib.Tracked()) == 1 }, time.Second, time.Millisecond)

	w := f.do(t, http.MethodGet, "/debug/beacons.json", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats []beaconStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "ibeacon", stats[0].Kind)
	assert.Equal(t, "Near", stats[0].Proximity)
	require.NotNil(t, stats[0].MeanRSSI)
	assert.InDelta(t, -59, *stats[0].MeanRSSI, 1e-9)

	w = f.do(t, http.MethodGet, "/debug/beacons-chart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "distance (m)")
}

func TestEvents(t *testing.T) {
	f := newFixture(t, idleSource{})
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, ": ping", sc.Text())

	// the subscription is registered before the first ping is flushed
	f.hub.Publish(tracking.Notification{Kind: tracking.RegionEntered, Source: "ibeacon", At: t0})

	var lines []string
	for sc.Scan() {
		if sc.Text() == "" && len(lines) > 0 {
			break
		}
		if sc.Text() != "" {
			lines = append(lines, sc.Text())
		}
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: EnteredRegion", lines[0])
	assert.Contains(t, lines[1], `"kind":"EnteredRegion"`)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, statusCodeColor(http.StatusTeapot), "418")
	assert.Equal(t, "100", statusCodeColor(100))
}
