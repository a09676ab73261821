package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/httputil"
	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/registry"
)

// beaconStats is one row of the beacons.json debug listing.
type beaconStats struct {
	Kind       string    `json:"kind"`
	Identity   string    `json:"identity"`
	Device     string    `json:"device"`
	State      string    `json:"state"`
	RSSI       int       `json:"rssi"`
	TxPower    int       `json:"tx_power"`
	Distance   float64   `json:"distance"`
	Proximity  string    `json:"proximity,omitempty"`
	MeanRSSI   *float64  `json:"mean_rssi,omitempty"`
	StddevRSSI *float64  `json:"stddev_rssi,omitempty"`
	Samples    int       `json:"samples"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

func statsOf(b registry.TrackedBeacon) beaconStats {
	history := b.History()
	st := beaconStats{
		Kind:      b.Identity.Kind.String(),
		Identity:  b.Identity.String(),
		Device:    b.Device,
		State:     b.State().String(),
		RSSI:      b.LastRSSI,
		TxPower:   b.TxPower(),
		Samples:   len(history),
		FirstSeen: b.FirstSeen,
		LastSeen:  b.LastSeen,
	}
	if b.Identity.Kind == beacon.KindIBeacon {
		st.Distance = proximity.Accuracy(b.LastRSSI, st.TxPower)
		st.Proximity = proximity.Classify(st.Distance).String()
	} else {
		st.Distance = proximity.EddystoneDistance(b.LastRSSI, st.TxPower)
	}
	if mean, sd, ok := proximity.SignalStats(history); ok {
		st.MeanRSSI, st.StddevRSSI = &mean, &sd
	}
	return st
}

func (s *Server) allStats() []beaconStats {
	var tracked []registry.TrackedBeacon
	tracked = append(tracked, s.ibeacon.Tracked()...)
	tracked = append(tracked, s.eddystone.TrackedUIDs()...)
	tracked = append(tracked, s.eddystone.TrackedURLs()...)

	out := make([]beaconStats, 0, len(tracked))
	for _, b := range tracked {
		out = append(out, statsOf(b))
	}
	return out
}

// AttachAdminRoutes mounts the debug pages under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("beacons.json", "tracked beacons with signal statistics", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.allStats())
	})
	debug.HandleFunc("beacons-chart", "estimated distance of tracked beacons", s.handleBeaconsChart)
}

// handleBeaconsChart renders a bar chart of estimated distances and mean
// RSSI, one bar per tracked beacon.
func (s *Server) handleBeaconsChart(w http.ResponseWriter, r *http.Request) {
	stats := s.allStats()

	x := make([]string, 0, len(stats))
	dist := make([]opts.BarData, 0, len(stats))
	rssi := make([]opts.BarData, 0, len(stats))
	for _, st := range stats {
		x = append(x, fmt.Sprintf("%s %s", st.Kind, st.Identity))
		dist = append(dist, opts.BarData{Value: st.Distance})
		mean := float64(st.RSSI)
		if st.MeanRSSI != nil {
			mean = *st.MeanRSSI
		}
		rssi = append(rssi, opts.BarData{Value: mean})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Beacons", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracked beacons", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("distance (m)", dist,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("mean rssi (dBm)", rssi)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
