// Package api exposes the trackers over HTTP.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/registry"
	"github.com/banshee-data/proximity.report/internal/tracking"
)

// ANSI escape codes used by LoggingMiddleware.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// IBeaconTracker is the part of tracking.IBeaconTracker the server uses.
type IBeaconTracker interface {
	Start(beacon.IBeaconFilter) error
	Stop() error
	Scanning() bool
	Beacons() []tracking.Record
	Tracked() []registry.TrackedBeacon
	BeaconAt(position int) (tracking.Record, error)
}

// EddystoneTracker is the part of tracking.EddystoneTracker the server uses.
type EddystoneTracker interface {
	StartUID(beacon.UIDFilter) error
	StartURL() error
	StopUID() error
	StopURL() error
	StopAll() error
	Scanning() bool
	TrackingUID() bool
	TrackingURL() bool
	UIDs() []tracking.Record
	URLs() []tracking.Record
	TrackedUIDs() []registry.TrackedBeacon
	TrackedURLs() []registry.TrackedBeacon
	UIDAt(position int) (tracking.Record, error)
	URLAt(position int) (tracking.Record, error)
}

type Server struct {
	ibeacon   IBeaconTracker
	eddystone EddystoneTracker
	hub       *tracking.Hub

	// keepAlive is the interval of SSE comment frames.
	keepAlive time.Duration
}

func NewServer(ib IBeaconTracker, ed EddystoneTracker, hub *tracking.Hub) *Server {
	return &Server{
		ibeacon:   ib,
		eddystone: ed,
		hub:       hub,
		keepAlive: 15 * time.Second,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ibeacon/start", s.startIBeacon)
	mux.HandleFunc("POST /ibeacon/stop", s.stopIBeacon)
	mux.HandleFunc("GET /ibeacon/beacons", s.listIBeacons)
	mux.HandleFunc("GET /ibeacon/beacons/{position}", s.showIBeacon)

	mux.HandleFunc("POST /eddystone/uid/start", s.startUID)
	mux.HandleFunc("POST /eddystone/url/start", s.startURL)
	mux.HandleFunc("POST /eddystone/uid/stop", s.stopUID)
	mux.HandleFunc("POST /eddystone/url/stop", s.stopURL)
	mux.HandleFunc("POST /eddystone/stop", s.stopEddystone)
	mux.HandleFunc("GET /eddystone/uids", s.listUIDs)
	mux.HandleFunc("GET /eddystone/urls", s.listURLs)
	mux.HandleFunc("GET /eddystone/uids/{position}", s.showUID)
	mux.HandleFunc("GET /eddystone/urls/{position}", s.showURL)

	mux.HandleFunc("GET /status", s.showStatus)
	mux.HandleFunc("GET /events", s.streamEvents)

	s.AttachAdminRoutes(mux)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
