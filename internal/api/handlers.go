package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/httputil"
	"github.com/banshee-data/proximity.report/internal/registry"
	"github.com/banshee-data/proximity.report/internal/tracking"
)

// maxBodyBytes caps start request bodies.
const maxBodyBytes = 4 << 10

type ibeaconStartRequest struct {
	UUID  string `json:"uuid,omitempty"`
	Major *int   `json:"major,omitempty"`
	Minor *int   `json:"minor,omitempty"`
}

type uidStartRequest struct {
	Namespace string `json:"namespace,omitempty"`
	Instance  string `json:"instance,omitempty"`
}

type scanningResponse struct {
	Scanning bool `json:"scanning"`
}

type statusResponse struct {
	IBeacon   bool `json:"ibeacon"`
	Eddystone struct {
		Scanning bool `json:"scanning"`
		UID      bool `json:"uid"`
		URL      bool `json:"url"`
	} `json:"eddystone"`
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeTrackingError maps tracker errors onto status codes.
func writeTrackingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracking.ErrNoAdapter):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, registry.ErrPositionOutOfRange):
		httputil.NotFound(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func position(r *http.Request) (int, error) {
	p, err := strconv.Atoi(r.PathValue("position"))
	if err != nil {
		return 0, fmt.Errorf("invalid position %q", r.PathValue("position"))
	}
	return p, nil
}

func intOrUnset(p *int) int {
	if p == nil {
		return beacon.Unset
	}
	return *p
}

func (s *Server) startIBeacon(w http.ResponseWriter, r *http.Request) {
	var req ibeaconStartRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	filter, err := beacon.ParseIBeaconFilter(req.UUID, intOrUnset(req.Major), intOrUnset(req.Minor))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.ibeacon.Start(filter); err != nil {
		writeTrackingError(w, err)
		return
	}
	httputil.WriteJSONOK(w, scanningResponse{Scanning: s.ibeacon.Scanning()})
}

func (s *Server) stopIBeacon(w http.ResponseWriter, r *http.Request) {
	if err := s.ibeacon.Stop(); err != nil {
		writeTrackingError(w, err)
		return
	}
	httputil.WriteJSONOK(w, scanningResponse{Scanning: s.ibeacon.Scanning()})
}

func (s *Server) listIBeacons(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, nonNil(s.ibeacon.Beacons()))
}

func (s *Server) showIBeacon(w http.ResponseWriter, r *http.Request) {
	s.showAt(w, r, s.ibeacon.BeaconAt)
}

func (s *Server) startUID(w http.ResponseWriter, r *http.Request) {
	var req uidStartRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.eddystone.StartUID(beacon.ParseUIDFilter(req.Namespace, req.Instance)); err != nil {
		writeTrackingError(w, err)
		return
	}
	httputil.WriteJSONOK(w, scanningResponse{Scanning: s.eddystone.Scanning()})
}

func (s *Server) startURL(w http.ResponseWriter, r *http.Request) {
	s.eddystoneOp(w, s.eddystone.StartURL)
}

func (s *Server) stopUID(w http.ResponseWriter, r *http.Request) {
	s.eddystoneOp(w, s.eddystone.StopUID)
}

func (s *Server) stopURL(w http.ResponseWriter, r *http.Request) {
	s.eddystoneOp(w, s.eddystone.StopURL)
}

func (s *Server) stopEddystone(w http.ResponseWriter, r *http.Request) {
	s.eddystoneOp(w, s.eddystone.StopAll)
}

func (s *Server) eddystoneOp(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		writeTrackingError(w, err)
		return
	}
	httputil.WriteJSONOK(w, scanningResponse{Scanning: s.eddystone.Scanning()})
}

func (s *Server) listUIDs(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, nonNil(s.eddystone.UIDs()))
}

func (s *Server) listURLs(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, nonNil(s.eddystone.URLs()))
}

func (s *Server) showUID(w http.ResponseWriter, r *http.Request) {
	s.showAt(w, r, s.eddystone.UIDAt)
}

func (s *Server) showURL(w http.ResponseWriter, r *http.Request) {
	s.showAt(w, r, s.eddystone.URLAt)
}

func (s *Server) showAt(w http.ResponseWriter, r *http.Request, at func(int) (tracking.Record, error)) {
	p, err := position(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rec, err := at(p)
	if err != nil {
		writeTrackingError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	resp.IBeacon = s.ibeacon.Scanning()
	resp.Eddystone.Scanning = s.eddystone.Scanning()
	resp.Eddystone.UID = s.eddystone.TrackingUID()
	resp.Eddystone.URL = s.eddystone.TrackingURL()
	httputil.WriteJSONOK(w, resp)
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil(rs []tracking.Record) []tracking.Record {
	if rs == nil {
		return []tracking.Record{}
	}
	return rs
}
