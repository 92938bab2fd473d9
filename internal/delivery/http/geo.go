package http

import (
	"net/http"
	"strconv"
	"strings"

	"mzigo/internal/geo"
)

func (s *Server) handleGeoSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Geocoder == nil {
		writeGeoError(w, geo.ErrUnavailable)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q")
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	loc, err := s.deps.Geocoder.SearchByText(ctx, q)
	if err != nil {
		writeGeoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleGeoReverse(w http.ResponseWriter, r *http.Request) {
	if s.deps.Geocoder == nil {
		writeGeoError(w, geo.ErrUnavailable)
		return
	}
	lat, lng, err := parseCoords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	loc, err := s.deps.Geocoder.ResolveByCoordinates(ctx, lat, lng)
	if err != nil {
		writeGeoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// handleGeoDevice resolves the position the app read from the device. The
// app passes granted=false when the user refused the permission prompt.
func (s *Server) handleGeoDevice(w http.ResponseWriter, r *http.Request) {
	granted := true
	if v := r.URL.Query().Get("granted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid granted")
			return
		}
		granted = b
	}
	dev := geo.ReportedDevice{Granted: granted}
	if granted {
		lat, err := parseFloatParam(r, "lat")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lng, err := parseFloatParam(r, "lng")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		dev.Lat, dev.Lng = lat, lng
	}

	picker := &geo.Picker{Geocoder: s.deps.Geocoder, Device: dev}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	loc, err := picker.CurrentDevicePosition(ctx)
	if err != nil {
		writeGeoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}
