package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"mzigo/internal/delivery"
	"mzigo/internal/delivery/feed"
	"mzigo/internal/delivery/fsm"
	"mzigo/internal/delivery/notify"
)

const (
	defaultNearbyRadius = 3000
	maxNearbyRadius     = 20000
)

func deliveryID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(":id"))
}

func writeTrackerError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	case errors.Is(err, fsm.ErrInvalidTransition),
		errors.Is(err, fsm.ErrNotTrackable),
		errors.Is(err, delivery.ErrNotDelivered),
		errors.Is(err, delivery.ErrAlreadyRated),
		errors.Is(err, delivery.ErrFeedNotLive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fsm.ErrInvalidPosition), errors.Is(err, feed.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		return false
	}
	return true
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.deps.Tracker.Snapshot(deliveryID(r))
	if !ok {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelDelivery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	id := deliveryID(r)
	if err := s.deps.Tracker.Cancel(id, strings.TrimSpace(body.Reason)); err != nil {
		if !writeTrackerError(w, err) {
			s.deps.Logger.Errorf("cancel delivery %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	snap, _ := s.deps.Tracker.Snapshot(id)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRateDelivery(w http.ResponseWriter, r *http.Request) {
	values, err := decodeFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := deliveryID(r)
	rating, err := s.deps.Tracker.Rate(id, values)
	if err != nil {
		if writeTrackerError(w, err) || writeWizardError(w, err) {
			return
		}
		s.deps.Logger.Errorf("rate delivery %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

// handleDeliveryEvent accepts driver-side events in the feed wire format.
func (s *Server) handleDeliveryEvent(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := feed.DecodeEvent(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := deliveryID(r)
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	if err := s.deps.Tracker.Publish(ctx, id, ev); err != nil {
		if !writeTrackerError(w, err) {
			s.deps.Logger.Errorf("publish event to %s: %v", id, err)
			writeError(w, http.StatusBadGateway, "event feed unavailable")
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Devices == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications are disabled")
		return
	}
	id := deliveryID(r)
	if _, err := s.deps.Tracker.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	var dev notify.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(dev.Token) == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	s.deps.Devices.Register(id, dev)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.deps.Nearby == nil {
		writeError(w, http.StatusServiceUnavailable, "driver positions are not stored")
		return
	}
	lat, lng, err := parseCoords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	radius := float64(defaultNearbyRadius)
	if r.URL.Query().Get("radius") != "" {
		radius, err = parseFloatParam(r, "radius")
		if err != nil || radius <= 0 {
			writeError(w, http.StatusBadRequest, "invalid radius")
			return
		}
		if radius > maxNearbyRadius {
			radius = maxNearbyRadius
		}
	}
	limit, err := parseLimit(r, 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	drivers, err := s.deps.Nearby.Nearby(ctx, lat, lng, radius, limit)
	if err != nil {
		s.deps.Logger.Errorf("nearby drivers: %v", err)
		writeError(w, http.StatusBadGateway, "position store unavailable")
		return
	}
	type item struct {
		DeliveryID string  `json:"delivery_id"`
		Distance   float64 `json:"distance_m"`
		Lat        float64 `json:"lat"`
		Lng        float64 `json:"lng"`
	}
	out := make([]item, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, item{DeliveryID: d.DeliveryID, Distance: d.Dist, Lat: d.Lat, Lng: d.Lng})
	}
	writeJSON(w, http.StatusOK, out)
}
