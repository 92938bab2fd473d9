package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"mzigo/internal/delivery/dispatch"
)

type offerResponse struct {
	Offer    dispatch.Offer `json:"offer"`
	Delivery interface{}    `json:"delivery,omitempty"`
}

func driverID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(":id"))
}

func (s *Server) dispatcher(w http.ResponseWriter) (*dispatch.Dispatcher, bool) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "driver dispatch is disabled")
		return nil, false
	}
	return s.deps.Dispatcher, true
}

func writeDispatchError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, dispatch.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, "offer not found")
	case errors.Is(err, dispatch.ErrUnknownDriver):
		writeError(w, http.StatusNotFound, "driver not found")
	case errors.Is(err, dispatch.ErrOfferExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, dispatch.ErrOfferClosed),
		errors.Is(err, dispatch.ErrDeliveryTaken),
		errors.Is(err, dispatch.ErrDriverOffline),
		errors.Is(err, dispatch.ErrDriverBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrInvalidPoint):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		return false
	}
	return true
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w)
	if !ok {
		return
	}
	var body struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Lat == nil || body.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	id := driverID(r)
	driver, err := d.Drivers().GoOnline(ctx, id, *body.Lat, *body.Lng)
	if err != nil {
		if !writeDispatchError(w, err) {
			s.deps.Logger.Errorf("driver %s online: %v", id, err)
			writeError(w, http.StatusBadGateway, "driver index unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	id := driverID(r)
	driver, err := d.Drivers().GoOffline(ctx, id)
	if err != nil {
		if !writeDispatchError(w, err) {
			s.deps.Logger.Errorf("driver %s offline: %v", id, err)
			writeError(w, http.StatusBadGateway, "driver index unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w)
	if !ok {
		return
	}
	driver, found := d.Drivers().Get(driverID(r))
	if !found {
		writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleDriverOffers(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w)
	if !ok {
		return
	}
	offers := d.Offers(driverID(r))
	if offers == nil {
		offers = []dispatch.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleOfferAccept(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	id, offerID := driverID(r), r.URL.Query().Get(":offer")
	offer, err := d.Accept(ctx, id, offerID)
	if err != nil {
		if !writeDispatchError(w, err) && !writeTrackerError(w, err) {
			s.deps.Logger.Errorf("driver %s accept offer %s: %v", id, offerID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	resp := offerResponse{Offer: offer}
	if snap, found := s.deps.Tracker.Snapshot(offer.DeliveryID); found {
		resp.Delivery = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOfferDecline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w)
	if !ok {
		return
	}
	id, offerID := driverID(r), r.URL.Query().Get(":offer")
	offer, err := d.Decline(id, offerID)
	if err != nil {
		if !writeDispatchError(w, err) {
			s.deps.Logger.Errorf("driver %s decline offer %s: %v", id, offerID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, offerResponse{Offer: offer})
}

func (s *Server) handleOffersWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.OfferSocket == nil {
		writeError(w, http.StatusServiceUnavailable, "driver dispatch is disabled")
		return
	}
	s.deps.OfferSocket.ServeWS(w, r)
}
