package http

import (
	"errors"
	"net/http"

	"golang.org/x/exp/slices"

	"mzigo/internal/booking"
	"mzigo/internal/delivery"
	"mzigo/internal/wizard"
)

func (s *Server) handleCargo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, booking.CargoCategories)
}

func (s *Server) handleRatingTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, booking.FeedbackTags)
}

// handleCreateBooking replays the booking wizard with the posted fields and
// starts tracking the resulting delivery.
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	values, err := decodeFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	form, err := booking.NewBookingWizard(s.deps.Clock)
	if err != nil {
		s.deps.Logger.Errorf("booking wizard: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	req, err := wizard.Submit(form, values)
	if err != nil {
		if writeWizardError(w, err) {
			return
		}
		if errors.Is(err, booking.ErrInvalidRequest) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.deps.Logger.Errorf("booking submit: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err := s.deps.Tracker.Start(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrInvalidRequest):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, delivery.ErrTrackerClosed):
			writeError(w, http.StatusServiceUnavailable, "shutting down")
		default:
			s.deps.Logger.Errorf("start delivery: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	snap, _ := s.deps.Tracker.Snapshot(sess.ID)
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Tracker.Snapshots()
	slices.SortFunc(snaps, func(a, b delivery.Snapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if status := r.URL.Query().Get("status"); status != "" {
		snaps = slices.DeleteFunc(snaps, func(snap delivery.Snapshot) bool { return string(snap.Status) != status })
	}
	writeJSON(w, http.StatusOK, snaps)
}
