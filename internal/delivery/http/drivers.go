package http

import (
	"net/http"

	"github.com/google/uuid"

	"mzigo/internal/booking"
	"mzigo/internal/wizard"
)

type applicationResponse struct {
	ID          string                    `json:"id"`
	Application booking.DriverApplication `json:"application"`
}

// handleDriverApplication replays the driver registration wizard and keeps
// the accepted application in memory for review.
func (s *Server) handleDriverApplication(w http.ResponseWriter, r *http.Request) {
	values, err := decodeFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	form, err := booking.NewRegistrationWizard(s.deps.Clock)
	if err != nil {
		s.deps.Logger.Errorf("registration wizard: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	app, err := wizard.Submit(form, values)
	if err != nil {
		if !writeWizardError(w, err) {
			s.deps.Logger.Errorf("driver application: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.applications[id] = app
	s.mu.Unlock()
	s.deps.Logger.Infof("driver application %s received from %s", id, app.FullName)
	writeJSON(w, http.StatusCreated, applicationResponse{ID: id, Application: app})
}

func (s *Server) handleGetDriverApplication(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(":id")
	s.mu.RLock()
	app, ok := s.applications[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	writeJSON(w, http.StatusOK, applicationResponse{ID: id, Application: app})
}
