package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mzigo/internal/geo"
	"mzigo/internal/wizard"
)

const maxBodyBytes = 1 << 20

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// decodeFields turns a posted form into wizard values. JSON objects become
// locations, everything else keeps its decoded type.
func decodeFields(r *http.Request) (map[string]any, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	values := make(map[string]any, len(raw))
	for name, msg := range raw {
		trimmed := bytes.TrimSpace(msg)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var loc geo.Location
			if err := json.Unmarshal(trimmed, &loc); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			values[name] = loc
			continue
		}
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

// writeWizardError maps a failed form submission to a response.
func writeWizardError(w http.ResponseWriter, err error) bool {
	var verr *wizard.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     "validation failed",
			"step":      verr.Result.Step,
			"step_name": verr.StepName,
			"missing":   verr.Result.Missing,
		})
	case errors.Is(err, wizard.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		return false
	}
	return true
}

func writeGeoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, geo.ErrNotFound):
		writeError(w, http.StatusNotFound, "location not found")
	case errors.Is(err, geo.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "location permission denied")
	default:
		writeError(w, http.StatusServiceUnavailable, "location service unavailable")
	}
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return f, nil
}

func parseCoords(r *http.Request) (float64, float64, error) {
	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	lng, err := parseFloatParam(r, "lng")
	if err != nil {
		return 0, 0, err
	}
	if !geo.ValidCoordinates(lat, lng) {
		return 0, 0, fmt.Errorf("invalid coordinates")
	}
	return lat, lng, nil
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	val := r.URL.Query().Get("limit")
	if val == "" {
		return def, nil
	}
	l, err := strconv.Atoi(val)
	if err != nil || l <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if l > max {
		l = max
	}
	return l, nil
}
