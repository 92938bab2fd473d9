package http

import (
	"context"
	"net/http"
	"sync"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"mzigo/internal/booking"
	"mzigo/internal/delivery"
	"mzigo/internal/delivery/dispatch"
	"mzigo/internal/delivery/notify"
	"mzigo/internal/geo"
)

// Logger captures the logging contract required by the server.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// NearbyFinder looks up en-route drivers around a point.
type NearbyFinder interface {
	Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]geo.NearbyDriver, error)
}

// TrackingSocket upgrades viewers of a delivery to a websocket.
type TrackingSocket interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Deps bundles what the handlers need. Only Logger and Tracker are
// required; the endpoints of a missing dependency answer 503.
type Deps struct {
	Logger      Logger
	Tracker     *delivery.Tracker
	Geocoder    geo.Geocoder
	Nearby      NearbyFinder
	Devices     *notify.Devices
	Socket      TrackingSocket
	Dispatcher  *dispatch.Dispatcher
	OfferSocket TrackingSocket
	Clock       booking.Clock
}

// Server provides HTTP handlers for bookings, deliveries, driver sign-up and
// location lookups.
type Server struct {
	deps Deps

	mu           sync.RWMutex
	applications map[string]booking.DriverApplication
}

// NewServer constructs a Server instance.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, applications: make(map[string]booking.DriverApplication)}
}

// Register mounts the routes on the mux behind the given middleware chain.
// Static paths come before their parameterised siblings since pat matches in
// registration order.
func (s *Server) Register(mux *pat.PatternServeMux, chain alice.Chain) {
	mux.Get("/api/v1/cargo", chain.ThenFunc(s.handleCargo))
	mux.Get("/api/v1/rating/tags", chain.ThenFunc(s.handleRatingTags))

	mux.Post("/api/v1/bookings", chain.ThenFunc(s.handleCreateBooking))

	mux.Get("/api/v1/deliveries", chain.ThenFunc(s.handleListDeliveries))
	mux.Get("/api/v1/deliveries/nearby", chain.ThenFunc(s.handleNearby))
	mux.Get("/api/v1/deliveries/:id", chain.ThenFunc(s.handleGetDelivery))
	mux.Post("/api/v1/deliveries/:id/cancel", chain.ThenFunc(s.handleCancelDelivery))
	mux.Post("/api/v1/deliveries/:id/rating", chain.ThenFunc(s.handleRateDelivery))
	mux.Post("/api/v1/deliveries/:id/events", chain.ThenFunc(s.handleDeliveryEvent))
	mux.Post("/api/v1/deliveries/:id/devices", chain.ThenFunc(s.handleRegisterDevice))

	mux.Post("/api/v1/drivers/applications", chain.ThenFunc(s.handleDriverApplication))
	mux.Get("/api/v1/drivers/applications/:id", chain.ThenFunc(s.handleGetDriverApplication))
	mux.Get("/api/v1/drivers/:id", chain.ThenFunc(s.handleGetDriver))
	mux.Post("/api/v1/drivers/:id/online", chain.ThenFunc(s.handleDriverOnline))
	mux.Post("/api/v1/drivers/:id/offline", chain.ThenFunc(s.handleDriverOffline))
	mux.Get("/api/v1/drivers/:id/offers", chain.ThenFunc(s.handleDriverOffers))
	mux.Post("/api/v1/drivers/:id/offers/:offer/accept", chain.ThenFunc(s.handleOfferAccept))
	mux.Post("/api/v1/drivers/:id/offers/:offer/decline", chain.ThenFunc(s.handleOfferDecline))

	mux.Get("/api/v1/geo/search", chain.ThenFunc(s.handleGeoSearch))
	mux.Get("/api/v1/geo/reverse", chain.ThenFunc(s.handleGeoReverse))
	mux.Get("/api/v1/geo/device", chain.ThenFunc(s.handleGeoDevice))

	mux.Get("/ws/tracking", http.HandlerFunc(s.handleTrackingWS))
	mux.Get("/ws/offers", http.HandlerFunc(s.handleOffersWS))
}

func (s *Server) handleTrackingWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Socket == nil {
		writeError(w, http.StatusServiceUnavailable, "live tracking is not available")
		return
	}
	s.deps.Socket.ServeWS(w, r)
}
