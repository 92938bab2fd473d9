package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"mzigo/internal/geo"
	"mzigo/internal/timeutil"
)

var (
	ErrUnknownDriver = errors.New("dispatch: driver is not known")
	ErrDriverOffline = errors.New("dispatch: driver is offline")
	ErrDriverBusy    = errors.New("dispatch: driver is on a delivery")
	ErrInvalidPoint  = errors.New("dispatch: invalid driver position")
)

// Driver is the availability of one driver.
type Driver struct {
	ID         string    `json:"id"`
	Online     bool      `json:"online"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Available reports whether the driver can take an offer.
func (d Driver) Available() bool { return d.Online && d.DeliveryID == "" }

// Candidate is an available driver near a pickup.
type Candidate struct {
	DriverID  string
	DistanceM float64
}

// Locator indexes online drivers by position. geo.PositionStore implements
// it on Redis GEO.
type Locator interface {
	SaveDriver(ctx context.Context, driverID string, lat, lng float64) error
	ForgetDriver(ctx context.Context, driverID string) error
	NearbyDrivers(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]geo.OnlineDriver, error)
}

// Registry tracks which drivers are online, where they are and whether they
// are on a delivery. Without a Locator, nearby searches scan the registry.
type Registry struct {
	locator Locator
	now     func() time.Time

	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewRegistry builds a registry. locator may be nil.
func NewRegistry(locator Locator) *Registry {
	return &Registry{locator: locator, now: timeutil.Now, drivers: make(map[string]*Driver)}
}

// GoOnline marks the driver online at the given position. Calling it again
// updates the position.
func (r *Registry) GoOnline(ctx context.Context, id string, lat, lng float64) (Driver, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Driver{}, fmt.Errorf("dispatch: empty driver id")
	}
	if !geo.ValidCoordinates(lat, lng) {
		return Driver{}, fmt.Errorf("%w: %f,%f", ErrInvalidPoint, lat, lng)
	}

	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		d = &Driver{ID: id}
		r.drivers[id] = d
	}
	d.Online = true
	d.Lat, d.Lng = lat, lng
	d.UpdatedAt = r.now()
	out := *d
	r.mu.Unlock()

	if r.locator != nil && out.Available() {
		if err := r.locator.SaveDriver(ctx, id, lat, lng); err != nil {
			return out, fmt.Errorf("dispatch: index driver %s: %w", id, err)
		}
	}
	return out, nil
}

// GoOffline stops offers to the driver. A delivery in progress is kept.
func (r *Registry) GoOffline(ctx context.Context, id string) (Driver, error) {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		r.mu.Unlock()
		return Driver{}, ErrUnknownDriver
	}
	d.Online = false
	d.UpdatedAt = r.now()
	out := *d
	r.mu.Unlock()

	return out, r.unindex(ctx, id)
}

// Get returns the driver's availability.
func (r *Registry) Get(id string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return Driver{}, false
	}
	return *d, true
}

// Nearby returns up to limit available drivers within radius of the point,
// nearest first.
func (r *Registry) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]Candidate, error) {
	if r.locator != nil {
		found, err := r.locator.NearbyDrivers(ctx, lat, lng, radiusMeters, limit)
		if err != nil {
			return nil, err
		}
		out := make([]Candidate, 0, len(found))
		for _, f := range found {
			if d, ok := r.Get(f.DriverID); ok && d.Available() {
				out = append(out, Candidate{DriverID: f.DriverID, DistanceM: f.Dist})
			}
		}
		return out, nil
	}

	r.mu.RLock()
	var out []Candidate
	for _, d := range r.drivers {
		if !d.Available() {
			continue
		}
		if dist := geo.Distance(lat, lng, d.Lat, d.Lng); dist <= radiusMeters {
			out = append(out, Candidate{DriverID: d.ID, DistanceM: dist})
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Candidate) int {
		switch {
		case a.DistanceM < b.DistanceM:
			return -1
		case a.DistanceM > b.DistanceM:
			return 1
		}
		return strings.Compare(a.DriverID, b.DriverID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// claim puts an available driver on the delivery.
func (r *Registry) claim(ctx context.Context, id, deliveryID string) error {
	r.mu.Lock()
	d, ok := r.drivers[id]
	switch {
	case !ok:
		r.mu.Unlock()
		return ErrUnknownDriver
	case !d.Online:
		r.mu.Unlock()
		return ErrDriverOffline
	case d.DeliveryID != "":
		r.mu.Unlock()
		return ErrDriverBusy
	}
	d.DeliveryID = deliveryID
	d.UpdatedAt = r.now()
	r.mu.Unlock()
	return r.unindex(ctx, id)
}

// release frees the driver of the delivery, if still on it.
func (r *Registry) release(ctx context.Context, id, deliveryID string) error {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok || d.DeliveryID != deliveryID {
		r.mu.Unlock()
		return nil
	}
	d.DeliveryID = ""
	d.UpdatedAt = r.now()
	out := *d
	r.mu.Unlock()

	if r.locator != nil && out.Available() {
		return r.locator.SaveDriver(ctx, id, out.Lat, out.Lng)
	}
	return nil
}

// busy returns the driver to delivery pairs in progress.
func (r *Registry) busy() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string)
	for _, d := range r.drivers {
		if d.DeliveryID != "" {
			out[d.ID] = d.DeliveryID
		}
	}
	return out
}

func (r *Registry) unindex(ctx context.Context, id string) error {
	if r.locator == nil {
		return nil
	}
	if err := r.locator.ForgetDriver(ctx, id); err != nil {
		return fmt.Errorf("dispatch: unindex driver %s: %w", id, err)
	}
	return nil
}
