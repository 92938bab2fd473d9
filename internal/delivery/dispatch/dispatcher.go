// Package dispatch matches requested deliveries with online drivers: nearby
// drivers get a timed offer and the first one to accept is assigned.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"mzigo/internal/booking"
	"mzigo/internal/delivery"
	"mzigo/internal/delivery/fsm"
	"mzigo/internal/geo"
	"mzigo/internal/timeutil"
)

var (
	ErrOfferNotFound = errors.New("dispatch: offer not found")
	ErrOfferClosed   = errors.New("dispatch: offer is no longer open")
	ErrOfferExpired  = errors.New("dispatch: offer expired")
	ErrDeliveryTaken = errors.New("dispatch: delivery already has a driver")
)

const releaseTimeout = 2 * time.Second

// OfferStatus is the state of an offer.
type OfferStatus string

const (
	OfferProposed  OfferStatus = "proposed"
	OfferAccepted  OfferStatus = "accepted"
	OfferDeclined  OfferStatus = "declined"
	OfferExpired   OfferStatus = "expired"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// Offer is a trip request sent to one driver.
type Offer struct {
	Type            string                `json:"type"`
	ID              string                `json:"id"`
	DeliveryID      string                `json:"delivery_id"`
	DriverID        string                `json:"driver_id"`
	CargoType       booking.CargoCategory `json:"cargo_type"`
	Pickup          geo.Location          `json:"pickup"`
	Dropoff         geo.Location          `json:"dropoff"`
	PickupDistanceM float64               `json:"pickup_distance_m"`
	TripDistanceM   float64               `json:"trip_distance_m"`
	Status          OfferStatus           `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	ExpiresAt       time.Time             `json:"expires_at"`
	ExpiresInSec    int                   `json:"expires_in_sec"`
}

// Logger provides minimal logging for the dispatcher.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Deliveries is the part of the tracker the dispatcher drives.
type Deliveries interface {
	Pending(now time.Time) []delivery.Pending
	Assign(id, driverID string) error
	Cancel(id, reason string) error
	Snapshot(id string) (delivery.Snapshot, bool)
}

// DriverSocket pushes offers to connected drivers.
type DriverSocket interface {
	Push(driverID string, payload interface{})
}

type search struct {
	radius    int
	startedAt time.Time
	nextTick  time.Time
}

// Dispatcher offers requested deliveries to nearby available drivers on
// every tick, widening the search radius while nobody is found.
type Dispatcher struct {
	deliveries Deliveries
	drivers    *Registry
	socket     DriverSocket
	logger     Logger
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	searches map[string]*search
	offers   map[string]*Offer
	offered  map[string]map[string]string
}

// New constructs a dispatcher. socket may be nil; drivers then poll Offers.
func New(deliveries Deliveries, drivers *Registry, socket DriverSocket, logger Logger, cfg Config) (*Dispatcher, error) {
	if deliveries == nil || drivers == nil || logger == nil {
		return nil, fmt.Errorf("dispatch: deliveries, drivers and logger are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		deliveries: deliveries,
		drivers:    drivers,
		socket:     socket,
		logger:     logger,
		cfg:        cfg,
		now:        timeutil.Now,
		searches:   make(map[string]*search),
		offers:     make(map[string]*Offer),
		offered:    make(map[string]map[string]string),
	}, nil
}

// Drivers returns the availability registry.
func (d *Dispatcher) Drivers() *Registry { return d.drivers }

// Run launches the dispatcher loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	now := d.now()
	d.expire(now)

	pending := d.deliveries.Pending(now)
	waiting := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		waiting[p.ID] = struct{}{}
		if err := d.process(ctx, p, now); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Errorf("dispatch: delivery %s: %v", p.ID, err)
		}
	}

	d.mu.Lock()
	for id := range d.searches {
		if _, ok := waiting[id]; !ok {
			delete(d.searches, id)
			d.withdrawLocked(id, "")
		}
	}
	d.mu.Unlock()

	d.releaseFinished(ctx)
}

func (d *Dispatcher) process(ctx context.Context, p delivery.Pending, now time.Time) error {
	d.mu.Lock()
	s, ok := d.searches[p.ID]
	if !ok {
		s = &search{radius: d.cfg.SearchRadiusStart, startedAt: now, nextTick: now}
		d.searches[p.ID] = s
	}
	due := !now.Before(s.nextTick)
	timedOut := d.cfg.SearchTimeout > 0 && now.Sub(s.startedAt) >= d.cfg.SearchTimeout
	radius := s.radius
	d.mu.Unlock()

	if timedOut {
		d.logger.Infof("dispatch: delivery %s found no driver in %s, cancelling", p.ID, d.cfg.SearchTimeout)
		d.mu.Lock()
		delete(d.searches, p.ID)
		d.withdrawLocked(p.ID, "")
		d.mu.Unlock()
		if err := d.deliveries.Cancel(p.ID, "no driver found"); err != nil && !errors.Is(err, fsm.ErrInvalidTransition) {
			return err
		}
		return nil
	}
	if !due {
		return nil
	}

	pickup := p.Request.Pickup
	candidates, err := d.drivers.Nearby(ctx, pickup.Latitude, pickup.Longitude, float64(radius), d.cfg.Candidates)
	if err != nil {
		return fmt.Errorf("nearby drivers: %w", err)
	}

	sent, skipped := 0, 0
	for _, c := range candidates {
		offer, ok := d.createOffer(p, c, now)
		if !ok {
			skipped++
			continue
		}
		if d.socket != nil {
			d.socket.Push(c.DriverID, offer)
		}
		sent++
		d.logger.Infof("dispatch: offered delivery %s to driver %s (%.0f m)", p.ID, c.DriverID, c.DistanceM)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case len(candidates) == 0:
		s.radius = min(radius+d.cfg.SearchRadiusStep, d.cfg.SearchRadiusMax)
		s.nextTick = now.Add(d.cfg.Tick)
	case sent == 0 && skipped > 0:
		s.radius = min(radius+d.cfg.SearchRadiusStep, d.cfg.SearchRadiusMax)
		next := now.Add(d.cfg.Tick / 2)
		if next.Before(now.Add(time.Second)) {
			next = now.Add(time.Second)
		}
		s.nextTick = next
	default:
		s.nextTick = now.Add(d.cfg.Tick)
	}
	return nil
}

// createOffer records a proposed offer unless the driver already had one
// for the delivery.
func (d *Dispatcher) createOffer(p delivery.Pending, c Candidate, now time.Time) (Offer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.offered[p.ID][c.DriverID]; ok {
		return Offer{}, false
	}
	o := &Offer{
		Type:            "offer",
		ID:              uuid.NewString(),
		DeliveryID:      p.ID,
		DriverID:        c.DriverID,
		CargoType:       p.Request.CargoType,
		Pickup:          p.Request.Pickup,
		Dropoff:         p.Request.Dropoff,
		PickupDistanceM: c.DistanceM,
		TripDistanceM:   p.Request.DistanceMeters(),
		Status:          OfferProposed,
		CreatedAt:       now,
		ExpiresAt:       now.Add(d.cfg.OfferTTL),
		ExpiresInSec:    int(d.cfg.OfferTTL.Seconds()),
	}
	d.offers[o.ID] = o
	if d.offered[p.ID] == nil {
		d.offered[p.ID] = make(map[string]string)
	}
	d.offered[p.ID][c.DriverID] = o.ID
	return *o, true
}

// expire closes proposed offers whose TTL has passed. An expired driver is
// not offered the same delivery again.
func (d *Dispatcher) expire(now time.Time) {
	d.mu.Lock()
	var closed []Offer
	for _, o := range d.offers {
		if o.Status == OfferProposed && !now.Before(o.ExpiresAt) {
			o.Status = OfferExpired
			closed = append(closed, *o)
		}
	}
	d.mu.Unlock()
	d.notify(closed)
}

// withdrawLocked closes the open offers of a delivery, except keep's.
func (d *Dispatcher) withdrawLocked(deliveryID, keep string) {
	var closed []Offer
	for driverID, offerID := range d.offered[deliveryID] {
		o := d.offers[offerID]
		if driverID == keep || o == nil || o.Status != OfferProposed {
			continue
		}
		o.Status = OfferWithdrawn
		closed = append(closed, *o)
	}
	if d.socket != nil {
		for _, o := range closed {
			d.socket.Push(o.DriverID, o)
		}
	}
}

func (d *Dispatcher) notify(offers []Offer) {
	if d.socket == nil {
		return
	}
	for _, o := range offers {
		d.socket.Push(o.DriverID, o)
	}
}

// Accept assigns the offer's delivery to its driver. Only the first
// acceptance of a delivery wins; the other offers are withdrawn.
func (d *Dispatcher) Accept(ctx context.Context, driverID, offerID string) (Offer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.offers[offerID]
	if !ok || o.DriverID != driverID {
		return Offer{}, ErrOfferNotFound
	}
	if o.Status == OfferProposed && !d.now().Before(o.ExpiresAt) {
		o.Status = OfferExpired
	}
	switch o.Status {
	case OfferProposed:
	case OfferExpired:
		return *o, ErrOfferExpired
	case OfferWithdrawn:
		return *o, ErrDeliveryTaken
	default:
		return *o, ErrOfferClosed
	}

	if err := d.drivers.claim(ctx, driverID, o.DeliveryID); err != nil {
		return *o, err
	}
	if err := d.deliveries.Assign(o.DeliveryID, driverID); err != nil {
		if rerr := d.drivers.release(ctx, driverID, o.DeliveryID); rerr != nil {
			d.logger.Errorf("dispatch: release driver %s: %v", driverID, rerr)
		}
		if errors.Is(err, fsm.ErrInvalidTransition) {
			o.Status = OfferWithdrawn
			return *o, ErrDeliveryTaken
		}
		return *o, err
	}

	o.Status = OfferAccepted
	delete(d.searches, o.DeliveryID)
	d.withdrawLocked(o.DeliveryID, driverID)
	d.logger.Infof("dispatch: driver %s accepted delivery %s", driverID, o.DeliveryID)
	return *o, nil
}

// Decline closes the offer. The driver is not offered that delivery again.
func (d *Dispatcher) Decline(driverID, offerID string) (Offer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.offers[offerID]
	if !ok || o.DriverID != driverID {
		return Offer{}, ErrOfferNotFound
	}
	if o.Status != OfferProposed {
		return *o, ErrOfferClosed
	}
	o.Status = OfferDeclined
	d.logger.Infof("dispatch: driver %s declined delivery %s", driverID, o.DeliveryID)
	return *o, nil
}

// Offers returns the driver's open offers, oldest first.
func (d *Dispatcher) Offers(driverID string) []Offer {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Offer
	for _, o := range d.offers {
		if o.DriverID == driverID && o.Status == OfferProposed && now.Before(o.ExpiresAt) {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b Offer) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// releaseFinished frees drivers whose delivery ended and forgets the offers
// of deliveries no longer tracked.
func (d *Dispatcher) releaseFinished(ctx context.Context) {
	for driverID, deliveryID := range d.drivers.busy() {
		snap, ok := d.deliveries.Snapshot(deliveryID)
		if ok && !snap.Status.Terminal() {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, releaseTimeout)
		if err := d.drivers.release(rctx, driverID, deliveryID); err != nil {
			d.logger.Errorf("dispatch: release driver %s: %v", driverID, err)
		}
		cancel()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for deliveryID, byDriver := range d.offered {
		if _, ok := d.deliveries.Snapshot(deliveryID); ok {
			continue
		}
		for _, offerID := range byDriver {
			delete(d.offers, offerID)
		}
		delete(d.offered, deliveryID)
	}
}
