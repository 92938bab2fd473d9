package feed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"mzigo/internal/delivery/fsm"
	"mzigo/internal/geo"
)

// approachOffset places the simulated driver this many degrees away from
// pickup when the delivery has no start location.
const approachOffset = 0.01

// Simulated stands in for a dispatch feed: it advances the delivery every
// StepInterval and reports a jittered driver position every PositionInterval
// while the driver is en route.
type Simulated struct {
	StepInterval     time.Duration
	PositionInterval time.Duration
	Jitter           float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated returns a simulated source seeded from seed.
func NewSimulated(step, position time.Duration, jitter float64, seed uint64) *Simulated {
	return &Simulated{
		StepInterval:     step,
		PositionInterval: position,
		Jitter:           jitter,
		rnd:              rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulated) jitter() float64 {
	if s.Jitter <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}
	return (s.rnd.Float64()*2 - 1) * s.Jitter
}

// Run emits the advances of the forward path from sub.From, with positions
// in between, and returns nil once the delivery would be delivered.
func (s *Simulated) Run(ctx context.Context, sub Subscription, handle func(Event)) error {
	step := time.NewTicker(s.StepInterval)
	defer step.Stop()
	pos := time.NewTicker(s.PositionInterval)
	defer pos.Stop()

	status := sub.From
	if status == "" {
		status = fsm.StatusRequested
	}
	phaseStart := time.Now()
	sub.ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-step.C:
			next, ok := status.Next()
			if !ok {
				return nil
			}
			status = next
			phaseStart = time.Now()
			handle(Advance())
			if status.Terminal() {
				return nil
			}
		case now := <-pos.C:
			if !status.EnRoute() {
				continue
			}
			progress := float64(now.Sub(phaseStart)) / float64(s.StepInterval)
			lat, lng := s.driverAt(sub.Route, status, progress)
			handle(PositionAt(lat+s.jitter(), lng+s.jitter(), now))
		}
	}
}

func (s *Simulated) driverAt(r Route, status fsm.Status, progress float64) (float64, float64) {
	from, to := r.Pickup, r.Dropoff
	if status == fsm.StatusEnRouteToPickup {
		to = r.Pickup
		if r.Start != nil && r.Start.Resolved() {
			from = *r.Start
		} else {
			from = geo.Location{Latitude: r.Pickup.Latitude + approachOffset, Longitude: r.Pickup.Longitude + approachOffset}
		}
	}
	return geo.Interpolate(from.Latitude, from.Longitude, to.Latitude, to.Longitude, progress)
}
