// Package delivery runs the live tracking of booked deliveries: one state
// machine per delivery, driven by an event feed and fanned out to viewers,
// the driver position store and push notifications.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mzigo/internal/booking"
	"mzigo/internal/delivery/feed"
	"mzigo/internal/delivery/fsm"
	"mzigo/internal/timeutil"
	"mzigo/internal/wizard"
)

var (
	ErrNotFound      = errors.New("delivery: not found")
	ErrNotDelivered  = errors.New("delivery: rating is only accepted once delivered")
	ErrAlreadyRated  = errors.New("delivery: already rated")
	ErrTrackerClosed = errors.New("delivery: tracker is shut down")
	ErrFeedNotLive   = errors.New("delivery: feed is not running")
	ErrNoDispatch    = errors.New("delivery: drivers are not dispatched")
)

const (
	storeTimeout  = 2 * time.Second
	notifyTimeout = 10 * time.Second
)

// Session is one tracked delivery. All mutation goes through the session
// mutex, so the machine sees a single caller at a time. Updates are pushed
// to viewers under the same mutex, which keeps them in machine order.
type Session struct {
	ID        string
	Request   booking.DeliveryRequest
	CreatedAt time.Time

	mu       sync.Mutex
	machine  *fsm.Machine
	driverID string
	rating   *booking.Rating
	closedAt time.Time
	live     bool
	feedCtx  context.Context
	stop     context.CancelFunc
}

// Pending is a requested delivery waiting for a driver.
type Pending struct {
	ID        string
	Request   booking.DeliveryRequest
	CreatedAt time.Time
}

// Update is pushed to viewers on every status or position change.
type Update struct {
	Type       string        `json:"type"`
	DeliveryID string        `json:"delivery_id"`
	Status     fsm.Status    `json:"status,omitempty"`
	Position   *fsm.Position `json:"position,omitempty"`
	At         time.Time     `json:"at"`
}

// Snapshot is the read model of a session.
type Snapshot struct {
	Type           string                  `json:"type"`
	ID             string                  `json:"id"`
	Status         fsm.Status              `json:"status"`
	Request        booking.DeliveryRequest `json:"request"`
	DriverID       string                  `json:"driver_id,omitempty"`
	DriverPosition *fsm.Position           `json:"driver_position,omitempty"`
	History        []fsm.StatusEvent       `json:"history"`
	Rating         *booking.Rating         `json:"rating,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// Tracker owns every active delivery.
type Tracker struct {
	deps *Deps
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	wg sync.WaitGroup
}

// New validates deps and builds a tracker.
func New(deps *Deps) (*Tracker, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		deps:     deps,
		now:      timeutil.Now,
		sessions: make(map[string]*Session),
	}, nil
}

// Start registers a delivery in the requested status and starts following
// its feed. A deferred delivery's feed starts at the scheduled time. With
// dispatch on, the feed starts once a driver is assigned instead.
func (t *Tracker) Start(ctx context.Context, req booking.DeliveryRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Request:   req,
		CreatedAt: t.now(),
	}
	s.machine = fsm.NewMachine(fsm.WithClock(t.now), fsm.WithObserver(fsm.Hooks{
		StatusChanged:   func(st fsm.Status) { t.onStatus(s, st) },
		PositionChanged: func(p fsm.Position) { t.onPosition(s, p) },
	}))

	s.feedCtx, s.stop = context.WithCancel(context.WithoutCancel(ctx))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.stop()
		return nil, ErrTrackerClosed
	}
	t.sessions[s.ID] = s
	if !t.deps.Config.Dispatch {
		t.wg.Add(1)
	}
	t.mu.Unlock()

	t.deps.Logger.Infof("delivery %s requested: %s from %q to %q", s.ID, req.CargoType, req.Pickup.Address, req.Dropoff.Address)
	if !t.deps.Config.Dispatch {
		go t.follow(s.feedCtx, s, fsm.StatusRequested)
	}
	return s, nil
}

// Pending returns the requested deliveries that have no driver and are due
// at now.
func (t *Tracker) Pending(now time.Time) []Pending {
	t.mu.RLock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	out := make([]Pending, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		waiting := s.machine.Status() == fsm.StatusRequested && s.driverID == ""
		s.mu.Unlock()
		if !waiting {
			continue
		}
		if s.Request.Schedule != nil {
			if at, err := s.Request.Schedule.At(); err == nil && at.After(now) {
				continue
			}
		}
		out = append(out, Pending{ID: s.ID, Request: s.Request, CreatedAt: s.CreatedAt})
	}
	return out
}

// Assign hands a requested delivery to a driver and starts its feed from
// driver_assigned. It fails with fsm.ErrInvalidTransition once the delivery
// has a driver or is cancelled.
func (t *Tracker) Assign(id, driverID string) error {
	if !t.deps.Config.Dispatch {
		return ErrNoDispatch
	}
	if driverID == "" {
		return fmt.Errorf("delivery: empty driver id")
	}
	s, err := t.session(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	s.mu.Lock()
	if err := s.machine.AdvanceTo(fsm.StatusDriverAssigned); err != nil {
		s.mu.Unlock()
		t.wg.Done()
		return err
	}
	s.driverID = driverID
	s.mu.Unlock()

	t.deps.Logger.Infof("delivery %s assigned to driver %s", s.ID, driverID)
	go t.follow(s.feedCtx, s, fsm.StatusDriverAssigned)
	return nil
}

func (t *Tracker) follow(ctx context.Context, s *Session, from fsm.Status) {
	defer t.wg.Done()
	defer s.setLive(false)

	if s.Request.Schedule != nil {
		if at, err := s.Request.Schedule.At(); err == nil {
			if wait := at.Sub(t.now()); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
	}

	sub := feed.Subscription{
		DeliveryID: s.ID,
		Route: feed.Route{
			Start:   s.Request.CurrentLocation,
			Pickup:  s.Request.Pickup,
			Dropoff: s.Request.Dropoff,
		},
		From:  from,
		Ready: func() { s.setLive(true) },
	}
	err := t.deps.Source.Run(ctx, sub, func(ev feed.Event) {
		_ = t.apply(s, ev)
	})
	if err != nil {
		t.deps.Logger.Errorf("delivery %s: feed stopped: %v", s.ID, err)
	}
}

// apply feeds one event to the session's machine. Rejected events leave the
// machine untouched and are logged.
func (t *Tracker) apply(s *Session, ev feed.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch ev.Kind {
	case feed.KindAdvance:
		_, err = s.machine.Advance()
	case feed.KindPosition:
		err = s.machine.UpdateDriverPosition(ev.Position)
	default:
		err = fmt.Errorf("%w: unknown kind %q", feed.ErrMalformedEvent, ev.Kind)
	}

	switch {
	case err == nil:
	case errors.Is(err, fsm.ErrNotTrackable):
		t.deps.Logger.Infof("delivery %s: position ignored: %v", s.ID, err)
	default:
		t.deps.Logger.Errorf("delivery %s: event %s rejected: %v", s.ID, ev.Kind, err)
	}
	return err
}

// onStatus runs under the session mutex.
func (t *Tracker) onStatus(s *Session, st fsm.Status) {
	t.deps.Logger.Infof("delivery %s: %s", s.ID, st)
	now := t.now()
	if st.Terminal() {
		s.closedAt = now
		if s.stop != nil {
			s.stop()
		}
	}
	if t.deps.Hub != nil {
		t.deps.Hub.Push(s.ID, Update{Type: "status", DeliveryID: s.ID, Status: st, At: now})
	}
	if !st.EnRoute() && t.deps.Positions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := t.deps.Positions.Forget(ctx, s.ID); err != nil {
			t.deps.Logger.Errorf("delivery %s: forget position: %v", s.ID, err)
		}
		cancel()
	}
	if t.deps.Notifier != nil {
		t.background(func() {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := t.deps.Notifier.StatusChanged(ctx, s.ID, st); err != nil {
				t.deps.Logger.Errorf("delivery %s: notify %s: %v", s.ID, st, err)
			}
		})
	}
}

// background runs fn in a goroutine Shutdown waits for. Nothing is started
// once the tracker is shut down.
func (t *Tracker) background(fn func()) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// onPosition runs under the session mutex.
func (t *Tracker) onPosition(s *Session, p fsm.Position) {
	if t.deps.Hub != nil {
		pos := p
		t.deps.Hub.Push(s.ID, Update{Type: "position", DeliveryID: s.ID, Position: &pos, At: p.Timestamp})
	}
	if t.deps.Positions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := t.deps.Positions.Save(ctx, s.ID, p.Latitude, p.Longitude); err != nil {
			t.deps.Logger.Errorf("delivery %s: save position: %v", s.ID, err)
		}
		cancel()
	}
}

func (t *Tracker) session(id string) (*Session, error) {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Get returns the session of a delivery.
func (t *Tracker) Get(id string) (*Session, error) {
	return t.session(id)
}

// Publish routes a driver-side event to the delivery. With a configured
// publisher the event travels through the feed, and ErrFeedNotLive is
// returned while nothing follows it yet. Otherwise the event is applied
// directly and a rejection is returned to the caller.
func (t *Tracker) Publish(ctx context.Context, id string, ev feed.Event) error {
	s, err := t.session(id)
	if err != nil {
		return err
	}
	if t.deps.Publisher != nil {
		if !s.isLive() {
			return ErrFeedNotLive
		}
		return t.deps.Publisher.Publish(ctx, id, ev)
	}
	return t.apply(s, ev)
}

func (s *Session) setLive(live bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

func (s *Session) isLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Cancel cancels a non-terminal delivery.
func (t *Tracker) Cancel(id, reason string) error {
	s, err := t.session(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.machine.Cancel(reason); err != nil {
		return err
	}
	return nil
}

// Rate records the customer's rating of a delivered order. fields are the
// values of the rating form.
func (t *Tracker) Rate(id string, fields map[string]any) (booking.Rating, error) {
	s, err := t.session(id)
	if err != nil {
		return booking.Rating{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Status() != fsm.StatusDelivered {
		return booking.Rating{}, ErrNotDelivered
	}
	if s.rating != nil {
		return booking.Rating{}, ErrAlreadyRated
	}

	form, err := booking.NewRatingWizard()
	if err != nil {
		return booking.Rating{}, err
	}
	rating, err := wizard.Submit(form, fields)
	if err != nil {
		return booking.Rating{}, err
	}
	s.rating = &rating
	t.deps.Logger.Infof("delivery %s rated %d", s.ID, rating.Stars)
	return rating, nil
}

// Snapshot returns the read model of a delivery.
func (t *Tracker) Snapshot(id string) (Snapshot, bool) {
	s, err := t.session(id)
	if err != nil {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Watch calls fn with the delivery's snapshot while holding the session, so
// no update is pushed between the snapshot and fn returning.
func (t *Tracker) Watch(id string, fn func(Snapshot)) bool {
	s, err := t.session(id)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
	return true
}

// Snapshots returns the read model of every tracked delivery.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.RLock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	return out
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Type:      "snapshot",
		ID:        s.ID,
		Status:    s.machine.Status(),
		Request:   s.Request,
		DriverID:  s.driverID,
		History:   s.machine.History(),
		CreatedAt: s.CreatedAt,
	}
	if pos, ok := s.machine.DriverPosition(); ok {
		snap.DriverPosition = &pos
	}
	if s.rating != nil {
		r := *s.rating
		snap.Rating = &r
	}
	return snap
}

// DriverID returns the assigned driver, empty until one accepts.
func (s *Session) DriverID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driverID
}

// Status returns the current status of the session.
func (s *Session) Status() fsm.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Status()
}

// Shutdown stops every feed and waits for background work to finish.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	t.closed = true
	for _, s := range t.sessions {
		s.stop()
	}
	t.mu.Unlock()
	t.wg.Wait()
}
