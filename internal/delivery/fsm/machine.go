package fsm

import (
	"fmt"
	"time"

	"mzigo/internal/geo"
)

// Observer is notified synchronously from the call that caused the change.
type Observer interface {
	OnStatusChanged(status Status)
	OnDriverPositionChanged(pos Position)
}

// Hooks implements Observer with optional callbacks.
type Hooks struct {
	StatusChanged   func(Status)
	PositionChanged func(Position)
}

func (h Hooks) OnStatusChanged(status Status) {
	if h.StatusChanged != nil {
		h.StatusChanged(status)
	}
}

func (h Hooks) OnDriverPositionChanged(pos Position) {
	if h.PositionChanged != nil {
		h.PositionChanged(pos)
	}
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers the observer of status and position changes.
func WithObserver(o Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock replaces the clock used to stamp the timeline.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// Machine tracks the lifecycle of a single delivery. It is not safe for
// concurrent use.
type Machine struct {
	status      Status
	position    Position
	hasPosition bool
	history     []StatusEvent
	observer    Observer
	now         func() time.Time
}

// NewMachine returns a machine in the requested status.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		status:   StatusRequested,
		observer: Hooks{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.history = append(m.history, StatusEvent{Status: StatusRequested, At: m.now()})
	return m
}

// Status returns the current status.
func (m *Machine) Status() Status { return m.status }

// Terminal reports whether the delivery is delivered or cancelled.
func (m *Machine) Terminal() bool { return m.status.Terminal() }

// DriverPosition returns the last driver position, if one is held.
func (m *Machine) DriverPosition() (Position, bool) {
	return m.position, m.hasPosition
}

// History returns a copy of the status timeline.
func (m *Machine) History() []StatusEvent {
	out := make([]StatusEvent, len(m.history))
	copy(out, m.history)
	return out
}

// Advance moves to the next status of the forward path.
func (m *Machine) Advance() (Status, error) {
	next, ok := m.status.Next()
	if !ok {
		return m.status, fmt.Errorf("%w: %s has no next status", ErrInvalidTransition, m.status)
	}
	m.enter(next, "")
	return next, nil
}

// AdvanceTo moves to the given status if it is the direct successor of the
// current one, or cancelled.
func (m *Machine) AdvanceTo(to Status) error {
	if !CanTransition(m.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.status, to)
	}
	m.enter(to, "")
	return nil
}

// Cancel moves a non-terminal delivery to cancelled.
func (m *Machine) Cancel(reason string) error {
	if m.status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.status, StatusCancelled)
	}
	m.enter(StatusCancelled, reason)
	return nil
}

// UpdateDriverPosition replaces the held driver position. Outside the
// en-route statuses the update is ignored and ErrNotTrackable returned. A
// zero timestamp is stamped with the machine clock.
func (m *Machine) UpdateDriverPosition(pos Position) error {
	if !m.status.EnRoute() {
		return fmt.Errorf("%w: %s", ErrNotTrackable, m.status)
	}
	if !geo.ValidCoordinates(pos.Latitude, pos.Longitude) {
		return fmt.Errorf("%w: %f,%f", ErrInvalidPosition, pos.Latitude, pos.Longitude)
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = m.now()
	}
	m.position = pos
	m.hasPosition = true
	m.observer.OnDriverPositionChanged(pos)
	return nil
}

func (m *Machine) enter(to Status, note string) {
	m.status = to
	if !to.EnRoute() {
		m.position = Position{}
		m.hasPosition = false
	}
	m.history = append(m.history, StatusEvent{Status: to, At: m.now(), Note: note})
	m.observer.OnStatusChanged(to)
}
