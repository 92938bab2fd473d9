package fsm

import (
	"errors"
	"time"
)

// Status is a step of the delivery lifecycle.
type Status string

// Status constants used by the delivery state machine.
const (
	StatusRequested        Status = "requested"
	StatusDriverAssigned   Status = "driver_assigned"
	StatusEnRouteToPickup  Status = "en_route_to_pickup"
	StatusAtPickup         Status = "at_pickup"
	StatusEnRouteToDropoff Status = "en_route_to_dropoff"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
)

// sequence is the only forward path through the lifecycle.
var sequence = []Status{
	StatusRequested,
	StatusDriverAssigned,
	StatusEnRouteToPickup,
	StatusAtPickup,
	StatusEnRouteToDropoff,
	StatusDelivered,
}

var transitions = map[Status]map[Status]struct{}{
	StatusRequested:        {StatusDriverAssigned: {}, StatusCancelled: {}},
	StatusDriverAssigned:   {StatusEnRouteToPickup: {}, StatusCancelled: {}},
	StatusEnRouteToPickup:  {StatusAtPickup: {}, StatusCancelled: {}},
	StatusAtPickup:         {StatusEnRouteToDropoff: {}, StatusCancelled: {}},
	StatusEnRouteToDropoff: {StatusDelivered: {}, StatusCancelled: {}},
	StatusDelivered:        {},
	StatusCancelled:        {},
}

var (
	ErrInvalidTransition = errors.New("fsm: invalid status transition")
	ErrNotTrackable      = errors.New("fsm: driver position is not tracked in this status")
	ErrInvalidPosition   = errors.New("fsm: invalid driver position")
)

// CanTransition returns whether a delivery may move from one status to the
// other. A status never transitions to itself.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// EnRoute reports whether the driver position is tracked in s.
func (s Status) EnRoute() bool {
	return s == StatusEnRouteToPickup || s == StatusEnRouteToDropoff
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Next returns the status following s on the forward path.
func (s Status) Next() (Status, bool) {
	for i, st := range sequence[:len(sequence)-1] {
		if st == s {
			return sequence[i+1], true
		}
	}
	return "", false
}

// Sequence returns the forward path from requested to delivered.
func Sequence() []Status {
	out := make([]Status, len(sequence))
	copy(out, sequence)
	return out
}

// Position is the last reported location of the driver.
type Position struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusEvent is one entry of the delivery timeline.
type StatusEvent struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}
