// Package feed provides the event sources that drive a delivery's state
// machine: a simulated timer source plus Redis and RabbitMQ backed feeds.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mzigo/internal/delivery/fsm"
	"mzigo/internal/geo"
)

// Kind is the type of a delivery event.
type Kind string

const (
	KindAdvance  Kind = "advance"
	KindPosition Kind = "position"
)

var (
	ErrMalformedEvent = errors.New("feed: malformed event")
	ErrFeedClosed     = errors.New("feed: source closed")
)

// Event is one message of a delivery feed. Position is set for position
// events only.
type Event struct {
	Kind     Kind
	Position fsm.Position
}

// Advance returns an advance event.
func Advance() Event { return Event{Kind: KindAdvance} }

// PositionAt returns a position event.
func PositionAt(lat, lng float64, at time.Time) Event {
	return Event{Kind: KindPosition, Position: fsm.Position{Latitude: lat, Longitude: lng, Timestamp: at}}
}

type wireEvent struct {
	Kind      Kind     `json:"kind"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// EncodeEvent renders the JSON wire form of an event.
func EncodeEvent(ev Event) ([]byte, error) {
	w := wireEvent{Kind: ev.Kind}
	switch ev.Kind {
	case KindAdvance:
	case KindPosition:
		lat, lng := ev.Position.Latitude, ev.Position.Longitude
		w.Lat, w.Lng = &lat, &lng
		if !ev.Position.Timestamp.IsZero() {
			w.Timestamp = ev.Position.Timestamp.UTC().Format(time.RFC3339Nano)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	}
	return json.Marshal(w)
}

// DecodeEvent parses the JSON wire form of an event.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch w.Kind {
	case KindAdvance:
		return Advance(), nil
	case KindPosition:
		if w.Lat == nil || w.Lng == nil {
			return Event{}, fmt.Errorf("%w: position without coordinates", ErrMalformedEvent)
		}
		var at time.Time
		if w.Timestamp != "" {
			ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
			if err != nil {
				return Event{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedEvent, err)
			}
			at = ts
		}
		return PositionAt(*w.Lat, *w.Lng, at), nil
	}
	return Event{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, w.Kind)
}

// Route is what a source knows about the delivery it drives.
type Route struct {
	Start   *geo.Location
	Pickup  geo.Location
	Dropoff geo.Location
}

// Subscription identifies the delivery a source should follow. From is the
// status the delivery is in when the feed starts, requested when empty.
// Ready, when set, is called once the source is listening.
type Subscription struct {
	DeliveryID string
	Route      Route
	From       fsm.Status
	Ready      func()
}

func (s Subscription) ready() {
	if s.Ready != nil {
		s.Ready()
	}
}

// EventSource delivers events for one delivery to handle until ctx is done,
// the feed is exhausted or it fails. handle is called from a single
// goroutine.
type EventSource interface {
	Run(ctx context.Context, sub Subscription, handle func(Event)) error
}

// Publisher pushes events into a feed.
type Publisher interface {
	Publish(ctx context.Context, deliveryID string, ev Event) error
}

// Logger provides minimal logging for feed sources.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
