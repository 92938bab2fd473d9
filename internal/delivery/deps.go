package delivery

import (
	"context"
	"fmt"

	"mzigo/internal/delivery/feed"
	"mzigo/internal/delivery/fsm"
)

// Logger is the minimal logging interface required by the tracking module.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Broadcaster fans delivery updates out to live viewers.
type Broadcaster interface {
	Push(deliveryID string, payload interface{})
	Close(deliveryID string)
}

// PositionStore keeps the latest driver position of each delivery.
type PositionStore interface {
	Save(ctx context.Context, deliveryID string, lat, lng float64) error
	Forget(ctx context.Context, deliveryID string) error
}

// Notifier pushes status changes to the customer.
type Notifier interface {
	StatusChanged(ctx context.Context, deliveryID string, status fsm.Status) error
	Forget(deliveryID string)
}

// Deps aggregates runtime dependencies for the tracking module. Hub,
// Positions, Notifier and Publisher are optional.
type Deps struct {
	Logger    Logger
	Config    Config
	Source    feed.EventSource
	Publisher feed.Publisher
	Hub       Broadcaster
	Positions PositionStore
	Notifier  Notifier
}

// Validate ensures that the deps struct contains the essentials before bootstrapping services.
func (d *Deps) Validate() error {
	if d == nil {
		return fmt.Errorf("tracking deps are nil")
	}
	if d.Logger == nil {
		return fmt.Errorf("tracking deps Logger is required")
	}
	if d.Source == nil {
		return fmt.Errorf("tracking deps Source is required")
	}
	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("tracking deps Config: %w", err)
	}
	return nil
}
