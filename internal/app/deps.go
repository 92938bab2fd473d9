package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"mzigo/internal/delivery"
	"mzigo/internal/delivery/dispatch"
	"mzigo/internal/delivery/notify"
)

// Logger provides minimal logging required by the app module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Config carries the settings of the outer services.
type Config struct {
	DGISAPIKey   string
	DGISRegionID string
	DGISLocales  []string
}

// Deps groups external dependencies. RDB, AMQP and Messaging are optional:
// without them positions are not stored, the feed cannot be redis or amqp
// and no pushes are sent.
type Deps struct {
	RDB        *redis.Client
	AMQP       *amqp091.Connection
	Messaging  notify.Sender
	Logger     Logger
	Config     Config
	Tracking   delivery.Config
	Dispatch   dispatch.Config
	HTTPClient *http.Client
	module     *moduleState
}

// Validate ensures required dependencies are provided.
func (d *Deps) Validate() error {
	if d == nil {
		return errors.New("app deps are nil")
	}
	if d.Logger == nil {
		return errors.New("app deps: Logger is required")
	}
	if d.Tracking.Feed == delivery.FeedRedis && d.RDB == nil {
		return errors.New("app deps: RDB is required for the redis feed")
	}
	if d.Tracking.Feed == delivery.FeedAMQP && d.AMQP == nil {
		return errors.New("app deps: AMQP is required for the amqp feed")
	}
	if d.Tracking.Dispatch {
		if err := d.Dispatch.Validate(); err != nil {
			return fmt.Errorf("app deps: %w", err)
		}
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	return nil
}
