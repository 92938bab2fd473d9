package delivery

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Feed kinds selectable with TRACKING_FEED.
const (
	FeedSimulated = "simulated"
	FeedRedis     = "redis"
	FeedAMQP      = "amqp"
)

const (
	defaultStepInterval     = 5 * time.Second
	defaultPositionInterval = 2 * time.Second
	defaultJitter           = 0.0005
	defaultRetention        = 30 * time.Minute
	defaultCleanupTick      = time.Minute
	defaultCity             = "dar-es-salaam"
	defaultExchange         = "delivery.events"
)

// Config holds runtime configuration for delivery tracking.
type Config struct {
	StepInterval     time.Duration
	PositionInterval time.Duration
	Jitter           float64
	Retention        time.Duration
	CleanupTick      time.Duration
	Feed             string
	City             string
	Exchange         string
	// Dispatch holds each delivery in requested until a driver accepts an
	// offer for it.
	Dispatch bool
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		StepInterval:     defaultStepInterval,
		PositionInterval: defaultPositionInterval,
		Jitter:           defaultJitter,
		Retention:        defaultRetention,
		CleanupTick:      defaultCleanupTick,
		Feed:             FeedSimulated,
		City:             defaultCity,
		Exchange:         defaultExchange,
	}
}

// LoadConfig reads tracking configuration from environment variables and applies defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if v, err := readIntEnv("TRACKING_STEP_SECONDS"); err != nil {
		return Config{}, fmt.Errorf("parse TRACKING_STEP_SECONDS: %w", err)
	} else if v != nil {
		cfg.StepInterval = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("TRACKING_POSITION_SECONDS"); err != nil {
		return Config{}, fmt.Errorf("parse TRACKING_POSITION_SECONDS: %w", err)
	} else if v != nil {
		cfg.PositionInterval = time.Duration(*v) * time.Second
	}

	if v := strings.TrimSpace(os.Getenv("TRACKING_JITTER_DEGREES")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse TRACKING_JITTER_DEGREES: %w", err)
		}
		cfg.Jitter = f
	}

	if v, err := readIntEnv("TRACKING_RETENTION_MINUTES"); err != nil {
		return Config{}, fmt.Errorf("parse TRACKING_RETENTION_MINUTES: %w", err)
	} else if v != nil {
		cfg.Retention = time.Duration(*v) * time.Minute
	}

	if v, err := readIntEnv("TRACKING_CLEANUP_SECONDS"); err != nil {
		return Config{}, fmt.Errorf("parse TRACKING_CLEANUP_SECONDS: %w", err)
	} else if v != nil {
		cfg.CleanupTick = time.Duration(*v) * time.Second
	}

	if v := os.Getenv("TRACKING_FEED"); strings.TrimSpace(v) != "" {
		cfg.Feed = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("TRACKING_CITY"); strings.TrimSpace(v) != "" {
		cfg.City = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("TRACKING_AMQP_EXCHANGE"); strings.TrimSpace(v) != "" {
		cfg.Exchange = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("TRACKING_DISPATCH")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TRACKING_DISPATCH: %w", err)
		}
		cfg.Dispatch = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.StepInterval <= 0 {
		return fmt.Errorf("TRACKING_STEP_SECONDS must be positive")
	}
	if c.PositionInterval <= 0 {
		return fmt.Errorf("TRACKING_POSITION_SECONDS must be positive")
	}
	if c.Jitter < 0 || c.Jitter > 0.01 {
		return fmt.Errorf("TRACKING_JITTER_DEGREES must be within [0, 0.01]")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("TRACKING_RETENTION_MINUTES must be positive")
	}
	if c.CleanupTick <= 0 {
		return fmt.Errorf("TRACKING_CLEANUP_SECONDS must be positive")
	}
	switch c.Feed {
	case FeedSimulated, FeedRedis, FeedAMQP:
	default:
		return fmt.Errorf("TRACKING_FEED must be one of %s, %s, %s", FeedSimulated, FeedRedis, FeedAMQP)
	}
	return nil
}

func readIntEnv(name string) (*int, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
