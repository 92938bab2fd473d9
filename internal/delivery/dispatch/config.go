package dispatch

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTick          = 3 * time.Second
	defaultOfferTTL      = 20 * time.Second
	defaultRadiusStart   = 1500
	defaultRadiusStep    = 1000
	defaultRadiusMax     = 8000
	defaultSearchTimeout = 10 * time.Minute
	defaultCandidates    = 10
)

// Config holds the matching knobs of the dispatcher.
type Config struct {
	Tick              time.Duration
	OfferTTL          time.Duration
	SearchRadiusStart int
	SearchRadiusStep  int
	SearchRadiusMax   int
	// SearchTimeout cancels a delivery nobody accepted. Zero searches forever.
	SearchTimeout time.Duration
	Candidates    int
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		Tick:              defaultTick,
		OfferTTL:          defaultOfferTTL,
		SearchRadiusStart: defaultRadiusStart,
		SearchRadiusStep:  defaultRadiusStep,
		SearchRadiusMax:   defaultRadiusMax,
		SearchTimeout:     defaultSearchTimeout,
		Candidates:        defaultCandidates,
	}
}

// LoadConfig reads dispatch configuration from DISPATCH_* variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	seconds := []struct {
		name string
		dst  *time.Duration
	}{
		{"DISPATCH_TICK_SECONDS", &cfg.Tick},
		{"DISPATCH_OFFER_TTL_SECONDS", &cfg.OfferTTL},
		{"DISPATCH_SEARCH_TIMEOUT_SECONDS", &cfg.SearchTimeout},
	}
	for _, s := range seconds {
		v, err := readIntEnv(s.name)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
		}
		if v != nil {
			*s.dst = time.Duration(*v) * time.Second
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"DISPATCH_RADIUS_START_M", &cfg.SearchRadiusStart},
		{"DISPATCH_RADIUS_STEP_M", &cfg.SearchRadiusStep},
		{"DISPATCH_RADIUS_MAX_M", &cfg.SearchRadiusMax},
		{"DISPATCH_CANDIDATES", &cfg.Candidates},
	}
	for _, s := range ints {
		v, err := readIntEnv(s.name)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
		}
		if v != nil {
			*s.dst = *v
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("DISPATCH_TICK_SECONDS must be positive")
	}
	if c.OfferTTL <= 0 {
		return fmt.Errorf("DISPATCH_OFFER_TTL_SECONDS must be positive")
	}
	if c.SearchTimeout < 0 {
		return fmt.Errorf("DISPATCH_SEARCH_TIMEOUT_SECONDS must not be negative")
	}
	if c.SearchRadiusStart <= 0 || c.SearchRadiusStep < 0 || c.SearchRadiusMax < c.SearchRadiusStart {
		return fmt.Errorf("dispatch radius must satisfy 0 < start <= max and step >= 0")
	}
	if c.Candidates <= 0 {
		return fmt.Errorf("DISPATCH_CANDIDATES must be positive")
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
