package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultCenter is the map centre used when nothing else is known (Dar es Salaam).
var DefaultCenter = Location{Latitude: -6.7924, Longitude: 39.2083, Address: "Dar es Salaam, Tanzania"}

var (
	ErrNotFound         = errors.New("location not found")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location service unavailable")
)

// ResolutionError reports a failed location lookup.
type ResolutionError struct {
	Op  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("geo: %s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func resolutionErr(op string, err error) error {
	return &ResolutionError{Op: op, Err: err}
}

// Location is a resolved point with a human-readable address.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address"`
}

// Resolved reports whether the location carries usable coordinates and an address.
func (l Location) Resolved() bool {
	if strings.TrimSpace(l.Address) == "" {
		return false
	}
	return ValidCoordinates(l.Latitude, l.Longitude)
}

// ValidCoordinates rejects out-of-range and near-zero coordinates.
func ValidCoordinates(lat, lng float64) bool {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false
	}
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return !(math.Abs(lat) < 1e-4 && math.Abs(lng) < 1e-4)
}

// LocationPicker resolves user input into a Location.
type LocationPicker interface {
	SearchByText(ctx context.Context, query string) (Location, error)
	ResolveByCoordinates(ctx context.Context, lat, lng float64) (Location, error)
	CurrentDevicePosition(ctx context.Context) (Location, error)
}

// Geocoder covers the text and coordinate lookups of a map provider.
type Geocoder interface {
	SearchByText(ctx context.Context, query string) (Location, error)
	ResolveByCoordinates(ctx context.Context, lat, lng float64) (Location, error)
}

// DeviceLocator yields the raw position reported by the user's device.
type DeviceLocator interface {
	DevicePosition(ctx context.Context) (lat, lng float64, err error)
}

// Picker combines a geocoder with the device position source.
type Picker struct {
	Geocoder Geocoder
	Device   DeviceLocator
}

var _ LocationPicker = (*Picker)(nil)

func (p *Picker) SearchByText(ctx context.Context, query string) (Location, error) {
	if p.Geocoder == nil {
		return Location{}, resolutionErr("search", ErrUnavailable)
	}
	return p.Geocoder.SearchByText(ctx, query)
}

func (p *Picker) ResolveByCoordinates(ctx context.Context, lat, lng float64) (Location, error) {
	if p.Geocoder == nil {
		return Location{}, resolutionErr("reverse", ErrUnavailable)
	}
	return p.Geocoder.ResolveByCoordinates(ctx, lat, lng)
}

// CurrentDevicePosition reverse-geocodes the device position. When the
// geocoder has no address for the point the raw coordinates are used as the
// address so the user still gets a pin.
func (p *Picker) CurrentDevicePosition(ctx context.Context) (Location, error) {
	if p.Device == nil {
		return Location{}, resolutionErr("device", ErrUnavailable)
	}
	lat, lng, err := p.Device.DevicePosition(ctx)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			return Location{}, err
		}
		return Location{}, resolutionErr("device", err)
	}
	if !ValidCoordinates(lat, lng) {
		return Location{}, resolutionErr("device", ErrUnavailable)
	}
	loc, err := p.ResolveByCoordinates(ctx, lat, lng)
	if errors.Is(err, ErrNotFound) {
		return Location{Latitude: lat, Longitude: lng, Address: FormatCoordinates(lat, lng)}, nil
	}
	return loc, err
}

// FormatCoordinates renders a point the way the map pins label it.
func FormatCoordinates(lat, lng float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lng)
}

// DeviceFunc adapts a function to DeviceLocator.
type DeviceFunc func(ctx context.Context) (float64, float64, error)

func (f DeviceFunc) DevicePosition(ctx context.Context) (float64, float64, error) {
	return f(ctx)
}

// ReportedDevice is a position supplied by the client application together
// with the outcome of the permission prompt.
type ReportedDevice struct {
	Lat     float64
	Lng     float64
	Granted bool
}

func (d ReportedDevice) DevicePosition(ctx context.Context) (float64, float64, error) {
	if !d.Granted {
		return 0, 0, resolutionErr("device", ErrPermissionDenied)
	}
	if !ValidCoordinates(d.Lat, d.Lng) {
		return 0, 0, resolutionErr("device", ErrUnavailable)
	}
	return d.Lat, d.Lng, nil
}
