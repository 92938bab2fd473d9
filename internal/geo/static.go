package geo

import (
	"context"
	"strings"
	"sync"
)

// StaticPicker resolves against a fixed in-memory catalogue. It backs local
// runs without a 2GIS key and the tests.
type StaticPicker struct {
	mu      sync.RWMutex
	places  []Location
	device  *Location
	denied  bool
	radiusM float64
}

// NewStaticPicker builds a picker over the given places. Reverse lookups
// match the nearest place within 250 meters.
func NewStaticPicker(places ...Location) *StaticPicker {
	cp := make([]Location, len(places))
	copy(cp, places)
	return &StaticPicker{places: cp, radiusM: 250}
}

var _ LocationPicker = (*StaticPicker)(nil)

// Landmarks is the catalogue served when no map provider is configured.
var Landmarks = []Location{
	{Latitude: -6.8163, Longitude: 39.2727, Address: "Kariakoo Market, Dar es Salaam"},
	{Latitude: -6.8162, Longitude: 39.2894, Address: "Posta, Dar es Salaam"},
	{Latitude: -6.7725, Longitude: 39.2213, Address: "Mlimani City, Dar es Salaam"},
	{Latitude: -6.8781, Longitude: 39.2026, Address: "Julius Nyerere International Airport"},
	{Latitude: -6.8236, Longitude: 39.2958, Address: "Kivukoni Ferry, Dar es Salaam"},
	{Latitude: -6.7680, Longitude: 39.2470, Address: "Mwenge, Dar es Salaam"},
	{Latitude: -6.7471, Longitude: 39.2780, Address: "Masaki, Dar es Salaam"},
}

// SetDevice sets the position reported as the device position.
func (p *StaticPicker) SetDevice(loc Location) {
	p.mu.Lock()
	p.device = &loc
	p.denied = false
	p.mu.Unlock()
}

// DenyDevice simulates the user refusing the location permission prompt.
func (p *StaticPicker) DenyDevice() {
	p.mu.Lock()
	p.denied = true
	p.mu.Unlock()
}

func (p *StaticPicker) SearchByText(ctx context.Context, query string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, resolutionErr("search", ErrUnavailable)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Location{}, resolutionErr("search", ErrNotFound)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pl := range p.places {
		if strings.Contains(strings.ToLower(pl.Address), q) {
			return pl, nil
		}
	}
	return Location{}, resolutionErr("search", ErrNotFound)
}

func (p *StaticPicker) ResolveByCoordinates(ctx context.Context, lat, lng float64) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, resolutionErr("reverse", ErrUnavailable)
	}
	if !ValidCoordinates(lat, lng) {
		return Location{}, resolutionErr("reverse", ErrNotFound)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	best := -1.0
	var found Location
	for _, pl := range p.places {
		d := Distance(lat, lng, pl.Latitude, pl.Longitude)
		if d <= p.radiusM && (best < 0 || d < best) {
			best = d
			found = pl
		}
	}
	if best < 0 {
		return Location{}, resolutionErr("reverse", ErrNotFound)
	}
	return Location{Latitude: lat, Longitude: lng, Address: found.Address}, nil
}

func (p *StaticPicker) CurrentDevicePosition(ctx context.Context) (Location, error) {
	p.mu.RLock()
	denied, device := p.denied, p.device
	p.mu.RUnlock()
	if denied {
		return Location{}, resolutionErr("device", ErrPermissionDenied)
	}
	if device == nil {
		return Location{}, resolutionErr("device", ErrUnavailable)
	}
	return *device, nil
}
