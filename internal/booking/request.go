package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mzigo/internal/geo"
	"mzigo/internal/timeutil"
	"mzigo/internal/wizard"
)

// CargoCategory classifies a shipment by size.
type CargoCategory string

const (
	CargoParcelBoda  CargoCategory = "parcel-boda"
	CargoParcelCargo CargoCategory = "parcel-cargo"
	CargoTrucks      CargoCategory = "trucks"
)

// CargoInfo describes a category as shown on the cargo selection step.
type CargoInfo struct {
	ID         CargoCategory `json:"id"`
	Name       string        `json:"name"`
	Capacity   string        `json:"capacity"`
	MaxWeightK int           `json:"max_weight_kg"`
}

// CargoCategories lists the selectable categories in display order.
var CargoCategories = []CargoInfo{
	{ID: CargoParcelBoda, Name: "Parcel Boda", Capacity: "Up to 10kg", MaxWeightK: 10},
	{ID: CargoParcelCargo, Name: "Parcel Cargo", Capacity: "Up to 50kg", MaxWeightK: 50},
	{ID: CargoTrucks, Name: "Trucks", Capacity: "Up to 1000kg", MaxWeightK: 1000},
}

func cargoOptions() []string {
	ids := make([]string, 0, len(CargoCategories))
	for _, c := range CargoCategories {
		ids = append(ids, string(c.ID))
	}
	return ids
}

// Schedule is the requested slot of a deferred delivery.
type Schedule struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes,omitempty"`
}

// At returns the scheduled moment in local time.
func (s Schedule) At() (time.Time, error) {
	return time.ParseInLocation(wizard.DateLayout+" "+wizard.TimeLayout, s.Date+" "+s.Time, timeutil.Location())
}

// DeliveryRequest is the completed booking.
type DeliveryRequest struct {
	CargoType       CargoCategory `json:"cargo_type"`
	Pickup          geo.Location  `json:"pickup"`
	Dropoff         geo.Location  `json:"dropoff"`
	CurrentLocation *geo.Location `json:"current_location,omitempty"`
	ContactName     string        `json:"contact_name"`
	ContactPhone    string        `json:"contact_phone"`
	Instructions    string        `json:"instructions,omitempty"`
	Schedule        *Schedule     `json:"schedule,omitempty"`
}

var ErrInvalidRequest = errors.New("booking: invalid delivery request")

// Deferred reports whether the delivery was scheduled for later.
func (r DeliveryRequest) Deferred() bool { return r.Schedule != nil }

// DistanceMeters returns the straight-line pickup to dropoff distance.
func (r DeliveryRequest) DistanceMeters() float64 {
	return geo.Distance(r.Pickup.Latitude, r.Pickup.Longitude, r.Dropoff.Latitude, r.Dropoff.Longitude)
}

// Validate checks the invariants of a request built outside the wizard.
func (r DeliveryRequest) Validate() error {
	var problems []string
	valid := false
	for _, c := range CargoCategories {
		if c.ID == r.CargoType {
			valid = true
		}
	}
	if !valid {
		problems = append(problems, "cargo_type")
	}
	if !r.Pickup.Resolved() {
		problems = append(problems, "pickup")
	}
	if !r.Dropoff.Resolved() {
		problems = append(problems, "dropoff")
	}
	if strings.TrimSpace(r.ContactName) == "" {
		problems = append(problems, "contact_name")
	}
	if !validPhone(r.ContactPhone) {
		problems = append(problems, "contact_phone")
	}
	if r.Schedule != nil && (strings.TrimSpace(r.Schedule.Date) == "" || strings.TrimSpace(r.Schedule.Time) == "") {
		problems = append(problems, "schedule")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, ", "))
	}
	return nil
}

func validPhone(phone string) bool {
	digits := 0
	for _, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
