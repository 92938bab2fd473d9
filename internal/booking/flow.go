// Package booking declares the customer booking wizard and the other forms
// of the app built on the wizard controller.
package booking

import (
	"time"

	"mzigo/internal/geo"
	"mzigo/internal/timeutil"
	"mzigo/internal/wizard"
)

// Field names of the booking wizard.
const (
	FieldCargoType        = "cargoType"
	FieldCurrentLocation  = "currentLocation"
	FieldPickupLocation   = "pickupLocation"
	FieldDeliveryLocation = "deliveryLocation"
	FieldContactName      = "contactName"
	FieldContactPhone     = "contactPhone"
	FieldInstructions     = "instructions"
	FieldDeferred         = "deferred"
	FieldScheduledDate    = "scheduledDate"
	FieldScheduledTime    = "scheduledTime"
	FieldScheduleNotes    = "scheduleNotes"
)

// minLegMeters is how far apart pickup and delivery must be.
const minLegMeters = 20

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func deferred(p wizard.Payload) bool { return p.Bool(FieldDeferred) }

// BookingFlow returns the three step delivery booking: cargo, locations and
// contact details with optional scheduling. A nil clock uses the local time.
func BookingFlow(now Clock) wizard.Flow[DeliveryRequest] {
	if now == nil {
		now = timeutil.Now
	}
	return wizard.Flow[DeliveryRequest]{
		Name: "booking",
		Steps: []wizard.Step{
			{
				Name: "cargo",
				Fields: []wizard.Field{
					{Name: FieldCargoType, Kind: wizard.KindOption, Required: true, Options: cargoOptions()},
				},
			},
			{
				Name: "locations",
				Fields: []wizard.Field{
					{Name: FieldCurrentLocation, Kind: wizard.KindLocation},
					{Name: FieldPickupLocation, Kind: wizard.KindLocation, Required: true},
					{Name: FieldDeliveryLocation, Kind: wizard.KindLocation, Required: true},
				},
				Check: checkLeg,
			},
			{
				Name: "contact",
				Fields: []wizard.Field{
					{Name: FieldContactName, Kind: wizard.KindText, Required: true},
					{Name: FieldContactPhone, Kind: wizard.KindText, Required: true},
					{Name: FieldInstructions, Kind: wizard.KindText},
					{Name: FieldDeferred, Kind: wizard.KindBool},
					{Name: FieldScheduledDate, Kind: wizard.KindDate, RequiredIf: deferred},
					{Name: FieldScheduledTime, Kind: wizard.KindTime, RequiredIf: deferred},
					{Name: FieldScheduleNotes, Kind: wizard.KindText},
				},
				Check: func(p wizard.Payload) []string { return checkContact(p, now()) },
			},
		},
		Build: buildRequest,
	}
}

// NewBookingWizard returns a controller for a fresh booking.
func NewBookingWizard(now Clock) (*wizard.Controller[DeliveryRequest], error) {
	return wizard.New(BookingFlow(now))
}

func checkLeg(p wizard.Payload) []string {
	pickup, _ := p.Location(FieldPickupLocation)
	drop, _ := p.Location(FieldDeliveryLocation)
	if geo.Distance(pickup.Latitude, pickup.Longitude, drop.Latitude, drop.Longitude) < minLegMeters {
		return []string{FieldDeliveryLocation}
	}
	return nil
}

func checkContact(p wizard.Payload, now time.Time) []string {
	var bad []string
	if !validPhone(p.String(FieldContactPhone)) {
		bad = append(bad, FieldContactPhone)
	}
	if !deferred(p) {
		return bad
	}
	now = timeutil.InLocal(now)
	day, err := time.ParseInLocation(wizard.DateLayout, p.String(FieldScheduledDate), timeutil.Location())
	if err != nil || day.Before(timeutil.StartOfDay(now)) {
		return append(bad, FieldScheduledDate)
	}
	at, err := Schedule{Date: p.String(FieldScheduledDate), Time: p.String(FieldScheduledTime)}.At()
	if err != nil || !at.After(now) {
		bad = append(bad, FieldScheduledTime)
	}
	return bad
}

func buildRequest(p wizard.Payload) (DeliveryRequest, error) {
	pickup, _ := p.Location(FieldPickupLocation)
	drop, _ := p.Location(FieldDeliveryLocation)
	req := DeliveryRequest{
		CargoType:    CargoCategory(p.String(FieldCargoType)),
		Pickup:       pickup,
		Dropoff:      drop,
		ContactName:  p.String(FieldContactName),
		ContactPhone: p.String(FieldContactPhone),
		Instructions: p.String(FieldInstructions),
	}
	if cur, ok := p.Location(FieldCurrentLocation); ok && cur.Resolved() {
		req.CurrentLocation = &cur
	}
	if deferred(p) {
		req.Schedule = &Schedule{
			Date:  p.String(FieldScheduledDate),
			Time:  p.String(FieldScheduledTime),
			Notes: p.String(FieldScheduleNotes),
		}
	}
	return req, req.Validate()
}
