package booking

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mzigo/internal/timeutil"
	"mzigo/internal/wizard"
)

// Vehicle types a driver can register with.
var VehicleTypes = []string{
	"Motorcycle/Boda",
	"Small Car",
	"Sedan",
	"SUV",
	"Van",
	"Small Truck",
	"Large Truck",
}

const (
	FieldFullName      = "fullName"
	FieldPhone         = "phone"
	FieldEmail         = "email"
	FieldPassword      = "password"
	FieldLicenseNumber = "licenseNumber"
	FieldLicenseExpiry = "licenseExpiry"
	FieldIDNumber      = "idNumber"
	FieldVehicleType   = "vehicleType"
	FieldVehicleMake   = "vehicleMake"
	FieldVehicleModel  = "vehicleModel"
	FieldVehicleYear   = "vehicleYear"
	FieldPlateNumber   = "plateNumber"
	FieldBankName      = "bankName"
	FieldAccountName   = "accountName"
	FieldAccountNumber = "accountNumber"
)

const (
	minPasswordLen    = 6
	oldestVehicleYear = 1980
)

// Vehicle is the vehicle a driver operates.
type Vehicle struct {
	Type        string `json:"type"`
	Make        string `json:"make"`
	Model       string `json:"model"`
	Year        int    `json:"year"`
	PlateNumber string `json:"plate_number"`
}

// BankAccount receives the driver's payouts.
type BankAccount struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// DriverApplication is the outcome of the driver registration wizard.
type DriverApplication struct {
	FullName      string      `json:"full_name"`
	Phone         string      `json:"phone"`
	Email         string      `json:"email,omitempty"`
	PasswordHash  string      `json:"-"`
	LicenseNumber string      `json:"license_number"`
	LicenseExpiry string      `json:"license_expiry"`
	IDNumber      string      `json:"id_number"`
	Vehicle       Vehicle     `json:"vehicle"`
	Bank          BankAccount `json:"bank"`
}

// CheckPassword reports whether password matches the stored hash.
func (a DriverApplication) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// RegistrationFlow returns the four step driver onboarding: personal
// details, documents, vehicle and banking.
func RegistrationFlow(now Clock) wizard.Flow[DriverApplication] {
	if now == nil {
		now = timeutil.Now
	}
	return wizard.Flow[DriverApplication]{
		Name: "driver-registration",
		Steps: []wizard.Step{
			{
				Name: "personal",
				Fields: []wizard.Field{
					{Name: FieldFullName, Kind: wizard.KindText, Required: true},
					{Name: FieldPhone, Kind: wizard.KindText, Required: true},
					{Name: FieldEmail, Kind: wizard.KindText},
					{Name: FieldPassword, Kind: wizard.KindText, Required: true},
				},
				Check: checkPersonal,
			},
			{
				Name: "documents",
				Fields: []wizard.Field{
					{Name: FieldLicenseNumber, Kind: wizard.KindText, Required: true},
					{Name: FieldLicenseExpiry, Kind: wizard.KindDate, Required: true},
					{Name: FieldIDNumber, Kind: wizard.KindText, Required: true},
				},
				Check: func(p wizard.Payload) []string {
					expiry, _ := time.ParseInLocation(wizard.DateLayout, p.String(FieldLicenseExpiry), timeutil.Location())
					if expiry.Before(timeutil.StartOfDay(now())) {
						return []string{FieldLicenseExpiry}
					}
					return nil
				},
			},
			{
				Name: "vehicle",
				Fields: []wizard.Field{
					{Name: FieldVehicleType, Kind: wizard.KindOption, Required: true, Options: VehicleTypes},
					{Name: FieldVehicleMake, Kind: wizard.KindText, Required: true},
					{Name: FieldVehicleModel, Kind: wizard.KindText, Required: true},
					{Name: FieldVehicleYear, Kind: wizard.KindNumber, Required: true},
					{Name: FieldPlateNumber, Kind: wizard.KindText, Required: true},
				},
				Check: func(p wizard.Payload) []string {
					year, _ := p.Number(FieldVehicleYear)
					if year != float64(int(year)) || int(year) < oldestVehicleYear || int(year) > timeutil.InLocal(now()).Year()+1 {
						return []string{FieldVehicleYear}
					}
					return nil
				},
			},
			{
				Name: "banking",
				Fields: []wizard.Field{
					{Name: FieldBankName, Kind: wizard.KindText, Required: true},
					{Name: FieldAccountName, Kind: wizard.KindText, Required: true},
					{Name: FieldAccountNumber, Kind: wizard.KindText, Required: true},
				},
			},
		},
		Build: buildApplication,
	}
}

// NewRegistrationWizard returns a controller for a fresh driver application.
func NewRegistrationWizard(now Clock) (*wizard.Controller[DriverApplication], error) {
	return wizard.New(RegistrationFlow(now))
}

func checkPersonal(p wizard.Payload) []string {
	var bad []string
	if !validPhone(p.String(FieldPhone)) {
		bad = append(bad, FieldPhone)
	}
	if email := p.String(FieldEmail); email != "" {
		at := strings.Index(email, "@")
		if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
			bad = append(bad, FieldEmail)
		}
	}
	// the password is kept untrimmed, spaces count
	if pw, _ := p[FieldPassword].(string); len(pw) < minPasswordLen {
		bad = append(bad, FieldPassword)
	}
	return bad
}

func buildApplication(p wizard.Payload) (DriverApplication, error) {
	pw, _ := p[FieldPassword].(string)
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return DriverApplication{}, fmt.Errorf("hash password: %w", err)
	}
	year, _ := p.Number(FieldVehicleYear)
	return DriverApplication{
		FullName:      p.String(FieldFullName),
		Phone:         p.String(FieldPhone),
		Email:         strings.ToLower(p.String(FieldEmail)),
		PasswordHash:  string(hash),
		LicenseNumber: p.String(FieldLicenseNumber),
		LicenseExpiry: p.String(FieldLicenseExpiry),
		IDNumber:      p.String(FieldIDNumber),
		Vehicle: Vehicle{
			Type:        p.String(FieldVehicleType),
			Make:        p.String(FieldVehicleMake),
			Model:       p.String(FieldVehicleModel),
			Year:        int(year),
			PlateNumber: strings.ToUpper(p.String(FieldPlateNumber)),
		},
		Bank: BankAccount{
			BankName:      p.String(FieldBankName),
			AccountName:   p.String(FieldAccountName),
			AccountNumber: p.String(FieldAccountNumber),
		},
	}, nil
}
