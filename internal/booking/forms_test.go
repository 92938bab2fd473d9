package booking

import (
	"reflect"
	"strings"
	"testing"

	"mzigo/internal/wizard"
)

func TestRegistrationWizard(t *testing.T) {
	c, err := NewRegistrationWizard(fixedClock)
	if err != nil {
		t.Fatalf("NewRegistrationWizard: %v", err)
	}
	if c.StepCount() != 4 {
		t.Fatalf("expected 4 steps, got %d", c.StepCount())
	}

	set(t, c, FieldFullName, "Baraka Mushi")
	set(t, c, FieldPhone, "0713 222 333")
	set(t, c, FieldEmail, "baraka@")
	set(t, c, FieldPassword, "abc")
	_, err = c.Next()
	if got := missingOf(t, err); !reflect.DeepEqual(got, []string{FieldEmail, FieldPassword}) {
		t.Fatalf("unexpected missing fields %v", got)
	}
	if err := c.ClearField(FieldEmail); err != nil {
		t.Fatalf("ClearField: %v", err)
	}
	set(t, c, FieldPassword, "s3cret-pass")
	if tr, err := c.Next(); err != nil || tr != wizard.Advanced {
		t.Fatalf("personal step: %v %v", tr, err)
	}

	set(t, c, FieldLicenseNumber, "DL-123456")
	set(t, c, FieldLicenseExpiry, "2025-12-31")
	set(t, c, FieldIDNumber, "19900101-12345-00001-22")
	_, err = c.Next()
	if got := missingOf(t, err); !reflect.DeepEqual(got, []string{FieldLicenseExpiry}) {
		t.Fatalf("expired licence accepted: %v", got)
	}
	set(t, c, FieldLicenseExpiry, "2028-06-30")
	if _, err := c.Next(); err != nil {
		t.Fatalf("documents step: %v", err)
	}

	set(t, c, FieldVehicleType, "Hovercraft")
	set(t, c, FieldVehicleMake, "Toyota")
	set(t, c, FieldVehicleModel, "Probox")
	set(t, c, FieldVehicleYear, 1975)
	set(t, c, FieldPlateNumber, "t 123 abc")
	_, err = c.Next()
	if got := missingOf(t, err); !reflect.DeepEqual(got, []string{FieldVehicleType}) {
		t.Fatalf("unexpected missing fields %v", got)
	}
	set(t, c, FieldVehicleType, "Small Car")
	_, err = c.Next()
	if got := missingOf(t, err); !reflect.DeepEqual(got, []string{FieldVehicleYear}) {
		t.Fatalf("old vehicle accepted: %v", got)
	}
	set(t, c, FieldVehicleYear, float64(2016))
	if _, err := c.Next(); err != nil {
		t.Fatalf("vehicle step: %v", err)
	}

	set(t, c, FieldBankName, "CRDB")
	set(t, c, FieldAccountName, "Baraka Mushi")
	set(t, c, FieldAccountNumber, "0150000111222")
	if tr, err := c.Next(); err != nil || tr != wizard.Completed {
		t.Fatalf("expected completion, got %v %v", tr, err)
	}

	app, ok := c.Result()
	if !ok {
		t.Fatal("expected application")
	}
	if app.Email != "" || app.Vehicle.PlateNumber != "T 123 ABC" || app.Vehicle.Year != 2016 {
		t.Fatalf("unexpected application %+v", app)
	}
	if strings.Contains(app.PasswordHash, "s3cret") || !app.CheckPassword("s3cret-pass") || app.CheckPassword("wrong") {
		t.Fatal("password hash does not verify")
	}
}

func TestRatingWizard(t *testing.T) {
	cases := []struct {
		name    string
		values  map[string]any
		missing []string
		want    Rating
	}{
		{name: "no stars", values: map[string]any{}, missing: []string{FieldRating}},
		{name: "out of range", values: map[string]any{FieldRating: 6}, missing: []string{FieldRating}},
		{name: "fraction", values: map[string]any{FieldRating: 4.5}, missing: []string{FieldRating}},
		{name: "unknown tag", values: map[string]any{FieldRating: 5, FieldTags: "Friendly, Fast"}, missing: []string{FieldTags}},
		{
			name:   "complete",
			values: map[string]any{FieldRating: 5, FieldTags: "On Time, Friendly,On Time", FieldComment: " Asante sana "},
			want:   Rating{Stars: 5, Tags: []string{"On Time", "Friendly"}, Comment: "Asante sana"},
		},
		{name: "stars only", values: map[string]any{FieldRating: float64(1)}, want: Rating{Stars: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewRatingWizard()
			if err != nil {
				t.Fatalf("NewRatingWizard: %v", err)
			}
			for k, v := range tc.values {
				set(t, c, k, v)
			}
			tr, err := c.Next()
			if len(tc.missing) > 0 {
				if got := missingOf(t, err); !reflect.DeepEqual(got, tc.missing) {
					t.Fatalf("missing = %v, want %v", got, tc.missing)
				}
				return
			}
			if err != nil || tr != wizard.Completed {
				t.Fatalf("expected completion, got %v %v", tr, err)
			}
			got, _ := c.Result()
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
