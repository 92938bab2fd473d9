package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"mzigo/internal/delivery"
	"mzigo/internal/delivery/feed"
	"mzigo/internal/delivery/notify"
	"mzigo/internal/geo"
	"mzigo/internal/timeutil"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Infof(format string, _ ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, format)
	l.mu.Unlock()
}

func (l *testLogger) Errorf(format string, _ ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, format)
	l.mu.Unlock()
}

type stubNearby struct {
	drivers []geo.NearbyDriver
	radius  float64
	limit   int
}

func (n *stubNearby) Nearby(_ context.Context, _, _, radius float64, limit int) ([]geo.NearbyDriver, error) {
	n.radius, n.limit = radius, limit
	return n.drivers, nil
}

var (
	kariakoo = geo.Location{Latitude: -6.8163, Longitude: 39.2727, Address: "Kariakoo Market"}
	posta    = geo.Location{Latitude: -6.8162, Longitude: 39.2894, Address: "Posta"}
)

func fixedClock() time.Time {
	return time.Date(2026, time.March, 10, 10, 0, 0, 0, timeutil.Location())
}

type testEnv struct {
	srv     *httptest.Server
	devices *notify.Devices
	nearby  *stubNearby
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := &testLogger{}
	tracker, err := delivery.New(&delivery.Deps{
		Logger: logger,
		Config: delivery.DefaultConfig(),
		Source: feed.NewLocal(),
	})
	if err != nil {
		t.Fatalf("delivery.New: %v", err)
	}
	env := &testEnv{devices: notify.NewDevices(), nearby: &stubNearby{}}
	s := NewServer(Deps{
		Logger:   logger,
		Tracker:  tracker,
		Geocoder: geo.NewStaticPicker(kariakoo, posta),
		Nearby:   env.nearby,
		Devices:  env.devices,
		Clock:    fixedClock,
	})
	mux := pat.New()
	s.Register(mux, alice.New())
	env.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		env.srv.Close()
		tracker.Shutdown()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

const bookingBody = `{
	"cargoType": "parcel-boda",
	"pickupLocation": {"lat": -6.8163, "lng": 39.2727, "address": "Kariakoo Market"},
	"deliveryLocation": {"lat": -6.8162, "lng": 39.2894, "address": "Posta"},
	"contactName": "Juma",
	"contactPhone": "+255 712 345 678",
	"deferred": false
}`

func book(t *testing.T, env *testEnv) delivery.Snapshot {
	t.Helper()
	var snap delivery.Snapshot
	if code := env.do(t, http.MethodPost, "/api/v1/bookings", bookingBody, &snap); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	return snap
}

func TestCreateBookingAndDeliver(t *testing.T) {
	env := newTestEnv(t)
	snap := book(t, env)
	if snap.ID == "" || snap.Status != "requested" || snap.Request.Pickup.Address != "Kariakoo Market" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	path := "/api/v1/deliveries/" + snap.ID
	if code := env.do(t, http.MethodPost, path+"/rating", `{"rating": 5}`, nil); code != http.StatusConflict {
		t.Fatalf("rating before delivery: expected 409, got %d", code)
	}
	if code := env.do(t, http.MethodPost, path+"/events", `{"kind":"position","lat":-6.81,"lng":39.28}`, nil); code != http.StatusConflict {
		t.Fatalf("position while requested: expected 409, got %d", code)
	}
	for i := 0; i < 5; i++ {
		if code := env.do(t, http.MethodPost, path+"/events", `{"kind":"advance"}`, nil); code != http.StatusAccepted {
			t.Fatalf("advance %d: expected 202, got %d", i+1, code)
		}
	}
	if code := env.do(t, http.MethodPost, path+"/events", `{"kind":"advance"}`, nil); code != http.StatusConflict {
		t.Fatalf("advance past delivered: expected 409, got %d", code)
	}

	var got delivery.Snapshot
	if code := env.do(t, http.MethodGet, path, "", &got); code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", code)
	}
	if got.Status != "delivered" || len(got.History) != 6 {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	var rating struct {
		Stars int      `json:"stars"`
		Tags  []string `json:"tags"`
	}
	if code := env.do(t, http.MethodPost, path+"/rating", `{"rating": 4, "tags": "Friendly"}`, &rating); code != http.StatusCreated {
		t.Fatalf("rating: expected 201, got %d", code)
	}
	if rating.Stars != 4 || len(rating.Tags) != 1 {
		t.Fatalf("unexpected rating %+v", rating)
	}
	if code := env.do(t, http.MethodPost, path+"/rating", `{"rating": 5}`, nil); code != http.StatusConflict {
		t.Fatalf("second rating: expected 409, got %d", code)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t)

	var verr struct {
		Step     int      `json:"step"`
		StepName string   `json:"step_name"`
		Missing  []string `json:"missing"`
	}
	if code := env.do(t, http.MethodPost, "/api/v1/bookings", `{}`, &verr); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if verr.Step != 1 || verr.StepName != "cargo" || len(verr.Missing) != 1 || verr.Missing[0] != "cargoType" {
		t.Fatalf("unexpected validation error %+v", verr)
	}

	body := strings.Replace(bookingBody, `"deferred": false`, `"deferred": true`, 1)
	if code := env.do(t, http.MethodPost, "/api/v1/bookings", body, &verr); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if verr.Step != 3 || len(verr.Missing) != 2 {
		t.Fatalf("deferred booking without schedule: %+v", verr)
	}

	if code := env.do(t, http.MethodPost, "/api/v1/bookings", `{"colour": "red"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/v1/bookings", `not json`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", code)
	}
}

func TestCancelDelivery(t *testing.T) {
	env := newTestEnv(t)
	snap := book(t, env)
	path := "/api/v1/deliveries/" + snap.ID + "/cancel"

	var got delivery.Snapshot
	if code := env.do(t, http.MethodPost, path, `{"reason": "wrong address"}`, &got); code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", code)
	}
	last := got.History[len(got.History)-1]
	if got.Status != "cancelled" || last.Note != "wrong address" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if code := env.do(t, http.MethodPost, path, "", nil); code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/v1/deliveries/missing/cancel", "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown delivery: expected 404, got %d", code)
	}

	var list []delivery.Snapshot
	if code := env.do(t, http.MethodGet, "/api/v1/deliveries?status=cancelled", "", &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %+v", code, list)
	}
	if code := env.do(t, http.MethodGet, "/api/v1/deliveries?status=requested", "", &list); code != http.StatusOK || len(list) != 0 {
		t.Fatalf("filtered list: %d %+v", code, list)
	}
}

func TestDeliveryEventsRejectMalformed(t *testing.T) {
	env := newTestEnv(t)
	snap := book(t, env)
	path := "/api/v1/deliveries/" + snap.ID + "/events"
	for _, body := range []string{`{"kind":"teleport"}`, `{"kind":"position"}`, `[]`} {
		if code := env.do(t, http.MethodPost, path, body, nil); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, code)
		}
	}
	if code := env.do(t, http.MethodPost, "/api/v1/deliveries/missing/events", `{"kind":"advance"}`, nil); code != http.StatusNotFound {
		t.Fatalf("unknown delivery: expected 404, got %d", code)
	}
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)
	snap := book(t, env)
	path := "/api/v1/deliveries/" + snap.ID + "/devices"
	if code := env.do(t, http.MethodPost, path, `{"token": "tok-1", "lang": "sw"}`, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := env.do(t, http.MethodPost, path, `{"token": " "}`, nil); code != http.StatusBadRequest {
		t.Fatalf("blank token: expected 400, got %d", code)
	}
	devs := env.devices.List(snap.ID)
	if len(devs) != 1 || devs[0].Lang != "sw" {
		t.Fatalf("unexpected devices %+v", devs)
	}
}

func TestDriverApplication(t *testing.T) {
	env := newTestEnv(t)
	body := `{
		"fullName": "Baraka Mushi",
		"phone": "0713 222 333",
		"password": "s3cret-pass",
		"licenseNumber": "DL-123456",
		"licenseExpiry": "2028-06-30",
		"idNumber": "19900101-12345-00001-22",
		"vehicleType": "Small Car",
		"vehicleMake": "Toyota",
		"vehicleModel": "Probox",
		"vehicleYear": 2016,
		"plateNumber": "t 123 abc",
		"bankName": "CRDB",
		"accountName": "Baraka Mushi",
		"accountNumber": "0150000111222"
	}`
	var created map[string]json.RawMessage
	if code := env.do(t, http.MethodPost, "/api/v1/drivers/applications", body, &created); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if strings.Contains(string(created["application"]), "s3cret") || strings.Contains(string(created["application"]), "password") {
		t.Fatalf("password leaked: %s", created["application"])
	}
	var id string
	if err := json.Unmarshal(created["id"], &id); err != nil || id == "" {
		t.Fatalf("missing id: %v", err)
	}
	var fetched applicationResponse
	if code := env.do(t, http.MethodGet, "/api/v1/drivers/applications/"+id, "", &fetched); code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", code)
	}
	if fetched.Application.Vehicle.PlateNumber != "T 123 ABC" {
		t.Fatalf("unexpected application %+v", fetched.Application)
	}

	var verr struct {
		Step    int      `json:"step"`
		Missing []string `json:"missing"`
	}
	short := strings.Replace(body, `"s3cret-pass"`, `"abc"`, 1)
	if code := env.do(t, http.MethodPost, "/api/v1/drivers/applications", short, &verr); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if verr.Step != 1 || len(verr.Missing) != 1 || verr.Missing[0] != "password" {
		t.Fatalf("unexpected validation error %+v", verr)
	}
}

func TestGeoEndpoints(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name    string
		path    string
		code    int
		address string
	}{
		{"search", "/api/v1/geo/search?q=kariakoo", http.StatusOK, "Kariakoo Market"},
		{"search miss", "/api/v1/geo/search?q=arusha", http.StatusNotFound, ""},
		{"search empty", "/api/v1/geo/search", http.StatusBadRequest, ""},
		{"reverse", "/api/v1/geo/reverse?lat=-6.8162&lng=39.2895", http.StatusOK, "Posta"},
		{"reverse bad", "/api/v1/geo/reverse?lat=abc&lng=39.2", http.StatusBadRequest, ""},
		{"device", "/api/v1/geo/device?lat=-6.8163&lng=39.2727", http.StatusOK, "Kariakoo Market"},
		{"device far", "/api/v1/geo/device?lat=-3.3869&lng=36.6830", http.StatusOK, geo.FormatCoordinates(-3.3869, 36.6830)},
		{"device denied", "/api/v1/geo/device?granted=false", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var loc geo.Location
			code := env.do(t, http.MethodGet, tc.path, "", &loc)
			if code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, code)
			}
			if tc.address != "" && loc.Address != tc.address {
				t.Fatalf("expected %q, got %q", tc.address, loc.Address)
			}
		})
	}
}

func TestNearbyDrivers(t *testing.T) {
	env := newTestEnv(t)
	env.nearby.drivers = []geo.NearbyDriver{{DeliveryID: "d-1", Dist: 120, Lat: -6.81, Lng: 39.27}}

	var out []struct {
		DeliveryID string  `json:"delivery_id"`
		Distance   float64 `json:"distance_m"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/deliveries/nearby?lat=-6.81&lng=39.27&radius=50000&limit=5", "", &out); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(out) != 1 || out[0].DeliveryID != "d-1" || out[0].Distance != 120 {
		t.Fatalf("unexpected drivers %+v", out)
	}
	if env.nearby.radius != maxNearbyRadius || env.nearby.limit != 5 {
		t.Fatalf("radius %v limit %d not clamped", env.nearby.radius, env.nearby.limit)
	}
	if code := env.do(t, http.MethodGet, "/api/v1/deliveries/nearby?lat=-6.81", "", nil); code != http.StatusBadRequest {
		t.Fatalf("missing lng: expected 400, got %d", code)
	}
}

func TestTrackingSocketDisabled(t *testing.T) {
	env := newTestEnv(t)
	if code := env.do(t, http.MethodGet, "/ws/tracking?delivery_id=x", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}
