package wizard

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"mzigo/internal/geo"
)

type testResult struct {
	Name   string
	Pickup geo.Location
	Rush   bool
}

func testFlow() Flow[testResult] {
	return Flow[testResult]{
		Name: "test",
		Steps: []Step{
			{Name: "name", Fields: []Field{{Name: "name", Kind: KindText, Required: true}}},
			{Name: "where", Fields: []Field{
				{Name: "pickup", Kind: KindLocation, Required: true},
				{Name: "rush", Kind: KindBool},
				{Name: "deadline", Kind: KindTime, RequiredIf: func(p Payload) bool { return p.Bool("rush") }},
			}},
			{Name: "size", Fields: []Field{{Name: "size", Kind: KindOption, Required: true, Options: []string{"s", "m"}}}},
		},
		Build: func(p Payload) (testResult, error) {
			loc, _ := p.Location("pickup")
			return testResult{Name: p.String("name"), Pickup: loc, Rush: p.Bool("rush")}, nil
		},
	}
}

type recorder struct {
	steps     []int
	failures  []ValidationResult
	completed []testResult
	cancelled int
}

func (r *recorder) OnStepChanged(step int, _ Payload)       { r.steps = append(r.steps, step) }
func (r *recorder) OnValidationFailed(res ValidationResult) { r.failures = append(r.failures, res) }
func (r *recorder) OnWizardCompleted(res testResult)        { r.completed = append(r.completed, res) }
func (r *recorder) OnWizardCancelled()                      { r.cancelled++ }

var depot = geo.Location{Latitude: -6.80, Longitude: 39.21, Address: "Depot"}

func newTestController(t *testing.T) (*Controller[testResult], *recorder) {
	t.Helper()
	c, err := New(testFlow())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{}
	c.Observe(rec)
	return c, rec
}

func TestNextBlockedByValidation(t *testing.T) {
	c, rec := newTestController(t)

	tr, err := c.Next()
	if tr != Stayed || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation failure, got %v %v", tr, err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || !reflect.DeepEqual(verr.Result.Missing, []string{"name"}) {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if c.CurrentStep() != 1 {
		t.Fatalf("step moved to %d", c.CurrentStep())
	}
	if len(rec.failures) != 1 || rec.failures[0].Step != 1 {
		t.Fatalf("expected one validation notification, got %+v", rec.failures)
	}
	if len(c.CurrentPayload()) != 0 {
		t.Fatalf("payload changed by failed validation")
	}

	if err := c.SetField("name", "   "); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if _, err := c.Next(); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank text must not satisfy a required field, got %v", err)
	}
}

func TestHappyPathAndConditionalField(t *testing.T) {
	c, rec := newTestController(t)
	mustSet(t, c, "name", "Asha")
	mustNext(t, c, Advanced)

	// a search string is not a resolved location
	mustSet(t, c, "pickup", "Kariakoo")
	if _, err := c.Next(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unresolved location to fail, got %v", err)
	}

	mustSet(t, c, "pickup", depot)
	mustSet(t, c, "rush", true)
	_, err := c.Next()
	var verr *ValidationError
	if !errors.As(err, &verr) || !reflect.DeepEqual(verr.Result.Missing, []string{"deadline"}) {
		t.Fatalf("expected conditional deadline to be required, got %v", err)
	}
	mustSet(t, c, "deadline", "25:99")
	if _, err := c.Next(); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed time accepted")
	}
	mustSet(t, c, "deadline", "14:30")
	mustNext(t, c, Advanced)

	mustSet(t, c, "size", "xl")
	if _, err := c.Next(); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown option accepted")
	}
	mustSet(t, c, "size", "m")
	mustNext(t, c, Completed)

	res, ok := c.Result()
	if !ok {
		t.Fatal("expected result")
	}
	want := testResult{Name: "Asha", Pickup: depot, Rush: true}
	if res != want {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(rec.steps, []int{2, 3}) {
		t.Fatalf("unexpected step notifications %v", rec.steps)
	}
	if len(rec.completed) != 1 || rec.completed[0] != want {
		t.Fatalf("expected completion notification, got %+v", rec.completed)
	}
	if !c.Closed() {
		t.Fatal("controller must close after completion")
	}
	if err := c.SetField("name", "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := c.Next(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFinalStepRechecksEarlierSteps(t *testing.T) {
	c, _ := newTestController(t)
	mustSet(t, c, "name", "Asha")
	mustNext(t, c, Advanced)
	mustSet(t, c, "pickup", depot)
	mustNext(t, c, Advanced)
	mustSet(t, c, "size", "s")
	if err := c.ClearField("pickup"); err != nil {
		t.Fatalf("ClearField: %v", err)
	}

	_, err := c.Next()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Result.Step != 2 || verr.StepName != "where" {
		t.Fatalf("expected step 2 failure, got %v", err)
	}
	if c.CurrentStep() != 3 || c.Closed() {
		t.Fatalf("wizard must stay on step 3, got %d", c.CurrentStep())
	}
}

func TestBackKeepsValuesAndCancelsOnFirstStep(t *testing.T) {
	c, rec := newTestController(t)
	mustSet(t, c, "name", "Asha")
	mustNext(t, c, Advanced)
	mustSet(t, c, "pickup", depot)

	tr, err := c.Back()
	if err != nil || tr != Retreated || c.CurrentStep() != 1 {
		t.Fatalf("Back: %v %v step=%d", tr, err, c.CurrentStep())
	}
	p := c.CurrentPayload()
	if p.String("name") != "Asha" {
		t.Fatalf("value of current step lost")
	}
	if loc, ok := p.Location("pickup"); !ok || loc != depot {
		t.Fatalf("value of other step lost")
	}

	tr, err = c.Back()
	if err != nil || tr != Cancelled {
		t.Fatalf("expected cancel, got %v %v", tr, err)
	}
	if c.CurrentStep() != 1 {
		t.Fatalf("step decremented below 1: %d", c.CurrentStep())
	}
	if rec.cancelled != 1 || len(c.CurrentPayload()) != 0 {
		t.Fatalf("expected cancel notification and discarded payload")
	}
	if _, ok := c.Result(); ok {
		t.Fatal("cancelled wizard must not have a result")
	}
}

func TestSetFieldRejectsUnknownField(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.SetField("colour", "red"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	// fields of later steps can be written from step 1
	mustSet(t, c, "size", "s")
	if c.CurrentStep() != 1 {
		t.Fatalf("SetField moved the wizard")
	}
}

func TestLocationRoundTrip(t *testing.T) {
	c, _ := newTestController(t)
	loc := geo.Location{Latitude: -6.123456, Longitude: 39.654321, Address: "Mbezi Beach"}
	mustSet(t, c, "pickup", &loc)
	got, ok := c.CurrentPayload().Location("pickup")
	if !ok || got != loc {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	loc.Address = "mutated"
	got, _ = c.CurrentPayload().Location("pickup")
	if got.Address != "Mbezi Beach" {
		t.Fatalf("stored location must not alias caller memory")
	}
}

func TestApplyLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("applied", func(t *testing.T) {
		c, _ := newTestController(t)
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) { return depot, nil })
		if err != nil {
			t.Fatalf("ApplyLookup: %v", err)
		}
		if loc, _ := c.CurrentPayload().Location("pickup"); loc != depot {
			t.Fatalf("lookup result not stored")
		}
	})

	t.Run("failure leaves field unset", func(t *testing.T) {
		c, _ := newTestController(t)
		lookupErr := &geo.ResolutionError{Op: "search", Err: geo.ErrNotFound}
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) { return geo.Location{}, lookupErr })
		if !errors.Is(err, geo.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if c.CurrentPayload().Has("pickup") {
			t.Fatal("failed lookup wrote the field")
		}
	})

	t.Run("stale after step change", func(t *testing.T) {
		c, _ := newTestController(t)
		mustSet(t, c, "name", "Asha")
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) {
			mustNext(t, c, Advanced)
			return depot, nil
		})
		if !errors.Is(err, ErrStaleLookup) {
			t.Fatalf("expected stale lookup, got %v", err)
		}
		if c.CurrentPayload().Has("pickup") {
			t.Fatal("stale lookup applied")
		}
	})

	t.Run("stale after manual pin", func(t *testing.T) {
		c, _ := newTestController(t)
		pin := geo.Location{Latitude: -6.80, Longitude: 39.28, Address: "Manual pin"}
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) {
			mustSet(t, c, "pickup", pin)
			return depot, nil
		})
		if !errors.Is(err, ErrStaleLookup) {
			t.Fatalf("expected stale lookup, got %v", err)
		}
		if loc, _ := c.CurrentPayload().Location("pickup"); loc != pin {
			t.Fatalf("pinned location overwritten: %+v", loc)
		}
	})

	t.Run("stale after clear", func(t *testing.T) {
		c, _ := newTestController(t)
		mustSet(t, c, "pickup", depot)
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) {
			if err := c.ClearField("pickup"); err != nil {
				t.Fatalf("ClearField: %v", err)
			}
			return geo.Location{Latitude: -6.70, Longitude: 39.10, Address: "Old search"}, nil
		})
		if !errors.Is(err, ErrStaleLookup) {
			t.Fatalf("expected stale lookup, got %v", err)
		}
		if c.CurrentPayload().Has("pickup") {
			t.Fatal("cleared field was refilled")
		}
	})

	t.Run("other field edits keep the result", func(t *testing.T) {
		c, _ := newTestController(t)
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) {
			mustSet(t, c, "name", "Asha")
			return depot, nil
		})
		if err != nil {
			t.Fatalf("ApplyLookup: %v", err)
		}
		if loc, _ := c.CurrentPayload().Location("pickup"); loc != depot {
			t.Fatal("lookup result not stored")
		}
	})

	t.Run("stale after cancel", func(t *testing.T) {
		c, _ := newTestController(t)
		err := c.ApplyLookup(ctx, "pickup", func(context.Context) (geo.Location, error) {
			if err := c.Cancel(); err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			return depot, nil
		})
		if !errors.Is(err, ErrStaleLookup) {
			t.Fatalf("expected stale lookup, got %v", err)
		}
	})
}

func TestNewRejectsBadFlows(t *testing.T) {
	if _, err := New(Flow[int]{Name: "empty", Build: func(Payload) (int, error) { return 0, nil }}); err == nil {
		t.Fatal("expected error for flow without steps")
	}
	dup := Flow[int]{
		Name:  "dup",
		Steps: []Step{{Fields: []Field{{Name: "a"}}}, {Fields: []Field{{Name: "a"}}}},
		Build: func(Payload) (int, error) { return 0, nil },
	}
	if _, err := New(dup); err == nil {
		t.Fatal("expected error for duplicated field")
	}
}

func mustSet(t *testing.T, c *Controller[testResult], name string, v any) {
	t.Helper()
	if err := c.SetField(name, v); err != nil {
		t.Fatalf("SetField(%s): %v", name, err)
	}
}

func mustNext(t *testing.T, c *Controller[testResult], want Transition) {
	t.Helper()
	tr, err := c.Next()
	if err != nil || tr != want {
		t.Fatalf("Next: got %v %v, want %v", tr, err, want)
	}
}

func TestSubmit(t *testing.T) {
	c, rec := newTestController(t)
	_, err := Submit(c, map[string]any{"name": "Asha", "pickup": depot, "rush": true})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Result.Step != 2 || !reflect.DeepEqual(verr.Result.Missing, []string{"deadline"}) {
		t.Fatalf("expected step 2 to miss deadline, got %v", err)
	}
	if c.CurrentStep() != 2 {
		t.Fatalf("expected to stay on step 2, got %d", c.CurrentStep())
	}

	got, err := Submit(c, map[string]any{"deadline": "17:30", "size": "m"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := testResult{Name: "Asha", Pickup: depot, Rush: true}
	if got != want || len(rec.completed) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
	if _, err := Submit(c, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
