package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"mzigo/internal/geo"
)

var (
	ErrValidation   = errors.New("wizard: step is not valid")
	ErrClosed       = errors.New("wizard: already completed or cancelled")
	ErrUnknownField = errors.New("wizard: unknown field")
	ErrStaleLookup  = errors.New("wizard: lookup result discarded, wizard changed")
)

// ValidationError carries the fields the user has to correct.
type ValidationError struct {
	Result   ValidationResult
	StepName string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wizard: step %d (%s) invalid: %s", e.Result.Step, e.StepName, strings.Join(e.Result.Missing, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Transition describes what a Next or Back call did.
type Transition int

const (
	Stayed Transition = iota
	Advanced
	Retreated
	Completed
	Cancelled
)

func (t Transition) String() string {
	switch t {
	case Advanced:
		return "advanced"
	case Retreated:
		return "retreated"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "stayed"
}

type state int

const (
	stateOpen state = iota
	stateCompleted
	stateCancelled
)

// Observer receives the controller's notifications. Calls are made
// synchronously from the Next/Back call that caused them, after the
// controller has released its lock.
type Observer[R any] interface {
	OnStepChanged(step int, payload Payload)
	OnValidationFailed(result ValidationResult)
	OnWizardCompleted(result R)
	OnWizardCancelled()
}

// Hooks implements Observer with optional callbacks.
type Hooks[R any] struct {
	StepChanged      func(step int, payload Payload)
	ValidationFailed func(result ValidationResult)
	Completed        func(result R)
	Cancelled        func()
}

func (h Hooks[R]) OnStepChanged(step int, payload Payload) {
	if h.StepChanged != nil {
		h.StepChanged(step, payload)
	}
}

func (h Hooks[R]) OnValidationFailed(result ValidationResult) {
	if h.ValidationFailed != nil {
		h.ValidationFailed(result)
	}
}

func (h Hooks[R]) OnWizardCompleted(result R) {
	if h.Completed != nil {
		h.Completed(result)
	}
}

func (h Hooks[R]) OnWizardCancelled() {
	if h.Cancelled != nil {
		h.Cancelled()
	}
}

// Controller drives a linear, validated, multi-step flow. The step index is
// 1-based and always within [1, StepCount()].
type Controller[R any] struct {
	mu       sync.Mutex
	flow     Flow[R]
	owners   map[string]int
	step     int
	payload  Payload
	state    state
	result   R
	gen      uint64
	edits    map[string]uint64
	observer Observer[R]
}

// New creates a controller positioned on step 1 with an empty payload.
func New[R any](flow Flow[R]) (*Controller[R], error) {
	owners, err := flow.validate()
	if err != nil {
		return nil, err
	}
	return &Controller[R]{
		flow:     flow,
		owners:   owners,
		step:     1,
		payload:  make(Payload),
		edits:    make(map[string]uint64),
		observer: Hooks[R]{},
	}, nil
}

// Observe sets the observer notified of step changes and outcomes.
func (c *Controller[R]) Observe(o Observer[R]) {
	if o == nil {
		o = Hooks[R]{}
	}
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Name returns the flow name.
func (c *Controller[R]) Name() string { return c.flow.Name }

// StepCount returns the number of steps.
func (c *Controller[R]) StepCount() int { return len(c.flow.Steps) }

// CurrentStep returns the 1-based step index.
func (c *Controller[R]) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// StepName returns the name of the current step.
func (c *Controller[R]) StepName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flow.Steps[c.step-1].Name
}

// CurrentPayload returns a copy of the values entered so far.
func (c *Controller[R]) CurrentPayload() Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil {
		return Payload{}
	}
	return c.payload.Clone()
}

// Closed reports whether the wizard has completed or been cancelled.
func (c *Controller[R]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateOpen
}

// Result returns the completed result, if the wizard completed.
func (c *Controller[R]) Result() (R, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.state == stateCompleted
}

// SetField writes or overwrites a field. It never changes the step.
func (c *Controller[R]) SetField(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return ErrClosed
	}
	if _, ok := c.owners[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if loc, ok := value.(*geo.Location); ok && loc != nil {
		value = *loc
	}
	c.payload[name] = value
	c.edits[name]++
	return nil
}

// ClearField removes a field from the payload.
func (c *Controller[R]) ClearField(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return ErrClosed
	}
	if _, ok := c.owners[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	delete(c.payload, name)
	c.edits[name]++
	return nil
}

// Validate dry-runs the rules of a step without moving.
func (c *Controller[R]) Validate(step int) ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked(step)
}

func (c *Controller[R]) validateLocked(step int) ValidationResult {
	if step < 1 || step > len(c.flow.Steps) {
		return ValidationResult{Step: step}
	}
	return ValidationResult{Step: step, Missing: c.flow.Steps[step-1].Validate(c.payload)}
}

// Next validates the current step. On failure the step does not change and
// a *ValidationError is returned. On the last step every step is checked
// again, the flow's Build runs and the controller closes.
func (c *Controller[R]) Next() (Transition, error) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return Stayed, ErrClosed
	}
	obs := c.observer

	res := c.validateLocked(c.step)
	if res.Valid() && c.step == len(c.flow.Steps) {
		for i := 1; i < c.step; i++ {
			if r := c.validateLocked(i); !r.Valid() {
				res = r
				break
			}
		}
	}
	if !res.Valid() {
		verr := &ValidationError{Result: res, StepName: c.flow.Steps[res.Step-1].Name}
		c.mu.Unlock()
		obs.OnValidationFailed(res)
		return Stayed, verr
	}

	if c.step < len(c.flow.Steps) {
		c.step++
		c.gen++
		step, snap := c.step, c.payload.Clone()
		c.mu.Unlock()
		obs.OnStepChanged(step, snap)
		return Advanced, nil
	}

	result, err := c.flow.Build(c.payload.Clone())
	if err != nil {
		c.mu.Unlock()
		return Stayed, fmt.Errorf("wizard %q: build: %w", c.flow.Name, err)
	}
	c.result = result
	c.state = stateCompleted
	c.payload = nil
	c.gen++
	c.mu.Unlock()
	obs.OnWizardCompleted(result)
	return Completed, nil
}

// Back moves one step back without validation. On step 1 it cancels the
// wizard and discards the payload.
func (c *Controller[R]) Back() (Transition, error) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return Stayed, ErrClosed
	}
	obs := c.observer
	c.gen++
	if c.step > 1 {
		c.step--
		step, snap := c.step, c.payload.Clone()
		c.mu.Unlock()
		obs.OnStepChanged(step, snap)
		return Retreated, nil
	}
	c.state = stateCancelled
	c.payload = nil
	c.mu.Unlock()
	obs.OnWizardCancelled()
	return Cancelled, nil
}

// Cancel abandons the wizard from any step.
func (c *Controller[R]) Cancel() error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return ErrClosed
	}
	obs := c.observer
	c.gen++
	c.state = stateCancelled
	c.payload = nil
	c.mu.Unlock()
	obs.OnWizardCancelled()
	return nil
}

// ApplyLookup resolves a location with the given lookup and stores it in the
// named field. The lookup runs without holding the controller, so the user
// may keep editing meanwhile. A failed lookup leaves the field as it was. If
// the wizard changed step, closed, or the field was set or cleared before the
// lookup returned, the result is dropped and ErrStaleLookup is returned.
func (c *Controller[R]) ApplyLookup(ctx context.Context, name string, lookup func(context.Context) (geo.Location, error)) error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.owners[name]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	gen, edit := c.gen, c.edits[name]
	c.mu.Unlock()

	loc, err := lookup(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ErrStaleLookup
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen || c.gen != gen || c.edits[name] != edit {
		return ErrStaleLookup
	}
	c.payload[name] = loc
	c.edits[name]++
	return nil
}

// Submit fills the controller with values and walks it to completion. It is
// how a form posted in one request is replayed. On the first failing step a
// *ValidationError is returned and the controller stays on that step.
func Submit[R any](c *Controller[R], values map[string]any) (R, error) {
	var zero R
	for name, v := range values {
		if err := c.SetField(name, v); err != nil {
			return zero, err
		}
	}
	for {
		tr, err := c.Next()
		if err != nil {
			return zero, err
		}
		if tr == Completed {
			result, _ := c.Result()
			return result, nil
		}
	}
}
