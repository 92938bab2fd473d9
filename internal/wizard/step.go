package wizard

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// Kind is the expected type of a field value.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindOption
	KindLocation
	KindDate
	KindTime
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Field declares one input owned by a step.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// RequiredIf makes the field required depending on other values of the
	// same payload. It is consulted only when Required is false; while it
	// reports false the field is not validated at all.
	RequiredIf func(Payload) bool
	// Options lists the accepted identifiers of a KindOption field.
	Options []string
}

func (f Field) required(p Payload) bool {
	if f.Required {
		return true
	}
	return f.RequiredIf != nil && f.RequiredIf(p)
}

// wellTyped reports whether v is an acceptable, non-empty value for the field.
func (f Field) wellTyped(v any) bool {
	switch f.Kind {
	case KindText:
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) != ""
	case KindNumber:
		_, ok := toNumber(v)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindOption:
		s, ok := v.(string)
		return ok && slices.Contains(f.Options, s)
	case KindLocation:
		loc, ok := Payload{f.Name: v}.Location(f.Name)
		return ok && loc.Resolved()
	case KindDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(DateLayout, strings.TrimSpace(s))
		return err == nil
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(TimeLayout, strings.TrimSpace(s))
		return err == nil
	}
	return false
}

// blank reports values the UI leaves behind in an untouched input.
func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// Step is a named page of the wizard.
type Step struct {
	Name   string
	Fields []Field
	// Check reports fields that fail cross-field rules. It runs only once
	// every field of the step is present and well typed.
	Check func(Payload) []string
}

// ValidationResult is the outcome of validating one step.
type ValidationResult struct {
	Step    int
	Missing []string
}

// Valid reports whether the step may be left.
func (r ValidationResult) Valid() bool { return len(r.Missing) == 0 }

// Validate runs the step's rules against the payload.
func (s Step) Validate(p Payload) []string {
	var missing []string
	for _, f := range s.Fields {
		required := f.required(p)
		if !required && f.RequiredIf != nil {
			// inactive conditional field, leftovers are ignored
			continue
		}
		v, ok := p[f.Name]
		if !ok || blank(v) {
			if required {
				missing = append(missing, f.Name)
			}
			continue
		}
		if !f.wellTyped(v) {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) == 0 && s.Check != nil {
		missing = append(missing, s.Check(p)...)
	}
	slices.Sort(missing)
	return slices.Compact(missing)
}

// Flow describes a wizard: its ordered steps and how the completed payload
// becomes a result.
type Flow[R any] struct {
	Name  string
	Steps []Step
	Build func(Payload) (R, error)
}

func (f Flow[R]) validate() (map[string]int, error) {
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("wizard %q: no steps", f.Name)
	}
	if f.Build == nil {
		return nil, fmt.Errorf("wizard %q: Build is required", f.Name)
	}
	owners := make(map[string]int)
	for i, st := range f.Steps {
		for _, fld := range st.Fields {
			if fld.Name == "" {
				return nil, fmt.Errorf("wizard %q: step %d has an unnamed field", f.Name, i+1)
			}
			if prev, ok := owners[fld.Name]; ok {
				return nil, fmt.Errorf("wizard %q: field %q declared in steps %d and %d", f.Name, fld.Name, prev, i+1)
			}
			if fld.Kind == KindOption && len(fld.Options) == 0 {
				return nil, fmt.Errorf("wizard %q: option field %q has no options", f.Name, fld.Name)
			}
			owners[fld.Name] = i + 1
		}
	}
	return owners, nil
}
