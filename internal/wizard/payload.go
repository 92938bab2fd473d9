package wizard

import (
	"strings"

	"mzigo/internal/geo"
)

// Payload accumulates the values entered in a wizard, keyed by field name.
// Values are string, bool, int, int64, float64 or geo.Location.
type Payload map[string]any

// Clone returns a shallow copy. All stored values are immutable value types.
func (p Payload) Clone() Payload {
	cp := make(Payload, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Has reports whether the field has been set.
func (p Payload) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// String returns the trimmed string value of a field, or "".
func (p Payload) String(name string) string {
	s, _ := p[name].(string)
	return strings.TrimSpace(s)
}

// Bool returns the boolean value of a field, false when unset or not a bool.
func (p Payload) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Number returns the numeric value of a field.
func (p Payload) Number(name string) (float64, bool) {
	return toNumber(p[name])
}

// Location returns the location stored in a field.
func (p Payload) Location(name string) (geo.Location, bool) {
	switch v := p[name].(type) {
	case geo.Location:
		return v, true
	case *geo.Location:
		if v != nil {
			return *v, true
		}
	}
	return geo.Location{}, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, n == n
	}
	return 0, false
}
