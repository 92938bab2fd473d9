package timeutil

import "time"

var darLocation = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Africa/Dar_es_Salaam")
	if err != nil {
		return time.FixedZone("Africa/Dar_es_Salaam", 3*60*60)
	}
	return loc
}

// Now returns the current time in East Africa Time.
func Now() time.Time {
	return time.Now().In(darLocation)
}

// InLocal converts provided time to East Africa Time.
func InLocal(t time.Time) time.Time {
	return t.In(darLocation)
}

// Location returns the East Africa Time location instance.
func Location() *time.Location {
	return darLocation
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	t = t.In(darLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, darLocation)
}
