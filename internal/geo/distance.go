package geo

import "math"

// Distance returns distance in meters using a haversine approximation.
func Distance(fromLat, fromLng, toLat, toLng float64) float64 {
	const earthRadius = 6371000.0
	lat1 := toRadians(fromLat)
	lat2 := toRadians(toLat)
	dLat := lat2 - lat1
	dLon := toRadians(toLng - fromLng)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

func toRadians(v float64) float64 {
	return v * math.Pi / 180
}

// Interpolate returns the point at fraction t (clamped to [0,1]) on the
// straight segment between two points.
func Interpolate(fromLat, fromLng, toLat, toLng, t float64) (float64, float64) {
	if t <= 0 {
		return fromLat, fromLng
	}
	if t >= 1 {
		return toLat, toLng
	}
	return fromLat + (toLat-fromLat)*t, fromLng + (toLng-fromLng)*t
}
