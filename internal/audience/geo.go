package audience

import (
	"math"

	"tourcast/internal/model"
)

const earthRadiusMeters = 6371000.0

// distanceMeters returns the great-circle distance between two points
// (haversine). Good enough for geofence-radius membership tests.
func distanceMeters(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// withinRadius reports whether p is within radiusMeters of center.
func withinRadius(center model.GeoPoint, radiusMeters float64, p model.GeoPoint) bool {
	return distanceMeters(center, p) <= radiusMeters
}
