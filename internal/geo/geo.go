// Package geo provides great-circle distance calculations between
// GPS coordinates using the haversine formula.
package geo

import "math"

// earthRadiusKm is the mean Earth radius in kilometers.
const earthRadiusKm = 6371.0

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}

// DistanceKm returns the great-circle distance in kilometers between two
// points given in decimal degrees. The result is symmetric and exactly zero
// for identical coordinates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := degToRad(lat2 - lat1)
	dLon := degToRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degToRad(lat1))*math.Cos(degToRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceMeters returns the great-circle distance in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceKm(lat1, lon1, lat2, lon2) * 1000
}
