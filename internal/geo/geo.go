// Package geo provides the great-circle distance metric used to score duels.
package geo

import (
	"math"

	"github.com/valfonso/geoduel/internal/domain"
)

// earthRadius is the mean Earth radius in meters.
const earthRadius = 6371000

// Distance returns the great-circle distance between two coordinates in
// meters, using the Haversine formula. Inputs are assumed to be validated
// coordinates; the function is deterministic and has no failure modes.
func Distance(a, b domain.Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lon1 := radians(a.Longitude)
	lat2 := radians(b.Latitude)
	lon2 := radians(b.Longitude)

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadius * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
