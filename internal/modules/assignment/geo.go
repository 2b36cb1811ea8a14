// Package assignment — geo.go contains pure geographic computation helpers.
package assignment

import "math"

const earthRadiusKm = 6371.0

// distanceKm returns the great-circle distance between two points in decimal
// degrees, using the spherical law of cosines.
func distanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}
	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)
	dLng := degreesToRadians(lng2 - lng1)

	cosC := math.Sin(rLat1)*math.Sin(rLat2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Cos(dLng)
	// Guard acos against floating-point drift just outside [-1, 1].
	cosC = math.Max(-1, math.Min(1, cosC))
	return earthRadiusKm * math.Acos(cosC)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
