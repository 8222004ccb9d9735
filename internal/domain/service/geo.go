package service

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// TravelSpeedKmh returns the implied speed between two observations. Elapsed time is
// clamped to at least one minute so near-simultaneous events do not divide by zero.
func TravelSpeedKmh(distanceKm float64, elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = -elapsed
	}
	if elapsed < time.Minute {
		elapsed = time.Minute
	}
	return distanceKm / elapsed.Hours()
}

// ImpossibleTravelValue scores a movement: 0 below minDistanceKm or at up to half of
// maxSpeedKmh, 1 at or above maxSpeedKmh, linear between.
func ImpossibleTravelValue(distanceKm float64, elapsed time.Duration, minDistanceKm, maxSpeedKmh float64) float64 {
	if distanceKm < minDistanceKm {
		return 0
	}
	speed := TravelSpeedKmh(distanceKm, elapsed)
	return LinearRamp(speed, maxSpeedKmh/2, maxSpeedKmh)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
