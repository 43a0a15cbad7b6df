// Package gps reads NMEA sentences from the receiver and folds RMC and GGA
// data into a single Fix.
package gps

import (
	"math"
	"time"
)

const knotsToKmh = 1.852

// Fix is the latest combined position report.
type Fix struct {
	Valid      bool      `json:"valid"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	SpeedKmh   float64   `json:"speed_kmh"`
	CourseDeg  float64   `json:"course_deg"`
	AltitudeM  float64   `json:"altitude_m"`
	Satellites int64     `json:"satellites"`
	Time       time.Time `json:"time"`
}

const earthRadiusKm = 6367.0

// HaversineKm returns the great-circle distance between two points given
// in decimal degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const d2r = math.Pi / 180
	dLat := (lat2 - lat1) * d2r
	dLon := (lon2 - lon1) * d2r
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1*d2r)*math.Cos(lat2*d2r)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
