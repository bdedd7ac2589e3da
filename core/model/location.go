package model

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// Location is a geographic point with an optional human-readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

// Validate checks that the coordinates are within range. A zero-valued
// location (0,0) is treated as unset because no veterinarian or farm in the
// system operates at Null Island.
func (l Location) Validate() error {
	if l.Lat == 0 && l.Lon == 0 {
		return fmt.Errorf("location is unset")
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", l.Lon)
	}
	return nil
}

// DistanceKm returns the great-circle distance to another location in
// kilometers using the haversine formula.
func (l Location) DistanceKm(o Location) float64 {
	lat1 := l.Lat * math.Pi / 180
	lat2 := o.Lat * math.Pi / 180
	dLat := (o.Lat - l.Lat) * math.Pi / 180
	dLon := (o.Lon - l.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
