package risk

import (
	"math"
	"time"
)

// GeoPoint is a geographic coordinate.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// cityCoordinates is a small built-in gazetteer mapping city labels to
// coordinates. A production deployment replaces this with a real geocoder
// behind the same VelocityChecker interface.
var cityCoordinates = map[string]GeoPoint{
	"new york":      {40.7128, -74.0060},
	"london":        {51.5074, -0.1278},
	"paris":         {48.8566, 2.3522},
	"berlin":        {52.5200, 13.4050},
	"moscow":        {55.7558, 37.6173},
	"tokyo":         {35.6762, 139.6503},
	"sydney":        {-33.8688, 151.2093},
	"singapore":     {1.3521, 103.8198},
	"los angeles":   {34.0522, -118.2437},
	"san francisco": {37.7749, -122.4194},
	"amsterdam":     {52.3676, 4.9041},
	"istanbul":      {41.0082, 28.9784},
	"dubai":         {25.2048, 55.2708},
	"hong kong":     {22.3193, 114.1694},
	"lagos":         {6.5244, 3.3792},
	"sao paulo":     {-23.5505, -46.6333},
}

// GeoVelocityChecker computes great-circle distance between geocoded city
// labels with the haversine formula. It implements the same three-state
// contract as CityPairChecker: cities missing from the gazetteer yield
// TravelUnknown.
type GeoVelocityChecker struct {
	MaxSpeedKmh float64
	coords      map[string]GeoPoint
}

// NewGeoVelocityChecker creates a haversine-based velocity checker.
func NewGeoVelocityChecker(maxSpeedKmh float64) *GeoVelocityChecker {
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = MaxTravelSpeedKmh
	}
	return &GeoVelocityChecker{
		MaxSpeedKmh: maxSpeedKmh,
		coords:      cityCoordinates,
	}
}

// Check geocodes both labels and compares required average speed against
// the maximum plausible speed.
func (g *GeoVelocityChecker) Check(fromLabel string, fromTime time.Time, toLabel string, toTime time.Time) TravelCheck {
	from, okFrom := g.coords[cityLabel(fromLabel)]
	to, okTo := g.coords[cityLabel(toLabel)]
	if !okFrom || !okTo {
		return TravelCheck{Verdict: TravelUnknown}
	}

	distance := haversineKm(from, to)
	if distance == 0 {
		return TravelCheck{Verdict: TravelPlausible}
	}

	elapsed := toTime.Sub(fromTime)
	if elapsed <= 0 {
		return TravelCheck{Verdict: TravelImpossible, DistanceKm: distance}
	}

	requiredSpeed := distance / elapsed.Hours()
	verdict := TravelPlausible
	if requiredSpeed > g.MaxSpeedKmh {
		verdict = TravelImpossible
	}

	return TravelCheck{
		Verdict:          verdict,
		DistanceKm:       distance,
		RequiredSpeedKmh: requiredSpeed,
	}
}

// haversineKm calculates the great-circle distance between two points in km.
func haversineKm(p1, p2 GeoPoint) float64 {
	const earthRadius = 6371 // km

	lat1Rad := p1.Lat * math.Pi / 180
	lat2Rad := p2.Lat * math.Pi / 180
	dLat := (p2.Lat - p1.Lat) * math.Pi / 180
	dLon := (p2.Lon - p1.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
