package risk

import (
	"strings"
	"time"
)

// TravelVerdict is the outcome of a physical-plausibility check between
// two geotagged events. Unknown means the checker could not determine a
// distance and must never be conflated with Plausible.
type TravelVerdict int

const (
	TravelUnknown TravelVerdict = iota
	TravelPlausible
	TravelImpossible
)

// String returns the string representation of TravelVerdict.
func (v TravelVerdict) String() string {
	switch v {
	case TravelPlausible:
		return "plausible"
	case TravelImpossible:
		return "impossible"
	default:
		return "unknown"
	}
}

// TravelCheck carries the verdict together with the evidence behind it.
// DistanceKm and RequiredSpeedKmh are zero when the verdict is Unknown.
type TravelCheck struct {
	Verdict          TravelVerdict
	DistanceKm       float64
	RequiredSpeedKmh float64
}

// VelocityChecker decides whether travel between two location labels in
// the given time span is physically plausible. Implementations differ in
// how they resolve labels to distances; the interface stays stable so a
// geocoder-backed checker can replace the static table.
type VelocityChecker interface {
	Check(fromLabel string, fromTime time.Time, toLabel string, toTime time.Time) TravelCheck
}

// MaxTravelSpeedKmh is the default maximum plausible average travel
// speed, commercial-aircraft scale.
const MaxTravelSpeedKmh = 900.0

// cityDistancesKm holds great-circle distances between city pairs in km.
// Keys are built by pairKey, so each unordered pair appears once.
var cityDistancesKm = map[string]float64{
	pairKey("new york", "london"):        5585,
	pairKey("new york", "los angeles"):   3944,
	pairKey("new york", "paris"):         5837,
	pairKey("new york", "tokyo"):         10870,
	pairKey("london", "paris"):           344,
	pairKey("london", "singapore"):       10885,
	pairKey("london", "berlin"):          933,
	pairKey("london", "moscow"):          2508,
	pairKey("berlin", "moscow"):          1608,
	pairKey("san francisco", "new york"): 4130,
	pairKey("san francisco", "tokyo"):    8270,
	pairKey("tokyo", "sydney"):           7823,
	pairKey("singapore", "sydney"):       6300,
	pairKey("paris", "berlin"):           878,
}

// CityPairChecker resolves city labels against a fixed distance table.
// Pairs absent from the table produce TravelUnknown: the checker has no
// verdict, not a clean bill of health.
type CityPairChecker struct {
	MaxSpeedKmh float64
	distances   map[string]float64
}

// NewCityPairChecker creates a checker backed by the built-in table.
func NewCityPairChecker(maxSpeedKmh float64) *CityPairChecker {
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = MaxTravelSpeedKmh
	}
	return &CityPairChecker{
		MaxSpeedKmh: maxSpeedKmh,
		distances:   cityDistancesKm,
	}
}

// Check looks up the distance between the two city labels and compares
// the required average speed against the maximum plausible speed. Zero
// or negative elapsed time counts as infinite required speed. Malformed
// labels degrade to TravelUnknown rather than erroring.
func (c *CityPairChecker) Check(fromLabel string, fromTime time.Time, toLabel string, toTime time.Time) TravelCheck {
	from := cityLabel(fromLabel)
	to := cityLabel(toLabel)
	if from == "" || to == "" {
		return TravelCheck{Verdict: TravelUnknown}
	}

	if from == to {
		return TravelCheck{Verdict: TravelPlausible}
	}

	distance, ok := c.distances[pairKey(from, to)]
	if !ok {
		return TravelCheck{Verdict: TravelUnknown}
	}

	elapsed := toTime.Sub(fromTime)
	if elapsed <= 0 {
		return TravelCheck{Verdict: TravelImpossible, DistanceKm: distance}
	}

	requiredSpeed := distance / elapsed.Hours()
	verdict := TravelPlausible
	if requiredSpeed > c.MaxSpeedKmh {
		verdict = TravelImpossible
	}

	return TravelCheck{
		Verdict:          verdict,
		DistanceKm:       distance,
		RequiredSpeedKmh: requiredSpeed,
	}
}

// cityLabel extracts the city-level portion of a location string: the
// text preceding the first comma, trimmed and case-folded.
func cityLabel(location string) string {
	city := location
	if idx := strings.Index(location, ","); idx >= 0 {
		city = location[:idx]
	}
	return strings.ToLower(strings.TrimSpace(city))
}

// pairKey builds an order-independent key for a city pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
