package geo

import (
	"math"

	"github.com/shopspring/decimal"
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	latA := radians(a.Lat)
	latB := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// ShippingFeeCents prices the route at a flat rate per kilometer, rounded
// half-up to whole cents.
func ShippingFeeCents(from, to Point, rateCentsPerKm int) int {
	distance := decimal.NewFromFloat(DistanceKm(from, to))
	fee := distance.Mul(decimal.NewFromInt(int64(rateCentsPerKm)))
	return int(fee.Round(0).IntPart())
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
