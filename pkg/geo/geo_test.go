package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKmKnownRoute(t *testing.T) {
	t.Parallel()

	// Paris to London is roughly 344 km great-circle.
	paris := Point{Lat: 48.8566, Lng: 2.3522}
	london := Point{Lat: 51.5074, Lng: -0.1278}

	got := DistanceKm(paris, london)
	assert.InDelta(t, 344, got, 2)
}

func TestDistanceKmZero(t *testing.T) {
	t.Parallel()

	p := Point{Lat: 10.5, Lng: -3.25}
	assert.InDelta(t, 0, DistanceKm(p, p), 1e-9)
}

func TestDistanceKmSymmetric(t *testing.T) {
	t.Parallel()

	a := Point{Lat: -33.8688, Lng: 151.2093}
	b := Point{Lat: 35.6762, Lng: 139.6503}
	assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
}

func TestShippingFeeCentsRounds(t *testing.T) {
	t.Parallel()

	from := Point{Lat: 0, Lng: 0}
	to := Point{Lat: 0, Lng: 1}

	distance := DistanceKm(from, to)
	fee := ShippingFeeCents(from, to, 500)
	assert.Equal(t, int(math.Round(distance*500)), fee)
	assert.Positive(t, fee)
}
