package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/lox/ubikemap/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate marks a position that cannot take part in distance math.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// DistanceMeters returns the great-circle distance between two points using the
// Haversine formula. Inputs must be finite; callers guard with Valid.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance is DistanceMeters over points.
func Distance(a, b models.Point) float64 {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Valid reports whether p is finite and within latitude/longitude ranges.
func Valid(p models.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Validate returns ErrInvalidCoordinate wrapped with the offending values.
func Validate(p models.Point) error {
	if !Valid(p) {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, p.Lat, p.Lng)
	}
	return nil
}

// FormatDistance renders meters below 1km as whole meters, otherwise kilometers
// to one decimal place.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

// Bounds is a latitude/longitude box.
type Bounds struct {
	MinLat, MinLng, MaxLat, MaxLng float64
}

// BoundsAround returns a box that contains every point within radius meters of
// center. ok is false when the box would cross a pole or the antimeridian, in
// which case callers should fall back to a full scan.
func BoundsAround(center models.Point, radius float64) (Bounds, bool) {
	if math.IsInf(radius, 1) || math.IsNaN(radius) {
		return Bounds{}, false
	}
	dLat := radius / EarthRadiusMeters * 180 / math.Pi
	minLat, maxLat := center.Lat-dLat, center.Lat+dLat
	if minLat <= -90 || maxLat >= 90 {
		return Bounds{}, false
	}
	// widen by the cosine at the latitude edge furthest from the equator
	edge := math.Max(math.Abs(minLat), math.Abs(maxLat))
	dLng := dLat / math.Cos(toRadians(edge))
	minLng, maxLng := center.Lng-dLng, center.Lng+dLng
	if minLng < -180 || maxLng > 180 {
		return Bounds{}, false
	}
	return Bounds{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}, true
}
