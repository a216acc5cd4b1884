package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/lox/ubikemap/internal/models"
)

var cityHall = models.Point{Lat: 25.033964, Lng: 121.564576}

func TestDistanceMeters(t *testing.T) {
	// Taipei City Hall to Taipei Main Station is roughly 5km
	d := DistanceMeters(cityHall.Lat, cityHall.Lng, 25.047924, 121.517081)
	if d < 4800 || d > 5300 {
		t.Errorf("expected ~5km, got %.0fm", d)
	}

	if d := DistanceMeters(cityHall.Lat, cityHall.Lng, cityHall.Lat, cityHall.Lng); d != 0 {
		t.Errorf("expected 0 for same point, got %v", d)
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	points := []models.Point{
		cityHall,
		{Lat: 25.0340, Lng: 121.5664},
		{Lat: -36.794, Lng: 146.977},
		{Lat: 0, Lng: 0},
		{Lat: 89.9, Lng: -179.9},
	}
	for _, a := range points {
		for _, b := range points {
			ab := Distance(a, b)
			ba := Distance(b, a)
			if math.Abs(ab-ba) > 1e-6 {
				t.Errorf("Distance(%v,%v)=%v, reverse=%v", a, b, ab, ba)
			}
			if (a == b) != (ab == 0) {
				t.Errorf("Distance(%v,%v)=%v, zero iff equal violated", a, b, ab)
			}
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		p    models.Point
		want bool
	}{
		{"city hall", cityHall, true},
		{"poles and antimeridian", models.Point{Lat: 90, Lng: -180}, true},
		{"lat too high", models.Point{Lat: 90.1, Lng: 0}, false},
		{"lng too low", models.Point{Lat: 0, Lng: -180.5}, false},
		{"nan", models.Point{Lat: math.NaN(), Lng: 121}, false},
		{"inf", models.Point{Lat: 25, Lng: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.p); got != tt.want {
				t.Errorf("Valid(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}

	if err := Validate(models.Point{Lat: 100}); !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("Validate error = %v, want ErrInvalidCoordinate", err)
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{0, "0m"},
		{129.6, "130m"},
		{999.4, "999m"},
		{1000, "1.0km"},
		{1549, "1.5km"},
		{12345, "12.3km"},
	}
	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tt.meters, got, tt.want)
		}
	}
}

func TestBoundsAround(t *testing.T) {
	b, ok := BoundsAround(cityHall, 500)
	if !ok {
		t.Fatal("expected bounds around city hall")
	}
	// every point on the radius circle must be inside the box
	for bearing := 0.0; bearing < 360; bearing += 15 {
		rad := bearing * math.Pi / 180
		dLat := 500 * math.Cos(rad) / EarthRadiusMeters * 180 / math.Pi
		dLng := 500 * math.Sin(rad) / (EarthRadiusMeters * math.Cos(cityHall.Lat*math.Pi/180)) * 180 / math.Pi
		p := models.Point{Lat: cityHall.Lat + dLat*0.999, Lng: cityHall.Lng + dLng*0.999}
		if p.Lat < b.MinLat || p.Lat > b.MaxLat || p.Lng < b.MinLng || p.Lng > b.MaxLng {
			t.Errorf("point at bearing %v outside bounds: %v", bearing, p)
		}
	}

	if _, ok := BoundsAround(cityHall, math.Inf(1)); ok {
		t.Error("infinite radius should not produce bounds")
	}
	if _, ok := BoundsAround(models.Point{Lat: 89.999, Lng: 0}, 1000); ok {
		t.Error("box crossing the pole should not be produced")
	}
	if _, ok := BoundsAround(models.Point{Lat: 0, Lng: 179.999}, 1000); ok {
		t.Error("box crossing the antimeridian should not be produced")
	}
}
