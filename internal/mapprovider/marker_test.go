package mapprovider

import (
	"testing"

	"github.com/lox/ubikemap/internal/models"
)

func ptr(f float64) *float64 { return &f }

func TestAvailabilityColor(t *testing.T) {
	tests := []struct {
		bikes int
		want  string
	}{
		{-1, ColorNoBikes},
		{0, ColorNoBikes},
		{1, ColorLowBikes},
		{4, ColorLowBikes},
		{5, ColorGoodBikes},
		{40, ColorGoodBikes},
	}
	for _, tt := range tests {
		if got := AvailabilityFor(tt.bikes).Color(); got != tt.want {
			t.Errorf("AvailabilityFor(%d).Color() = %s, want %s", tt.bikes, got, tt.want)
		}
	}
}

func TestColorIgnoresOtherStyleFields(t *testing.T) {
	styles := []MarkerStyle{
		{AvailableBikes: 0},
		{AvailableBikes: 0, Selected: true, Title: "YouBike2.0_Test"},
		{AvailableBikes: 0, Distance: ptr(1500)},
	}
	for _, s := range styles {
		if got := AppearanceFor(s).Color; got != ColorNoBikes {
			t.Errorf("AppearanceFor(%+v).Color = %s, want %s", s, got, ColorNoBikes)
		}
	}
	if got := AppearanceFor(MarkerStyle{AvailableBikes: 5, Selected: true}).Color; got != ColorGoodBikes {
		t.Errorf("selected with 5 bikes: color = %s, want %s", got, ColorGoodBikes)
	}
}

func TestAppearance(t *testing.T) {
	unselected := AppearanceFor(MarkerStyle{AvailableBikes: 3, Distance: ptr(333.4), Title: "YouBike2.0_Xinyi Square"})
	if unselected.Size != SizeDefault || unselected.ZIndex != ZIndexDefault || unselected.Fill != FillDefault {
		t.Errorf("unselected appearance = %+v", unselected)
	}
	if unselected.Border != ColorLowBikes {
		t.Errorf("unselected border = %s, want availability color %s", unselected.Border, ColorLowBikes)
	}
	if unselected.Badge != "333m" || unselected.Label != "" {
		t.Errorf("unselected badge=%q label=%q", unselected.Badge, unselected.Label)
	}

	selected := AppearanceFor(MarkerStyle{AvailableBikes: 3, Distance: ptr(333.4), Title: "YouBike2.0_Xinyi Square", Selected: true})
	if selected.Size != SizeSelected || selected.ZIndex != ZIndexSelected || selected.Fill != FillSelected {
		t.Errorf("selected appearance = %+v", selected)
	}
	if selected.Badge != "" {
		t.Errorf("selected marker should have no distance badge, got %q", selected.Badge)
	}
	if selected.Label != "Xinyi Square" {
		t.Errorf("selected label = %q, want prefix stripped", selected.Label)
	}
}

func TestBadgeFormatting(t *testing.T) {
	tests := []struct {
		distance float64
		want     string
	}{
		{0, "0m"},
		{999.4, "999m"},
		{1000, "1.0km"},
		{2340, "2.3km"},
	}
	for _, tt := range tests {
		if got := AppearanceFor(MarkerStyle{Distance: ptr(tt.distance)}).Badge; got != tt.want {
			t.Errorf("badge for %.1f = %q, want %q", tt.distance, got, tt.want)
		}
	}
	if got := AppearanceFor(MarkerStyle{}).Badge; got != "" {
		t.Errorf("badge without distance = %q, want empty", got)
	}
}

func TestDisplayTitle(t *testing.T) {
	tests := map[string]string{
		"YouBike2.0_Taipei City Hall": "Taipei City Hall",
		"Taipei City Hall":            "Taipei City Hall",
		"YouBike2.0_":                 "",
		"xYouBike2.0_Hall":            "xYouBike2.0_Hall",
	}
	for in, want := range tests {
		if got := DisplayTitle(in); got != want {
			t.Errorf("DisplayTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStyleFor(t *testing.T) {
	st := models.Station{ID: "500101001", Name: "YouBike2.0_Test", Latitude: 25.0360, Longitude: 121.5670, AvailableRentBikes: 7}
	center := models.Point{Lat: 25.033964, Lng: 121.564576}

	s := StyleFor(st, "", &center)
	if s.Selected || s.AvailableBikes != 7 || s.Distance == nil {
		t.Fatalf("StyleFor = %+v", s)
	}
	if *s.Distance < 300 || *s.Distance > 360 {
		t.Errorf("distance = %.1f, want ~333m", *s.Distance)
	}

	if s := StyleFor(st, st.ID, nil); !s.Selected || s.Distance != nil {
		t.Errorf("selected without center = %+v", s)
	}
}
