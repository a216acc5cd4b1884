package mapprovider

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
)

var cityHall = models.Point{Lat: 25.033964, Lng: 121.564576}

func nearbyStations() []models.Station {
	return []models.Station{
		{ID: "far", Latitude: 25.1230, Longitude: 121.5654},
		{ID: "B", Latitude: 25.0340, Longitude: 121.5664},
		{ID: "A", Latitude: 25.0330, Longitude: 121.5654},
		{ID: "nocoords", Latitude: models.Coordinate(math.NaN()), Longitude: models.Coordinate(math.NaN())},
		{ID: "C", Latitude: 25.0360, Longitude: 121.5670},
		{ID: "D", Latitude: 25.0310, Longitude: 121.5620},
		{ID: "E", Latitude: 25.0350, Longitude: 121.5620},
		{ID: "F", Latitude: 25.0320, Longitude: 121.5680},
	}
}

func testProviders(t *testing.T) []Provider {
	srv, _ := geocodeServer(t, jsonStatus(`{"status":"OK"}`))
	return []Provider{
		NewCommercial("test-key", srv.URL, nil),
		NewOpen("", "", nil),
	}
}

func TestFindNearbyStationsConsistentAcrossProviders(t *testing.T) {
	var results [][]string
	for _, p := range testProviders(t) {
		got, err := p.FindNearbyStations(context.Background(), cityHall, 500, nearbyStations())
		if err != nil {
			t.Fatalf("%s: %v", p.Name(), err)
		}
		if len(got) > 5 {
			t.Errorf("%s: %d results, want at most 5", p.Name(), len(got))
		}
		ids := make([]string, len(got))
		for i, r := range got {
			ids[i] = r.Station.ID
			if r.Distance > 500 {
				t.Errorf("%s: %s at %.0fm is outside the radius", p.Name(), r.Station.ID, r.Distance)
			}
			if i > 0 && got[i-1].Distance > r.Distance {
				t.Errorf("%s: results not sorted by distance", p.Name())
			}
		}
		results = append(results, ids)
	}
	if !reflect.DeepEqual(results[0], results[1]) {
		t.Errorf("providers disagree: commercial %v, open %v", results[0], results[1])
	}
	if results[0][0] != "A" {
		t.Errorf("nearest = %s, want A", results[0][0])
	}
}

func TestFindNearbyStationsInvalidCenter(t *testing.T) {
	for _, p := range testProviders(t) {
		_, err := p.FindNearbyStations(context.Background(), models.Point{Lat: math.NaN()}, 500, nearbyStations())
		if !errors.Is(err, geo.ErrInvalidCoordinate) {
			t.Errorf("%s: err = %v, want ErrInvalidCoordinate", p.Name(), err)
		}
	}
}

func TestInfoWindowLifecycle(t *testing.T) {
	ctx := context.Background()
	for _, p := range testProviders(t) {
		t.Run(p.Name(), func(t *testing.T) {
			m, err := p.CreateMap(ctx, MapOptions{Center: cityHall})
			if err != nil {
				t.Fatal(err)
			}
			mk, err := p.CreateMarker(ctx, m.ID, models.Point{Lat: 25.0330, Lng: 121.5654}, MarkerStyle{AvailableBikes: 6, Title: "YouBike2.0_A"})
			if err != nil {
				t.Fatal(err)
			}
			info, err := p.CreateInfoWindow(ctx, "<h3>A</h3><p>6 bikes &amp; 4 docks</p>", InfoOptions{MaxWidth: 280})
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(info.Text, "6 bikes & 4 docks") {
				t.Errorf("info text = %q", info.Text)
			}

			if p.OpenInfoWindow(ctx, "missing", mk.ID, m.ID) {
				t.Error("opening an unknown info window should report false")
			}
			if p.OpenInfoWindow(ctx, info.ID, "missing", m.ID) {
				t.Error("opening on an unknown marker should report false")
			}
			if !p.OpenInfoWindow(ctx, info.ID, mk.ID, m.ID) {
				t.Fatal("OpenInfoWindow = false")
			}

			scene, err := p.Scene(ctx, m.ID)
			if err != nil {
				t.Fatal(err)
			}
			if scene.Info == nil || scene.Info.MarkerID != mk.ID {
				t.Errorf("scene info = %+v", scene.Info)
			}
			if len(scene.Markers) != 1 || scene.Markers[0].Appearance.Color != ColorGoodBikes {
				t.Errorf("scene markers = %+v", scene.Markers)
			}
		})
	}
}

func TestCreateMarkerErrors(t *testing.T) {
	ctx := context.Background()
	for _, p := range testProviders(t) {
		if _, err := p.CreateMarker(ctx, "nope", cityHall, MarkerStyle{}); !errors.Is(err, ErrUnknownMap) {
			t.Errorf("%s: unknown map err = %v", p.Name(), err)
		}
		m, err := p.CreateMap(ctx, MapOptions{Center: cityHall})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := p.CreateMarker(ctx, m.ID, models.Point{Lat: 91}, MarkerStyle{}); !errors.Is(err, geo.ErrInvalidCoordinate) {
			t.Errorf("%s: invalid position err = %v", p.Name(), err)
		}
		if _, err := p.Scene(ctx, "nope"); !errors.Is(err, ErrUnknownMap) {
			t.Errorf("%s: unknown scene err = %v", p.Name(), err)
		}
	}
}

func TestCommercialCreateMapFailsWithoutKey(t *testing.T) {
	c := NewCommercial("", "", nil)
	if _, err := c.CreateMap(context.Background(), MapOptions{Center: cityHall}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("CreateMap err = %v, want ErrProviderUnavailable", err)
	}
}

func TestSelectorFallsBack(t *testing.T) {
	open := NewOpen("", "", nil)
	s := NewSelector(PreferAuto, NewCommercial("", "", nil), open)

	p, err := s.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != OpenName {
		t.Errorf("selected %s, want open", p.Name())
	}
	var pe *ProviderError
	if !errors.As(s.Fallback(), &pe) || pe.Cause != CauseMissingKey {
		t.Errorf("Fallback() = %v, want missing_key", s.Fallback())
	}
}

func TestSelectorPreferences(t *testing.T) {
	srv, _ := geocodeServer(t, jsonStatus(`{"status":"OK"}`))

	auto := NewSelector(PreferAuto, NewCommercial("test-key", srv.URL, nil), NewOpen("", "", nil))
	if p, err := auto.Select(context.Background()); err != nil || p.Name() != CommercialName {
		t.Errorf("auto with valid key = %v, %v", p, err)
	}
	if auto.Fallback() != nil {
		t.Errorf("unexpected fallback: %v", auto.Fallback())
	}

	strict := NewSelector(PreferCommercial, NewCommercial("", "", nil), NewOpen("", "", nil))
	if _, err := strict.Select(context.Background()); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("commercial-only without key err = %v", err)
	}

	open := NewSelector(PreferOpen, NewCommercial("test-key", srv.URL, nil), NewOpen("", "", nil))
	if p, err := open.Select(context.Background()); err != nil || p.Name() != OpenName {
		t.Errorf("open preference = %v, %v", p, err)
	}
	if p, ok := open.Provider(CommercialName); !ok || p.Name() != CommercialName {
		t.Error("Provider(commercial) not found")
	}
}

func TestParsePreference(t *testing.T) {
	tests := map[string]Preference{"": PreferAuto, "AUTO": PreferAuto, "open": PreferOpen, " commercial ": PreferCommercial}
	for in, want := range tests {
		got, err := ParsePreference(in)
		if err != nil || got != want {
			t.Errorf("ParsePreference(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParsePreference("bing"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestMapHandlesAreBounded(t *testing.T) {
	ctx := context.Background()
	o := NewOpen("", "", nil)

	first, err := o.CreateMap(ctx, MapOptions{Center: cityHall})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxMaps*3; i++ {
		m, err := o.CreateMap(ctx, MapOptions{Center: cityHall})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := o.CreateMarker(ctx, m.ID, cityHall, MarkerStyle{AvailableBikes: i}); err != nil {
			t.Fatal(err)
		}
	}
	if n := o.mapCount(); n > maxMaps {
		t.Errorf("holding %d maps, want at most %d", n, maxMaps)
	}
	if _, err := o.Scene(ctx, first.ID); !errors.Is(err, ErrUnknownMap) {
		t.Errorf("oldest map should be evicted, Scene err = %v", err)
	}
}

func TestRemoveMap(t *testing.T) {
	ctx := context.Background()
	for _, p := range testProviders(t) {
		m, err := p.CreateMap(ctx, MapOptions{Center: cityHall})
		if err != nil {
			t.Fatal(err)
		}
		if err := p.RemoveMap(ctx, m.ID); err != nil {
			t.Fatalf("%s: RemoveMap: %v", p.Name(), err)
		}
		if _, err := p.Scene(ctx, m.ID); !errors.Is(err, ErrUnknownMap) {
			t.Errorf("%s: Scene after remove err = %v", p.Name(), err)
		}
		if err := p.RemoveMap(ctx, m.ID); !errors.Is(err, ErrUnknownMap) {
			t.Errorf("%s: second RemoveMap err = %v", p.Name(), err)
		}
	}
}
