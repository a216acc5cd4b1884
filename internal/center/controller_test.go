package center

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
)

type fakeToggle struct {
	calls   int
	enabled bool
}

func (f *fakeToggle) SetRadiusEnabled(enabled bool) {
	f.calls++
	f.enabled = enabled
}

func TestController_InitialState(t *testing.T) {
	c := NewController(nil)
	if _, ok := c.Current(); ok {
		t.Error("expected no center before any transition")
	}
	if c.Radius() != DefaultRadiusMeters {
		t.Errorf("Radius = %v, want %v", c.Radius(), DefaultRadiusMeters)
	}
	if c.View() != models.ViewTable {
		t.Errorf("View = %q, want table", c.View())
	}
}

func TestController_SetFromGPS(t *testing.T) {
	toggle := &fakeToggle{}
	c := NewController(toggle)
	p := models.Point{Lat: 25.04, Lng: 121.55}

	if err := c.SetFromGPS(p); err != nil {
		t.Fatalf("SetFromGPS: %v", err)
	}
	cur, ok := c.Current()
	if !ok || cur.Source != models.SourceGPS || cur.Point != p {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
	if loc, ok := c.UserLocation(); !ok || loc != p {
		t.Errorf("UserLocation = %v, %v", loc, ok)
	}
	if toggle.calls != 0 {
		t.Error("gps fix must not change radius enablement")
	}
	if c.Radius() != DefaultRadiusMeters {
		t.Errorf("Radius = %v, want %v", c.Radius(), DefaultRadiusMeters)
	}
}

func TestController_SetFromStation(t *testing.T) {
	toggle := &fakeToggle{}
	c := NewController(toggle)
	st := models.Station{ID: "500101001", Latitude: 25.0330, Longitude: 121.5654}

	if err := c.SetFromStation(st); err != nil {
		t.Fatalf("SetFromStation: %v", err)
	}
	cur, _ := c.Current()
	if cur.Source != models.SourceStation || cur.StationID != st.ID {
		t.Errorf("Current = %+v", cur)
	}
	if !toggle.enabled || toggle.calls != 1 {
		t.Errorf("expected radius enabled once, got enabled=%v calls=%d", toggle.enabled, toggle.calls)
	}
	if c.Radius() != StationRadiusMeters {
		t.Errorf("Radius = %v, want %v", c.Radius(), StationRadiusMeters)
	}
	if id, ok := c.SelectedStation(); !ok || id != st.ID {
		t.Errorf("SelectedStation = %q, %v", id, ok)
	}
}

func TestController_SetFromStation_InvalidCoordinates(t *testing.T) {
	toggle := &fakeToggle{}
	c := NewController(toggle)
	gps := models.Point{Lat: 25.04, Lng: 121.55}
	if err := c.SetFromGPS(gps); err != nil {
		t.Fatal(err)
	}

	err := c.SetFromStation(models.Station{ID: "nocoords", Latitude: models.Coordinate(math.NaN()), Longitude: models.Coordinate(math.NaN())})
	if !errors.Is(err, geo.ErrInvalidCoordinate) {
		t.Fatalf("err = %v, want ErrInvalidCoordinate", err)
	}
	cur, _ := c.Current()
	if cur.Source != models.SourceGPS || cur.Point != gps {
		t.Errorf("prior center changed: %+v", cur)
	}
	if toggle.calls != 0 {
		t.Error("failed transition must not toggle radius filtering")
	}
}

func TestController_SetFromMap(t *testing.T) {
	toggle := &fakeToggle{}
	c := NewController(toggle)
	st := models.Station{ID: "S1", Latitude: 25.0330, Longitude: 121.5654}
	if err := c.SetFromStation(st); err != nil {
		t.Fatal(err)
	}

	p := models.Point{Lat: 25.05, Lng: 121.52}
	if err := c.SetFromMap(p); err != nil {
		t.Fatalf("SetFromMap: %v", err)
	}
	cur, _ := c.Current()
	if cur.Source != models.SourceMap || cur.StationID != "" {
		t.Errorf("Current = %+v", cur)
	}
	if toggle.calls != 1 || !toggle.enabled {
		t.Error("map interaction must not change radius enablement")
	}
	if c.Radius() != DefaultRadiusMeters {
		t.Errorf("Radius = %v, want %v", c.Radius(), DefaultRadiusMeters)
	}
	if _, ok := c.SelectedStation(); ok {
		t.Error("map center should clear the selected station")
	}

	if err := c.SetFromMap(models.Point{Lat: 91}); err == nil {
		t.Error("expected error for invalid map point")
	}
}

func TestController_ResetToDefault(t *testing.T) {
	toggle := &fakeToggle{}
	c := NewController(toggle)
	c.SetFromStation(models.Station{ID: "S1", Latitude: 25.0330, Longitude: 121.5654})

	c.ResetToDefault()
	cur, ok := c.Current()
	if !ok || cur.Source != models.SourceDefault || cur.Point != DefaultPoint {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
	if toggle.enabled {
		t.Error("reset must disable radius filtering")
	}
	if _, ok := c.SelectedStation(); ok {
		t.Error("reset must clear the selected station")
	}
}

func TestController_SetView(t *testing.T) {
	toggle := &fakeToggle{}
	c := NewController(toggle)

	if err := c.SetView(models.ViewMap); err != nil {
		t.Fatal(err)
	}
	c.SetFromStation(models.Station{ID: "S1", Latitude: 25.0330, Longitude: 121.5654})

	if err := c.SetView(models.ViewCards); err != nil {
		t.Fatal(err)
	}
	cur, _ := c.Current()
	if cur.Source != models.SourceDefault {
		t.Errorf("leaving map view should reset center, got %+v", cur)
	}
	if toggle.enabled {
		t.Error("leaving map view should disable radius filtering")
	}

	if err := c.SetView("globe"); err == nil {
		t.Error("expected error for unknown view")
	}
	if c.View() != models.ViewCards {
		t.Errorf("View = %q, want cards", c.View())
	}
}

// gatedToggle blocks enabling until release is closed.
type gatedToggle struct {
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	enabled bool
}

func (g *gatedToggle) SetRadiusEnabled(enabled bool) {
	if enabled {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

func TestController_TransitionsAreSerialized(t *testing.T) {
	toggle := &gatedToggle{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewController(toggle)

	stationDone := make(chan error, 1)
	go func() {
		stationDone <- c.SetFromStation(models.Station{ID: "S1", Latitude: 25.0330, Longitude: 121.5654})
	}()
	<-toggle.entered

	// the station transition is parked inside its toggle
	resetDone := make(chan struct{})
	go func() {
		c.ResetToDefault()
		close(resetDone)
	}()
	snapshot := make(chan models.CenterSource, 1)
	go func() {
		cur, radius, _ := c.Snapshot()
		if radius != RadiusFor(cur.Source) {
			t.Errorf("Snapshot radius %v does not match source %q", radius, cur.Source)
		}
		snapshot <- cur.Source
	}()

	select {
	case <-resetDone:
		t.Fatal("reset completed while a station transition was still toggling")
	case src := <-snapshot:
		t.Fatalf("Snapshot returned %q mid-transition", src)
	case <-time.After(20 * time.Millisecond):
	}

	close(toggle.release)
	if err := <-stationDone; err != nil {
		t.Fatal(err)
	}
	<-resetDone
	<-snapshot

	cur, _ := c.Current()
	toggle.mu.Lock()
	enabled := toggle.enabled
	toggle.mu.Unlock()
	if cur.Source != models.SourceDefault || enabled {
		t.Errorf("final center source=%q radiusEnabled=%v, want default with radius off", cur.Source, enabled)
	}
}
