package center

import (
	"fmt"
	"log"
	"sync"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
)

const (
	// DefaultRadiusMeters applies to gps, map and default centers.
	DefaultRadiusMeters = 500.0
	// StationRadiusMeters applies when the center is a selected station.
	StationRadiusMeters = 1000.0
)

// ErrInvalidCoordinate is returned when a transition is given an unusable point.
var ErrInvalidCoordinate = geo.ErrInvalidCoordinate

// DefaultPoint is Taipei City Hall, used whenever no other center is active.
var DefaultPoint = models.Point{Lat: 25.033964, Lng: 121.564576}

// RadiusToggle receives radius-filter enablement changes caused by center transitions.
type RadiusToggle interface {
	SetRadiusEnabled(enabled bool)
}

// RadiusFor returns the search radius for a center source.
func RadiusFor(source models.CenterSource) float64 {
	if source == models.SourceStation {
		return StationRadiusMeters
	}
	return DefaultRadiusMeters
}

// Controller tracks the single active center point and why it was set.
//
// Transitions hold trans across the center write and the radius toggle, so the
// center source and radius enablement always change together. mu is released
// before the toggle runs, so the toggle may call Current but not Snapshot.
type Controller struct {
	trans sync.RWMutex

	mu           sync.RWMutex
	current      models.CenterPoint
	userLocation *models.Point
	view         models.View
	radius       RadiusToggle
}

// NewController returns a controller with no center and the table view active.
// radius may be nil.
func NewController(radius RadiusToggle) *Controller {
	return &Controller{view: models.ViewTable, radius: radius}
}

// Current returns the active center. ok is false before any center was set.
func (c *Controller) Current() (models.CenterPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.current.Source != models.SourceNone
}

// Snapshot returns the center and its radius from one read. It waits for an
// in-flight transition to finish, so it never observes a center whose radius
// toggle has not been applied yet.
func (c *Controller) Snapshot() (models.CenterPoint, float64, bool) {
	c.trans.RLock()
	defer c.trans.RUnlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, RadiusFor(c.current.Source), c.current.Source != models.SourceNone
}

// Radius returns the search radius implied by the current state.
func (c *Controller) Radius() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return RadiusFor(c.current.Source)
}

// UserLocation returns the last GPS fix, if any, so the UI can offer re-centering.
func (c *Controller) UserLocation() (models.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.userLocation == nil {
		return models.Point{}, false
	}
	return *c.userLocation, true
}

// SetFromGPS centers on a device fix and remembers it as the user location.
func (c *Controller) SetFromGPS(p models.Point) error {
	if err := geo.Validate(p); err != nil {
		return fmt.Errorf("set center from gps: %w", err)
	}
	c.trans.Lock()
	defer c.trans.Unlock()
	c.mu.Lock()
	c.current = models.CenterPoint{Point: p, Source: models.SourceGPS}
	loc := p
	c.userLocation = &loc
	c.mu.Unlock()
	return nil
}

// SetFromStation centers on a selected station and enables radius filtering.
// A station without usable coordinates leaves the state unchanged.
func (c *Controller) SetFromStation(st models.Station) error {
	if err := geo.Validate(st.Position()); err != nil {
		return fmt.Errorf("set center from station %s: %w", st.ID, err)
	}
	c.trans.Lock()
	defer c.trans.Unlock()
	c.mu.Lock()
	c.current = models.CenterPoint{Point: st.Position(), Source: models.SourceStation, StationID: st.ID}
	c.mu.Unlock()

	c.setRadius(true)
	return nil
}

// SetFromMap centers on a point the user moved the map to. Radius enablement is untouched.
func (c *Controller) SetFromMap(p models.Point) error {
	if err := geo.Validate(p); err != nil {
		return fmt.Errorf("set center from map: %w", err)
	}
	c.trans.Lock()
	defer c.trans.Unlock()
	c.mu.Lock()
	c.current = models.CenterPoint{Point: p, Source: models.SourceMap}
	c.mu.Unlock()
	return nil
}

// ResetToDefault falls back to DefaultPoint, clears the selected station and
// disables radius filtering.
func (c *Controller) ResetToDefault() {
	c.trans.Lock()
	defer c.trans.Unlock()
	c.reset()
}

// reset requires trans held.
func (c *Controller) reset() {
	c.mu.Lock()
	c.current = models.CenterPoint{Point: DefaultPoint, Source: models.SourceDefault}
	c.mu.Unlock()

	c.setRadius(false)
}

// SelectedStation returns the station the center is focused on, if any.
func (c *Controller) SelectedStation() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current.Source != models.SourceStation {
		return "", false
	}
	return c.current.StationID, true
}

// View returns the active presentation mode.
func (c *Controller) View() models.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// SetView switches the presentation mode. Leaving the map view resets the center
// so no station-focused radius filter outlives the map.
func (c *Controller) SetView(v models.View) error {
	if !v.Valid() {
		return fmt.Errorf("unknown view %q", v)
	}
	c.trans.Lock()
	defer c.trans.Unlock()
	c.mu.Lock()
	prev := c.view
	c.view = v
	c.mu.Unlock()

	if prev == models.ViewMap && v != models.ViewMap {
		log.Printf("center: left map view for %s, resetting to default", v)
		c.reset()
	}
	return nil
}

// setRadius is called with trans held and c.mu released.
func (c *Controller) setRadius(enabled bool) {
	if c.radius != nil {
		c.radius.SetRadiusEnabled(enabled)
	}
}
