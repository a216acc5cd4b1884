// Package mapprovider turns map, marker and info-window operations into state
// for a concrete mapping backend. Both backends share marker styling and
// nearest-station semantics so callers never branch on which one is active.
package mapprovider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"

	"github.com/lox/ubikemap/internal/htmlutil"
	"github.com/lox/ubikemap/internal/models"
	"github.com/lox/ubikemap/internal/proximity"
)

const (
	DefaultZoom = 15
	MaxZoom     = 19
)

var (
	ErrUnknownMap    = errors.New("unknown map")
	ErrUnknownMarker = errors.New("unknown marker")
	ErrUnknownInfo   = errors.New("unknown info window")
)

// Provider is the contract both backends implement.
type Provider interface {
	Name() string
	Initialize(ctx context.Context) (*Backend, error)
	CreateMap(ctx context.Context, opts MapOptions) (*Map, error)
	RemoveMap(ctx context.Context, mapID string) error
	CreateMarker(ctx context.Context, mapID string, pos models.Point, style MarkerStyle) (*Marker, error)
	CreateInfoWindow(ctx context.Context, content string, opts InfoOptions) (*InfoWindow, error)
	OpenInfoWindow(ctx context.Context, infoID, markerID, mapID string) bool
	FindNearbyStations(ctx context.Context, center models.Point, radius float64, stations []models.Station) ([]proximity.Result, error)
	CurrentLocation(ctx context.Context) (models.Point, error)
	Scene(ctx context.Context, mapID string) (*Scene, error)
	Icon(style MarkerStyle) (Icon, error)
}

// Backend describes an initialized mapping backend.
type Backend struct {
	Provider string    `json:"provider"`
	Version  string    `json:"version"`
	LoadedAt time.Time `json:"loadedAt"`
}

// MapOptions positions a new map.
type MapOptions struct {
	Center models.Point `json:"center"`
	Zoom   int          `json:"zoom"`
}

// Map is a map instance bound to a drawing surface owned by the caller.
type Map struct {
	ID       string       `json:"id"`
	Provider string       `json:"provider"`
	Center   models.Point `json:"center"`
	Zoom     int          `json:"zoom"`
}

// Marker is a station marker placed on a map.
type Marker struct {
	ID         string       `json:"id"`
	MapID      string       `json:"mapId"`
	Position   models.Point `json:"position"`
	Title      string       `json:"title"`
	Style      MarkerStyle  `json:"style"`
	Appearance Appearance   `json:"appearance"`
	Icon       Icon         `json:"icon"`
}

// InfoOptions tunes an info window.
type InfoOptions struct {
	MaxWidth       int  `json:"maxWidth,omitempty"`
	DisableAutoPan bool `json:"disableAutoPan,omitempty"`
}

// InfoWindow is a popup with HTML content, optionally anchored to a marker.
type InfoWindow struct {
	ID       string      `json:"id"`
	Content  string      `json:"content"`
	Text     string      `json:"text"`
	Options  InfoOptions `json:"options"`
	MapID    string      `json:"mapId,omitempty"`
	MarkerID string      `json:"markerId,omitempty"`
}

// Icon is a rendered marker image.
type Icon struct {
	ContentType string `json:"contentType"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	AnchorX     int    `json:"anchorX"`
	AnchorY     int    `json:"anchorY"`
	URL         string `json:"url"`
	Data        []byte `json:"-"`
}

// Scene is everything a presentation layer needs to draw one map.
type Scene struct {
	Provider    string      `json:"provider"`
	Map         Map         `json:"map"`
	Markers     []Marker    `json:"markers"`
	Info        *InfoWindow `json:"info,omitempty"`
	TileURL     string      `json:"tileUrl,omitempty"`
	Attribution string      `json:"attribution,omitempty"`
	MaxZoom     int         `json:"maxZoom,omitempty"`
	StaticURL   string      `json:"staticUrl,omitempty"`
}

// Handle tables are bounded: the oldest maps are evicted once maxMaps are held,
// and every map or info window expires handleTTL after creation.
const (
	maxMaps   = 32
	maxInfos  = 256
	handleTTL = 30 * time.Minute
)

// mapState is one map with its markers and the info window open on it.
type mapState struct {
	m       Map
	markers []*Marker
	info    *InfoWindow
}

// canvas holds the map, marker and info-window handles of one provider.
type canvas struct {
	provider string

	mu    sync.Mutex   // guards mapState mutation
	maps  gcache.Cache // map ID -> *mapState
	infos gcache.Cache // info ID -> *InfoWindow
}

func newCanvas(provider string) *canvas {
	return &canvas{
		provider: provider,
		maps:     gcache.New(maxMaps).LRU().Expiration(handleTTL).Build(),
		infos:    gcache.New(maxInfos).LRU().Expiration(handleTTL).Build(),
	}
}

func (c *canvas) state(mapID string) (*mapState, error) {
	v, err := c.maps.Get(mapID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMap, mapID)
	}
	return v.(*mapState), nil
}

func (c *canvas) newMap(opts MapOptions) (*Map, error) {
	if opts.Zoom <= 0 || opts.Zoom > MaxZoom {
		opts.Zoom = DefaultZoom
	}
	st := &mapState{m: Map{
		ID:       uuid.NewString(),
		Provider: c.provider,
		Center:   opts.Center,
		Zoom:     opts.Zoom,
	}}
	if err := c.maps.Set(st.m.ID, st); err != nil {
		return nil, fmt.Errorf("create map: %w", err)
	}
	m := st.m
	return &m, nil
}

// removeMap drops a map with its markers and open info window.
func (c *canvas) removeMap(mapID string) error {
	if !c.maps.Remove(mapID) {
		return fmt.Errorf("%w: %s", ErrUnknownMap, mapID)
	}
	return nil
}

func (c *canvas) mapCount() int {
	return c.maps.Len(true)
}

func (c *canvas) addMarker(mapID string, pos models.Point, style MarkerStyle, icon Icon) (*Marker, error) {
	st, err := c.state(mapID)
	if err != nil {
		return nil, err
	}
	mk := &Marker{
		ID:         uuid.NewString(),
		MapID:      mapID,
		Position:   pos,
		Title:      style.Title,
		Style:      style,
		Appearance: AppearanceFor(style),
		Icon:       icon,
	}
	c.mu.Lock()
	st.markers = append(st.markers, mk)
	c.mu.Unlock()
	return mk, nil
}

func (c *canvas) newInfo(content string, opts InfoOptions) (*InfoWindow, error) {
	info := &InfoWindow{
		ID:      uuid.NewString(),
		Content: content,
		Text:    htmlutil.ToText(content),
		Options: opts,
	}
	if err := c.infos.Set(info.ID, info); err != nil {
		return nil, fmt.Errorf("create info window: %w", err)
	}
	return info, nil
}

// openInfo anchors an info window on a map. An empty markerID opens it unanchored.
func (c *canvas) openInfo(infoID, markerID, mapID string) error {
	v, err := c.infos.Get(infoID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownInfo, infoID)
	}
	st, err := c.state(mapID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if markerID != "" && st.findMarker(markerID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMarker, markerID)
	}
	opened := *v.(*InfoWindow)
	opened.MapID = mapID
	opened.MarkerID = markerID
	st.info = &opened
	return nil
}

func (st *mapState) findMarker(markerID string) *Marker {
	for _, mk := range st.markers {
		if mk.ID == markerID {
			return mk
		}
	}
	return nil
}

// scene snapshots a map with copies of its markers and the open info window.
func (c *canvas) scene(mapID string) (*Scene, error) {
	st, err := c.state(mapID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Scene{
		Provider: c.provider,
		Map:      st.m,
		Markers:  make([]Marker, 0, len(st.markers)),
	}
	for _, mk := range st.markers {
		s.Markers = append(s.Markers, *mk)
	}
	if st.info != nil {
		info := *st.info
		s.Info = &info
	}
	return s, nil
}

// nearby is the shared nearest-station rule for every provider.
func nearby(center models.Point, radius float64, stations []models.Station) []proximity.Result {
	return proximity.Nearby(center, radius, stations, proximity.DefaultLimit)
}
