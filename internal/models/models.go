package models

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Station is one bike-share dock as reported by the live feed.
// ID is stable across refreshes and is the only key used for favorites and selection.
type Station struct {
	ID                   string     `json:"sno"`
	Name                 string     `json:"sna"`
	NameEn               string     `json:"snaen,omitempty"`
	Area                 string     `json:"sarea"`
	AreaEn               string     `json:"sareaen,omitempty"`
	Address              string     `json:"ar"`
	AddressEn            string     `json:"aren,omitempty"`
	Latitude             Coordinate `json:"latitude"`
	Longitude            Coordinate `json:"longitude"`
	Capacity             int        `json:"total"`
	AvailableRentBikes   int        `json:"available_rent_bikes"`
	AvailableReturnBikes int        `json:"available_return_bikes"`
	Enabled              bool       `json:"act"`
	UpdatedAt            string     `json:"mday"` // opaque, never reparsed
}

// Position returns the station's coordinates.
func (s Station) Position() Point {
	return Point{Lat: float64(s.Latitude), Lng: float64(s.Longitude)}
}

// Coordinate is one axis of a station position. A station without a usable
// position carries NaN, which travels as JSON null.
type Coordinate float64

func (c Coordinate) MarshalJSON() ([]byte, error) {
	f := float64(c)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

func (c *Coordinate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = Coordinate(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = Coordinate(f)
	return nil
}

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CenterSource records why the center point was set.
type CenterSource string

const (
	SourceNone    CenterSource = ""
	SourceGPS     CenterSource = "gps"
	SourceStation CenterSource = "station"
	SourceMap     CenterSource = "map"
	SourceDefault CenterSource = "default"
)

// CenterPoint is the reference coordinate for radius filtering and nearest-station queries.
type CenterPoint struct {
	Point
	Source    CenterSource `json:"source"`
	StationID string       `json:"stationId,omitempty"`
}

// View is the presentation mode the user is looking at.
type View string

const (
	ViewTable View = "table"
	ViewCards View = "cards"
	ViewMap   View = "map"
)

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	switch v {
	case ViewTable, ViewCards, ViewMap:
		return true
	}
	return false
}

// Stats aggregates the whole station collection.
type Stats struct {
	TotalStations  int `json:"totalStations"`
	ActiveStations int `json:"activeStations"`
	TotalBikes     int `json:"totalBikes"`
	TotalSlots     int `json:"totalSlots"`
}

// RefreshRun records one attempt to pull the station feed.
type RefreshRun struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	Success      bool
	Discarded    bool
	StationCount sql.NullInt64
	ErrorMessage sql.NullString
}
