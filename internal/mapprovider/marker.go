package mapprovider

import (
	"strconv"
	"strings"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
)

// TitlePrefix is the operator prefix carried by every station name in the feed.
const TitlePrefix = "YouBike2.0_"

const (
	ColorNoBikes   = "#dc3545"
	ColorLowBikes  = "#ffc107"
	ColorGoodBikes = "#28a745"

	FillSelected = "#ff4444"
	FillDefault  = "#007bff"
	BorderLight  = "#ffffff"

	SizeSelected = 46
	SizeDefault  = 38

	ZIndexSelected = 1000
	ZIndexDefault  = 100

	// LowBikesMax is the highest count still shown as low availability.
	LowBikesMax = 4
)

// Availability buckets the available-bike count.
type Availability string

const (
	AvailabilityNone Availability = "none"
	AvailabilityLow  Availability = "low"
	AvailabilityGood Availability = "good"
)

// MarkerStyle is the input to marker rendering.
type MarkerStyle struct {
	Selected       bool     `json:"selected"`
	AvailableBikes int      `json:"availableBikes"`
	Distance       *float64 `json:"distance,omitempty"`
	Title          string   `json:"title"`
}

// Appearance is the derived look of a marker. It depends only on MarkerStyle.
type Appearance struct {
	Selected     bool         `json:"selected"`
	Bikes        int          `json:"bikes"`
	Size         int          `json:"size"`
	Height       int          `json:"height"`
	ZIndex       int          `json:"zIndex"`
	Fill         string       `json:"fill"`
	Border       string       `json:"border"`
	Availability Availability `json:"availability"`
	Color        string       `json:"color"`
	Badge        string       `json:"badge,omitempty"`
	Label        string       `json:"label,omitempty"`
}

// AvailabilityFor buckets a bike count: none at 0, low up to LowBikesMax, good above.
func AvailabilityFor(bikes int) Availability {
	switch {
	case bikes <= 0:
		return AvailabilityNone
	case bikes <= LowBikesMax:
		return AvailabilityLow
	}
	return AvailabilityGood
}

// Color returns the availability color.
func (a Availability) Color() string {
	switch a {
	case AvailabilityNone:
		return ColorNoBikes
	case AvailabilityLow:
		return ColorLowBikes
	}
	return ColorGoodBikes
}

// DisplayTitle strips the operator prefix from a station name.
func DisplayTitle(title string) string {
	return strings.TrimPrefix(title, TitlePrefix)
}

// AppearanceFor projects a style onto its rendered look.
func AppearanceFor(s MarkerStyle) Appearance {
	avail := AvailabilityFor(s.AvailableBikes)
	a := Appearance{
		Bikes:        max(0, s.AvailableBikes),
		Size:         SizeDefault,
		Height:       SizeDefault,
		ZIndex:       ZIndexDefault,
		Fill:         FillDefault,
		Border:       avail.Color(),
		Availability: avail,
		Color:        avail.Color(),
	}
	if s.Selected {
		a.Selected = true
		a.Size = SizeSelected
		a.Height = SizeSelected + 20
		a.ZIndex = ZIndexSelected
		a.Fill = FillSelected
		a.Border = BorderLight
		a.Label = DisplayTitle(s.Title)
		return a
	}
	if s.Distance != nil {
		a.Badge = geo.FormatDistance(*s.Distance)
	}
	return a
}

// StyleFor builds the marker style for a station relative to the selection and center.
func StyleFor(st models.Station, selectedID string, center *models.Point) MarkerStyle {
	s := MarkerStyle{
		Selected:       selectedID != "" && st.ID == selectedID,
		AvailableBikes: st.AvailableRentBikes,
		Title:          st.Name,
	}
	if center != nil && geo.Valid(*center) && geo.Valid(st.Position()) {
		d := geo.Distance(*center, st.Position())
		s.Distance = &d
	}
	return s
}

// key identifies a rendered icon. Distance only matters through its badge text.
func (s MarkerStyle) key() string {
	a := AppearanceFor(s)
	var b strings.Builder
	b.WriteString(strconv.Itoa(a.Bikes))
	if s.Selected {
		b.WriteString("|selected|")
		b.WriteString(a.Label)
	}
	b.WriteString("|")
	b.WriteString(a.Badge)
	return b.String()
}
