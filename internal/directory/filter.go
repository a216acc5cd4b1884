package directory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
	"github.com/lox/ubikemap/internal/proximity"
)

// Category narrows the list by availability or favorites.
type Category string

const (
	CategoryAll       Category = "all"
	CategoryRent      Category = "available-to-rent"
	CategoryReturn    Category = "available-to-return"
	CategoryFavorites Category = "favorites"
)

// ParseCategory accepts the canonical names and the short forms used by the web client.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return CategoryAll, nil
	case "available-to-rent", "available", "rent":
		return CategoryRent, nil
	case "available-to-return", "parking", "return":
		return CategoryReturn, nil
	case "favorites", "favourites":
		return CategoryFavorites, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// SortKey names a station field to order by.
type SortKey string

const (
	SortName     SortKey = "name"
	SortArea     SortKey = "area"
	SortAddress  SortKey = "address"
	SortID       SortKey = "id"
	SortUpdated  SortKey = "updated"
	SortCapacity SortKey = "capacity"
	SortRent     SortKey = "rent"
	SortReturn   SortKey = "return"
	SortDistance SortKey = "distance"
)

var sortAliases = map[string]SortKey{
	"name": SortName, "sna": SortName,
	"area": SortArea, "sarea": SortArea,
	"address": SortAddress, "ar": SortAddress,
	"id": SortID, "sno": SortID,
	"updated": SortUpdated, "mday": SortUpdated,
	"capacity": SortCapacity, "total": SortCapacity, "quantity": SortCapacity,
	"rent": SortRent, "available_rent_bikes": SortRent,
	"return": SortReturn, "available_return_bikes": SortReturn,
	"distance": SortDistance,
}

// ParseSortKey accepts canonical keys and raw feed field names.
func ParseSortKey(s string) (SortKey, error) {
	if k, ok := sortAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// Numeric reports whether the key compares numerically.
func (k SortKey) Numeric() bool {
	switch k {
	case SortCapacity, SortRent, SortReturn, SortDistance:
		return true
	}
	return false
}

// Direction is the sort order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts asc/desc, defaulting to asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// FilterState is the full list configuration.
type FilterState struct {
	Area          string    `json:"area"`
	Search        string    `json:"search"`
	Category      Category  `json:"category"`
	SortKey       SortKey   `json:"sortKey"`
	SortDirection Direction `json:"sortDirection"`
	RadiusEnabled bool      `json:"radiusEnabled"`
}

// DefaultFilter lists everything by name ascending.
func DefaultFilter() FilterState {
	return FilterState{Category: CategoryAll, SortKey: SortName, SortDirection: Asc}
}

// Favorites answers favorite membership for the favorites category.
type Favorites interface {
	IsFavorite(id string) bool
}

// Entry is a station in a derived list, with its distance from the center when known.
type Entry struct {
	models.Station
	Distance *float64 `json:"distance,omitempty"`
}

// Query bundles everything a derivation reads besides the station list.
type Query struct {
	Filter    FilterState
	Center    *models.CenterPoint
	Radius    float64
	Favorites Favorites
	Index     *proximity.Index
}

// Derive applies area, search, category and radius filters in that order, then
// a stable sort. It does not mutate stations.
func Derive(stations []models.Station, q Query) []Entry {
	fs := q.Filter
	out := make([]Entry, 0, len(stations))

	var inRadius map[string]bool
	if fs.RadiusEnabled && q.Center != nil {
		inRadius = radiusMembers(stations, q)
	}

	term := strings.ToLower(fs.Search)
	for _, st := range stations {
		if fs.Area != "" && st.Area != fs.Area {
			continue
		}
		if term != "" && !matchesSearch(st, term) {
			continue
		}
		if !matchesCategory(st, fs.Category, q.Favorites) {
			continue
		}
		if inRadius != nil && !inRadius[st.ID] {
			continue
		}
		out = append(out, entry(st, q.Center))
	}

	sortEntries(out, fs.SortKey, fs.SortDirection)
	return out
}

func matchesSearch(st models.Station, term string) bool {
	return strings.Contains(strings.ToLower(st.Name), term) ||
		strings.Contains(strings.ToLower(st.Address), term) ||
		(st.NameEn != "" && strings.Contains(strings.ToLower(st.NameEn), term))
}

func matchesCategory(st models.Station, c Category, fav Favorites) bool {
	switch c {
	case CategoryRent:
		return st.AvailableRentBikes > 0 && st.Enabled
	case CategoryReturn:
		return st.AvailableReturnBikes > 0 && st.Enabled
	case CategoryFavorites:
		return fav != nil && fav.IsFavorite(st.ID)
	}
	return true
}

func radiusMembers(stations []models.Station, q Query) map[string]bool {
	var hits []proximity.Result
	if q.Index != nil {
		hits = q.Index.WithinRadius(q.Center.Point, q.Radius)
	} else {
		hits = proximity.WithinRadius(q.Center.Point, q.Radius, stations)
	}
	members := make(map[string]bool, len(hits))
	for _, h := range hits {
		members[h.Station.ID] = true
	}
	return members
}

func entry(st models.Station, c *models.CenterPoint) Entry {
	e := Entry{Station: st}
	if c != nil && geo.Valid(c.Point) && geo.Valid(st.Position()) {
		d := geo.Distance(c.Point, st.Position())
		e.Distance = &d
	}
	return e
}

func sortEntries(entries []Entry, key SortKey, dir Direction) {
	if key == "" {
		key = SortName
	}
	var less func(a, b Entry) bool
	if key.Numeric() {
		less = func(a, b Entry) bool { return numericField(a, key) < numericField(b, key) }
	} else {
		col := collate.New(language.Und, collate.IgnoreCase)
		less = func(a, b Entry) bool {
			return col.CompareString(strings.ToLower(textField(a, key)), strings.ToLower(textField(b, key))) < 0
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if dir == Desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func numericField(e Entry, key SortKey) float64 {
	switch key {
	case SortCapacity:
		return float64(e.Capacity)
	case SortRent:
		return float64(e.AvailableRentBikes)
	case SortReturn:
		return float64(e.AvailableReturnBikes)
	case SortDistance:
		if e.Distance == nil {
			return math.Inf(1)
		}
		return *e.Distance
	}
	return 0
}

func textField(e Entry, key SortKey) string {
	switch key {
	case SortArea:
		return e.Area
	case SortAddress:
		return e.Address
	case SortID:
		return e.ID
	case SortUpdated:
		return e.UpdatedAt
	}
	return e.Name
}
