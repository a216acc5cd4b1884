package proximity

import (
	"sort"

	"github.com/tidwall/rtree"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
)

// DefaultLimit caps nearest-station lookups.
const DefaultLimit = 5

// Result pairs a station with its distance from the query center in meters.
type Result struct {
	Station  models.Station `json:"station"`
	Distance float64        `json:"distance"`
}

// WithinRadius returns the stations whose distance from center is <= radius,
// in input order. Stations with invalid coordinates are skipped.
func WithinRadius(center models.Point, radius float64, stations []models.Station) []Result {
	results := []Result{}
	if !geo.Valid(center) {
		return results
	}
	for _, st := range stations {
		if !geo.Valid(st.Position()) {
			continue
		}
		d := geo.Distance(center, st.Position())
		if d <= radius {
			results = append(results, Result{Station: st, Distance: d})
		}
	}
	return results
}

// Nearest returns up to limit stations ordered by ascending distance.
// Ties keep input order.
func Nearest(center models.Point, stations []models.Station, limit int) []Result {
	results := []Result{}
	if !geo.Valid(center) {
		return results
	}
	for _, st := range stations {
		if !geo.Valid(st.Position()) {
			continue
		}
		results = append(results, Result{Station: st, Distance: geo.Distance(center, st.Position())})
	}
	return closest(results, limit)
}

// Nearby is WithinRadius sorted ascending by distance and truncated to limit.
func Nearby(center models.Point, radius float64, stations []models.Station, limit int) []Result {
	return closest(WithinRadius(center, radius, stations), limit)
}

func closest(results []Result, limit int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Index is an R-tree over a fixed station collection. It answers the same
// queries as the package functions, using a bounding box to avoid a full scan.
type Index struct {
	tree     rtree.RTree
	stations []models.Station
	skipped  int
}

// NewIndex builds an index; stations with invalid coordinates are kept out of
// the tree but still counted by Skipped.
func NewIndex(stations []models.Station) *Index {
	ix := &Index{stations: stations}
	for i, st := range stations {
		p := st.Position()
		if !geo.Valid(p) {
			ix.skipped++
			continue
		}
		ix.tree.Insert([2]float64{p.Lat, p.Lng}, [2]float64{p.Lat, p.Lng}, i)
	}
	return ix
}

// Len returns the number of indexed (geolocated) stations.
func (ix *Index) Len() int {
	return ix.tree.Len()
}

// Skipped returns how many stations were left out for invalid coordinates.
func (ix *Index) Skipped() int {
	return ix.skipped
}

// WithinRadius matches the package-level WithinRadius over the indexed stations.
func (ix *Index) WithinRadius(center models.Point, radius float64) []Result {
	if !geo.Valid(center) {
		return []Result{}
	}
	bounds, ok := geo.BoundsAround(center, radius)
	if !ok {
		return WithinRadius(center, radius, ix.stations)
	}

	var candidates []int
	ix.tree.Search(
		[2]float64{bounds.MinLat, bounds.MinLng},
		[2]float64{bounds.MaxLat, bounds.MaxLng},
		func(min, max [2]float64, data interface{}) bool {
			if i, ok := data.(int); ok {
				candidates = append(candidates, i)
			}
			return true
		},
	)
	sort.Ints(candidates)

	results := []Result{}
	for _, i := range candidates {
		st := ix.stations[i]
		if d := geo.Distance(center, st.Position()); d <= radius {
			results = append(results, Result{Station: st, Distance: d})
		}
	}
	return results
}

// Nearest matches the package-level Nearest over the indexed stations.
func (ix *Index) Nearest(center models.Point, limit int) []Result {
	return Nearest(center, ix.stations, limit)
}

// Nearby matches the package-level Nearby over the indexed stations.
func (ix *Index) Nearby(center models.Point, radius float64, limit int) []Result {
	return closest(ix.WithinRadius(center, radius), limit)
}
