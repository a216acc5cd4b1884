package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/metrics"
	"github.com/lox/ubikemap/internal/models"
	"github.com/lox/ubikemap/internal/proximity"
)

// ErrSuperseded is returned by Refresh when a newer refresh started before this
// one completed; its result was discarded.
var ErrSuperseded = errors.New("refresh superseded by a newer request")

// ErrStationNotFound is returned for unknown station IDs.
var ErrStationNotFound = errors.New("station not found")

// Feed supplies the station list.
type Feed interface {
	FetchStations(ctx context.Context) ([]models.Station, []byte, error)
}

// CenterSource supplies the active center point and its radius in one read.
type CenterSource interface {
	Snapshot() (center models.CenterPoint, radius float64, ok bool)
}

// RunRecorder persists refresh attempts and the last good payload.
type RunRecorder interface {
	StartRefreshRun() (*models.RefreshRun, error)
	CompleteRefreshRun(run *models.RefreshRun) error
	SaveSnapshot(raw []byte, fetchedAt time.Time) error
}

// View is the derived projection handed to the presentation layer.
type View struct {
	Stations    []Entry             `json:"stations"`
	Count       int                 `json:"count"`
	Stats       models.Stats        `json:"stats"`
	Areas       []string            `json:"areas"`
	Filter      FilterState         `json:"filter"`
	Center      *models.CenterPoint `json:"center,omitempty"`
	Radius      float64             `json:"radius"`
	Loading     bool                `json:"loading"`
	Error       string              `json:"error,omitempty"`
	RefreshedAt *time.Time          `json:"refreshedAt,omitempty"`
}

// Directory owns the station collection and the filter state.
type Directory struct {
	feed     Feed
	center   CenterSource
	recorder RunRecorder

	mu          sync.RWMutex
	stations    []models.Station
	index       *proximity.Index
	filter      FilterState
	lastErr     error
	refreshedAt time.Time
	seq         uint64
	inflight    int
}

func New(feed Feed) *Directory {
	return &Directory{
		feed:     feed,
		stations: []models.Station{},
		index:    proximity.NewIndex(nil),
		filter:   DefaultFilter(),
	}
}

// SetCenter wires the center point used for radius filtering and distances.
func (d *Directory) SetCenter(c CenterSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.center = c
}

// SetRecorder wires persistence of refresh runs.
func (d *Directory) SetRecorder(r RunRecorder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recorder = r
}

// Refresh pulls the feed and replaces the collection on success. On failure the
// previous collection is kept and the error recorded. Results of a refresh that
// was overtaken by a newer one are discarded.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.inflight++
	recorder := d.recorder
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
	}()

	var run *models.RefreshRun
	if recorder != nil {
		var err error
		if run, err = recorder.StartRefreshRun(); err != nil {
			log.Printf("directory: start refresh run: %v", err)
		}
	}

	stations, raw, fetchErr := d.feed.FetchStations(ctx)
	now := time.Now()

	d.mu.Lock()
	superseded := seq != d.seq
	switch {
	case superseded:
	case fetchErr != nil:
		d.lastErr = fetchErr
	default:
		if stations == nil {
			stations = []models.Station{}
		}
		d.stations = stations
		d.index = proximity.NewIndex(stations)
		d.lastErr = nil
		d.refreshedAt = now
	}
	d.mu.Unlock()

	var result error
	switch {
	case superseded:
		metrics.RefreshesTotal.WithLabelValues("discarded").Inc()
		log.Printf("directory: discarding refresh #%d, superseded", seq)
		result = ErrSuperseded
	case fetchErr != nil:
		metrics.RefreshesTotal.WithLabelValues("failed").Inc()
		result = fmt.Errorf("refresh stations: %w", fetchErr)
	default:
		metrics.RefreshesTotal.WithLabelValues("applied").Inc()
		metrics.StationsIngested.Set(float64(len(stations)))
		log.Printf("directory: loaded %d stations", len(stations))
	}

	if recorder != nil {
		d.record(recorder, run, raw, now, len(stations), superseded, fetchErr)
	}
	return result
}

func (d *Directory) record(r RunRecorder, run *models.RefreshRun, raw []byte, now time.Time, count int, superseded bool, fetchErr error) {
	if fetchErr == nil && !superseded && len(raw) > 0 {
		if err := r.SaveSnapshot(raw, now); err != nil {
			log.Printf("directory: save snapshot: %v", err)
		}
	}
	if run == nil {
		return
	}
	run.CompletedAt = sql.NullTime{Time: now, Valid: true}
	run.Success = fetchErr == nil
	run.Discarded = superseded
	if fetchErr != nil {
		run.ErrorMessage = sql.NullString{String: fetchErr.Error(), Valid: true}
	} else {
		run.StationCount = sql.NullInt64{Int64: int64(count), Valid: true}
	}
	if err := r.CompleteRefreshRun(run); err != nil {
		log.Printf("directory: complete refresh run: %v", err)
	}
}

// Load replaces the collection without touching the feed, for warm starts.
func (d *Directory) Load(stations []models.Station, fetchedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stations == nil {
		stations = []models.Station{}
	}
	d.stations = stations
	d.index = proximity.NewIndex(stations)
	d.refreshedAt = fetchedAt
	metrics.StationsIngested.Set(float64(len(stations)))
}

// Loading reports whether a refresh is in flight.
func (d *Directory) Loading() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inflight > 0
}

// Err returns the error of the last applied refresh attempt, nil after a success.
func (d *Directory) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// RefreshedAt returns when the current collection was fetched. ok is false
// before the first load.
func (d *Directory) RefreshedAt() (t time.Time, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshedAt, !d.refreshedAt.IsZero()
}

// Stations returns a copy of the collection.
func (d *Directory) Stations() []models.Station {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Station, len(d.stations))
	copy(out, d.stations)
	return out
}

// Station looks a station up by ID.
func (d *Directory) Station(id string) (models.Station, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, st := range d.stations {
		if st.ID == id {
			return st, true
		}
	}
	return models.Station{}, false
}

// StationsInArea returns the stations whose area matches exactly.
func (d *Directory) StationsInArea(area string) []models.Station {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []models.Station{}
	for _, st := range d.stations {
		if st.Area == area {
			out = append(out, st)
		}
	}
	return out
}

// Filter returns the current filter state.
func (d *Directory) Filter() FilterState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter
}

// SetArea restricts the list to one area; empty clears it.
func (d *Directory) SetArea(area string) {
	d.update(func(fs *FilterState) { fs.Area = area })
}

// SetSearchTerm sets the case-insensitive search term.
func (d *Directory) SetSearchTerm(term string) {
	d.update(func(fs *FilterState) { fs.Search = term })
}

// SetCategory sets the availability/favorites category.
func (d *Directory) SetCategory(name string) error {
	c, err := ParseCategory(name)
	if err != nil {
		return err
	}
	d.update(func(fs *FilterState) { fs.Category = c })
	return nil
}

// SetSort sets the sort key and direction together.
func (d *Directory) SetSort(key, dir string) error {
	k, err := ParseSortKey(key)
	if err != nil {
		return err
	}
	dn, err := ParseDirection(dir)
	if err != nil {
		return err
	}
	d.update(func(fs *FilterState) {
		fs.SortKey = k
		fs.SortDirection = dn
	})
	return nil
}

// SetRadiusEnabled toggles radius filtering. The center controller drives this.
func (d *Directory) SetRadiusEnabled(enabled bool) {
	d.update(func(fs *FilterState) { fs.RadiusEnabled = enabled })
}

// Apply replaces the user-facing filter fields in one step. Radius enablement
// is owned by center transitions and is left as is.
func (d *Directory) Apply(fs FilterState) error {
	c, err := ParseCategory(string(fs.Category))
	if err != nil {
		return err
	}
	k, err := ParseSortKey(string(fs.SortKey))
	if err != nil {
		if fs.SortKey != "" {
			return err
		}
		k = SortName
	}
	dn, err := ParseDirection(string(fs.SortDirection))
	if err != nil {
		return err
	}
	d.update(func(cur *FilterState) {
		cur.Area = fs.Area
		cur.Search = fs.Search
		cur.Category = c
		cur.SortKey = k
		cur.SortDirection = dn
	})
	return nil
}

// Update edits the user-facing filter fields under one lock. fn works on a
// copy, which is committed only if it validates; radius enablement is kept.
func (d *Directory) Update(fn func(*FilterState)) (FilterState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.filter
	fn(&next)

	c, err := ParseCategory(string(next.Category))
	if err != nil {
		return d.filter, err
	}
	k, err := ParseSortKey(string(next.SortKey))
	if err != nil {
		return d.filter, err
	}
	dn, err := ParseDirection(string(next.SortDirection))
	if err != nil {
		return d.filter, err
	}
	next.Category, next.SortKey, next.SortDirection = c, k, dn
	next.RadiusEnabled = d.filter.RadiusEnabled
	d.filter = next
	return next, nil
}

func (d *Directory) update(fn func(*FilterState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.filter)
}

// View derives the filtered, sorted list plus aggregates from the current state.
func (d *Directory) View(fav Favorites) View {
	d.mu.RLock()
	centerSrc := d.center
	d.mu.RUnlock()

	var (
		center      *models.CenterPoint
		radius      float64
		stations    []models.Station
		index       *proximity.Index
		fs          FilterState
		lastErr     error
		refreshedAt time.Time
		loading     bool
	)
	// The center is read outside d.mu since a transition toggles radius
	// filtering through it. A transition landing between the center read and
	// the filter read would pair a center with the wrong radius flag, so the
	// center is read again and the whole read retried if it moved.
	for attempt := 0; ; attempt++ {
		c, r, ok := readCenter(centerSrc)

		d.mu.RLock()
		stations = d.stations
		index = d.index
		fs = d.filter
		lastErr = d.lastErr
		refreshedAt = d.refreshedAt
		loading = d.inflight > 0
		d.mu.RUnlock()

		c2, r2, ok2 := readCenter(centerSrc)
		if (c == c2 && r == r2 && ok == ok2) || attempt == maxViewReads-1 {
			if ok2 {
				center, radius = &c2, r2
			}
			break
		}
	}

	entries := Derive(stations, Query{
		Filter:    fs,
		Center:    center,
		Radius:    radius,
		Favorites: fav,
		Index:     index,
	})

	v := View{
		Stations: entries,
		Count:    len(entries),
		Stats:    ComputeStats(stations),
		Areas:    Areas(stations),
		Filter:   fs,
		Center:   center,
		Radius:   radius,
		Loading:  loading,
	}
	if lastErr != nil {
		v.Error = lastErr.Error()
	}
	if !refreshedAt.IsZero() {
		v.RefreshedAt = &refreshedAt
	}
	return v
}

const maxViewReads = 5

func readCenter(src CenterSource) (models.CenterPoint, float64, bool) {
	if src == nil {
		return models.CenterPoint{}, 0, false
	}
	return src.Snapshot()
}

// Stats computes aggregates over the whole collection.
func (d *Directory) Stats() models.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ComputeStats(d.stations)
}

// Areas returns the distinct area names, sorted.
func (d *Directory) Areas() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Areas(d.stations)
}

// NearbyStations returns up to limit other stations within radius of the given
// station, nearest first.
func (d *Directory) NearbyStations(id string, radius float64, limit int) ([]proximity.Result, error) {
	st, ok := d.Station(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}
	if err := geo.Validate(st.Position()); err != nil {
		return nil, fmt.Errorf("nearby %s: %w", id, err)
	}

	d.mu.RLock()
	index := d.index
	d.mu.RUnlock()

	results := []proximity.Result{}
	for _, r := range index.Nearby(st.Position(), radius, limit+1) {
		if r.Station.ID == id {
			continue
		}
		results = append(results, r)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ComputeStats sums the collection from scratch.
func ComputeStats(stations []models.Station) models.Stats {
	s := models.Stats{TotalStations: len(stations)}
	for _, st := range stations {
		if st.Enabled {
			s.ActiveStations++
		}
		s.TotalBikes += st.AvailableRentBikes
		s.TotalSlots += st.AvailableReturnBikes
	}
	return s
}

// Areas returns the distinct non-empty area names, sorted.
func Areas(stations []models.Station) []string {
	seen := make(map[string]bool)
	areas := []string{}
	for _, st := range stations {
		if st.Area == "" || seen[st.Area] {
			continue
		}
		seen[st.Area] = true
		areas = append(areas, st.Area)
	}
	sort.Strings(areas)
	return areas
}
