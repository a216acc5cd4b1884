package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/ubikemap/internal/directory"
	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/models"
	"github.com/lox/ubikemap/internal/proximity"
	"github.com/lox/ubikemap/internal/store"
)

// staleAfter marks the collection degraded when no refresh has landed for this long.
const staleAfter = 10 * time.Minute

type HealthStatus struct {
	Status      string               `json:"status"`
	Database    string               `json:"database"`
	Stations    int                  `json:"stations"`
	RefreshedAt *time.Time           `json:"refreshedAt,omitempty"`
	AgeSeconds  int                  `json:"ageSeconds"`
	Paused      []string             `json:"paused,omitempty"`
	Refreshes   *store.RefreshHealth `json:"refreshes,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	health := HealthStatus{
		Status:     "ok",
		Database:   "connected",
		Stations:   len(s.dir.Stations()),
		AgeSeconds: -1,
		Timestamp:  now.UTC(),
	}

	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			health.Database = "disconnected"
			health.Errors = append(health.Errors, err.Error())
		} else if rh, err := s.store.RefreshHealth(now.Add(-time.Hour)); err != nil {
			health.Errors = append(health.Errors, err.Error())
		} else {
			health.Refreshes = &rh
		}
	} else {
		health.Database = "none"
	}

	if t, ok := s.dir.RefreshedAt(); ok {
		health.RefreshedAt = &t
		health.AgeSeconds = int(now.Sub(t).Seconds())
		if now.Sub(t) > staleAfter {
			health.Status = "degraded"
		}
	} else {
		health.Status = "degraded"
	}
	if err := s.dir.Err(); err != nil {
		health.Status = "degraded"
		health.Errors = append(health.Errors, err.Error())
	}
	if s.coord != nil {
		health.Paused = s.coord.Reasons()
	}
	if health.Database == "disconnected" {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.Stations())
}

func (s *Server) handleStationsInArea(w http.ResponseWriter, r *http.Request) {
	area := strings.TrimSpace(chi.URLParam(r, "area"))
	if area == "" {
		writeError(w, http.StatusBadRequest, "area parameter is required")
		return
	}
	stations := s.dir.StationsInArea(area)
	if len(stations) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "no stations found in area",
			Details: map[string]string{"area": area},
		})
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	st, ok := s.dir.Station(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ViewResponse is the directory view plus the presentation state around it.
type ViewResponse struct {
	directory.View
	ViewMode     models.View   `json:"viewMode"`
	Selected     string        `json:"selected,omitempty"`
	UserLocation *models.Point `json:"userLocation,omitempty"`
	Paused       bool          `json:"paused"`
	Favorites    int           `json:"favorites"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var fav directory.Favorites
	resp := ViewResponse{}
	if s.store != nil {
		set, err := s.store.Favorites()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		fav = set
		resp.Favorites = len(set)
	}

	resp.View = s.dir.View(fav)
	resp.ViewMode = s.center.View()
	if id, ok := s.center.SelectedStation(); ok {
		resp.Selected = id
	}
	if p, ok := s.center.UserLocation(); ok {
		resp.UserLocation = &p
	}
	if s.coord != nil {
		resp.Paused = s.coord.Paused()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.Filter())
}

func (s *Server) handlePutFilter(w http.ResponseWriter, r *http.Request) {
	var fs directory.FilterState
	if err := decodeJSON(w, r, &fs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}
	if err := s.dir.Apply(fs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dir.Filter())
}

// filterPatch changes only the fields present in the request body.
type filterPatch struct {
	Area          *string `json:"area"`
	Search        *string `json:"search"`
	Category      *string `json:"category"`
	SortKey       *string `json:"sortKey"`
	SortDirection *string `json:"sortDirection"`
}

func (s *Server) handlePatchFilter(w http.ResponseWriter, r *http.Request) {
	var p filterPatch
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	fs, err := s.dir.Update(func(fs *directory.FilterState) {
		if p.Area != nil {
			fs.Area = strings.TrimSpace(*p.Area)
		}
		if p.Search != nil {
			fs.Search = *p.Search
		}
		if p.Category != nil {
			fs.Category = directory.Category(*p.Category)
		}
		if p.SortKey != nil {
			fs.SortKey = directory.SortKey(*p.SortKey)
		}
		if p.SortDirection != nil {
			fs.SortDirection = directory.Direction(*p.SortDirection)
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	radius, err := floatParam(r, "radius", 1000)
	if err != nil || !(radius > 0) {
		writeError(w, http.StatusBadRequest, "invalid radius")
		return
	}
	limit, err := intParam(r, "limit", proximity.DefaultLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	results, err := s.dir.NearbyStations(id, radius, limit)
	switch {
	case errors.Is(err, directory.ErrStationNotFound):
		writeError(w, http.StatusNotFound, "station not found")
		return
	case errors.Is(err, geo.ErrInvalidCoordinate):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// RefreshResponse reports a manual refresh.
type RefreshResponse struct {
	Stations    int          `json:"stations"`
	Stats       models.Stats `json:"stats"`
	RefreshedAt *time.Time   `json:"refreshedAt,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.dir.Refresh(r.Context())
	switch {
	case errors.Is(err, directory.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := RefreshResponse{Stats: s.dir.Stats()}
	resp.Stations = resp.Stats.TotalStations
	if t, ok := s.dir.RefreshedAt(); ok {
		resp.RefreshedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePauseReasons(w http.ResponseWriter, r *http.Request) {
	s.writePauseState(w)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.coord != nil {
		s.coord.Pause(chi.URLParam(r, "reason"))
	}
	s.writePauseState(w)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.coord != nil {
		s.coord.Resume(chi.URLParam(r, "reason"))
	}
	s.writePauseState(w)
}

func (s *Server) writePauseState(w http.ResponseWriter) {
	if s.coord == nil {
		writeError(w, http.StatusNotFound, "auto-refresh is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paused":   s.coord.Paused(),
		"reasons":  s.coord.Reasons(),
		"interval": s.coord.Interval().String(),
	})
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
