package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lox/ubikemap/internal/mapprovider"
	"github.com/lox/ubikemap/internal/models"
)

// CenterResponse is the center controller state.
type CenterResponse struct {
	Center       *models.CenterPoint `json:"center,omitempty"`
	Radius       float64             `json:"radius"`
	Selected     string              `json:"selected,omitempty"`
	UserLocation *models.Point       `json:"userLocation,omitempty"`
	ViewMode     models.View         `json:"viewMode"`
}

func (s *Server) centerState() CenterResponse {
	c, radius, ok := s.center.Snapshot()
	resp := CenterResponse{
		Radius:   radius,
		ViewMode: s.center.View(),
	}
	if ok {
		resp.Center = &c
		if c.Source == models.SourceStation {
			resp.Selected = c.StationID
		}
	}
	if p, ok := s.center.UserLocation(); ok {
		resp.UserLocation = &p
	}
	return resp
}

func (s *Server) handleGetCenter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.centerState())
}

// handleCenterGPS centers on a posted device fix, or asks the active map
// provider for one when the body is empty. Failures leave the center as is.
func (s *Server) handleCenterGPS(w http.ResponseWriter, r *http.Request) {
	var p models.Point
	err := decodeJSON(w, r, &p)
	switch {
	case errors.Is(err, io.EOF):
		loc, err := s.locate(r)
		if err != nil {
			var le *mapprovider.LocationError
			if errors.As(err, &le) {
				writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
					Error:   err.Error(),
					Details: map[string]string{"reason": string(le.Reason)},
				})
				return
			}
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		p = loc
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid position: "+err.Error())
		return
	}

	if err := s.center.SetFromGPS(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.centerState())
}

func (s *Server) locate(r *http.Request) (models.Point, error) {
	if s.maps == nil {
		return models.Point{}, &mapprovider.LocationError{Reason: mapprovider.ReasonUnsupported}
	}
	p, err := s.maps.Select(r.Context())
	if err != nil {
		return models.Point{}, err
	}
	return p.CurrentLocation(r.Context())
}

func (s *Server) handleCenterStation(w http.ResponseWriter, r *http.Request) {
	st, ok := s.dir.Station(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}
	if err := s.center.SetFromStation(st); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.centerState())
}

func (s *Server) handleCenterMap(w http.ResponseWriter, r *http.Request) {
	var p models.Point
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid position: "+err.Error())
		return
	}
	if err := s.center.SetFromMap(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.centerState())
}

func (s *Server) handleCenterReset(w http.ResponseWriter, r *http.Request) {
	s.center.ResetToDefault()
	writeJSON(w, http.StatusOK, s.centerState())
}

type viewModeRequest struct {
	ViewMode models.View `json:"viewMode"`
}

func (s *Server) handleGetViewMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewModeRequest{ViewMode: s.center.View()})
}

// handlePutViewMode switches and persists the view. Leaving the map view
// resets the center inside the controller.
func (s *Server) handlePutViewMode(w http.ResponseWriter, r *http.Request) {
	var req viewModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid view mode: "+err.Error())
		return
	}
	if err := s.center.SetView(req.ViewMode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.store != nil {
		if err := s.store.SetViewMode(req.ViewMode); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, s.centerState())
}
