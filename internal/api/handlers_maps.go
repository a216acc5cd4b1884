package api

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lox/ubikemap/internal/center"
	"github.com/lox/ubikemap/internal/directory"
	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/mapprovider"
	"github.com/lox/ubikemap/internal/models"
)

var infoTemplate = template.Must(template.New("info").Parse(`<div class="station-info">
<h3>{{.Title}}</h3>
<p>{{.Station.Area}} · {{.Station.Address}}</p>
<p>Bikes available: <strong>{{.Station.AvailableRentBikes}}</strong></p>
<p>Open docks: <strong>{{.Station.AvailableReturnBikes}}</strong> of {{.Station.Capacity}}</p>
{{if .Distance}}<p>Distance: {{.Distance}}</p>{{end}}
{{if .StreetView}}<img src="{{.StreetView}}" width="300" height="200" alt="Street View">{{end}}
</div>`))

type infoData struct {
	Title      string
	Station    models.Station
	Distance   string
	StreetView string
}

// ProviderStatus describes which map backend is serving.
type ProviderStatus struct {
	Provider string             `json:"provider,omitempty"`
	Fallback *ProviderErrorBody `json:"fallback,omitempty"`
}

// ProviderErrorBody is the user-facing form of a provider failure.
type ProviderErrorBody struct {
	Provider string            `json:"provider"`
	Cause    mapprovider.Cause `json:"cause"`
	Message  string            `json:"message"`
}

func providerErrorBody(err error) *ProviderErrorBody {
	var pe *mapprovider.ProviderError
	if !errors.As(err, &pe) {
		return &ProviderErrorBody{Cause: mapprovider.CauseLoadFailed, Message: mapprovider.CauseLoadFailed.Message()}
	}
	return &ProviderErrorBody{Provider: pe.Provider, Cause: pe.Cause, Message: pe.Cause.Message()}
}

func (s *Server) provider(w http.ResponseWriter, r *http.Request) (mapprovider.Provider, bool) {
	if s.maps == nil {
		writeError(w, http.StatusServiceUnavailable, "no map provider configured")
		return nil, false
	}
	p, err := s.maps.Select(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Details: providerErrorBody(err)})
		return nil, false
	}
	return p, true
}

func (s *Server) handleMapProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	status := ProviderStatus{Provider: p.Name()}
	if err := s.maps.Fallback(); err != nil {
		status.Fallback = providerErrorBody(err)
	}
	writeJSON(w, http.StatusOK, status)
}

type createMapRequest struct {
	Center *models.Point `json:"center"`
	Zoom   int           `json:"zoom"`
}

// handleCreateMap builds a map for the current directory view: one marker per
// listed station, and the selected station's info window opened on its marker.
func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var req createMapRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid map request: "+err.Error())
		return
	}
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var ref *models.Point
	mapCenter := center.DefaultPoint
	if c, ok := s.center.Current(); ok {
		mapCenter = c.Point
		ref = &c.Point
	}
	if req.Center != nil {
		mapCenter = *req.Center
	}

	m, err := p.CreateMap(ctx, mapprovider.MapOptions{Center: mapCenter, Zoom: req.Zoom})
	if err != nil {
		s.writeProviderError(w, err)
		return
	}

	var fav directory.Favorites
	if s.store != nil {
		if set, err := s.store.Favorites(); err == nil {
			fav = set
		} else {
			log.Printf("api: load favorites: %v", err)
		}
	}
	selected, _ := s.center.SelectedStation()

	var selectedMarker string
	var selectedStation models.Station
	var selectedStyle mapprovider.MarkerStyle
	for _, e := range s.dir.View(fav).Stations {
		if !geo.Valid(e.Position()) {
			continue
		}
		style := mapprovider.StyleFor(e.Station, selected, ref)
		mk, err := p.CreateMarker(ctx, m.ID, e.Position(), style)
		if err != nil {
			s.writeProviderError(w, err)
			return
		}
		if style.Selected {
			selectedMarker, selectedStation, selectedStyle = mk.ID, e.Station, style
		}
	}

	if selectedMarker != "" {
		content, err := s.infoContent(p, selectedStation, selectedStyle)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		info, err := p.CreateInfoWindow(ctx, content, mapprovider.InfoOptions{MaxWidth: 320})
		if err != nil {
			s.writeProviderError(w, err)
			return
		}
		p.OpenInfoWindow(ctx, info.ID, selectedMarker, m.ID)
	}

	scene, err := p.Scene(ctx, m.ID)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scene)
}

func (s *Server) infoContent(p mapprovider.Provider, st models.Station, style mapprovider.MarkerStyle) (string, error) {
	data := infoData{Title: mapprovider.DisplayTitle(st.Name), Station: st}
	if style.Distance != nil {
		data.Distance = geo.FormatDistance(*style.Distance)
	}
	if c, ok := p.(*mapprovider.Commercial); ok {
		data.StreetView = c.StreetViewURL(st.Position(), mapprovider.DefaultStreetView)
	}
	var buf bytes.Buffer
	if err := infoTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	scene, err := p.Scene(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (s *Server) handleRemoveMap(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	if err := p.RemoveMap(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeProviderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFindNearby runs the provider's nearest-station query around a point,
// defaulting to the active center.
func (s *Server) handleFindNearby(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	pt := center.DefaultPoint
	c, defaultRadius, ok := s.center.Snapshot()
	if ok {
		pt = c.Point
	}
	q := r.URL.Query()
	if q.Has("lat") || q.Has("lng") {
		lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
		lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "lat and lng must both be numbers")
			return
		}
		pt = models.Point{Lat: lat, Lng: lng}
	}
	radius, err := floatParam(r, "radius", defaultRadius)
	if err != nil || !(radius > 0) {
		writeError(w, http.StatusBadRequest, "invalid radius")
		return
	}

	results, err := p.FindNearbyStations(r.Context(), pt, radius, s.dir.Stations())
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	bikes, err := intParam(r, "bikes", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bikes")
		return
	}
	style := mapprovider.MarkerStyle{
		AvailableBikes: bikes,
		Selected:       r.URL.Query().Get("selected") == "true",
		Title:          r.URL.Query().Get("title"),
	}
	if r.URL.Query().Has("distance") {
		d, err := floatParam(r, "distance", 0)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid distance")
			return
		}
		style.Distance = &d
	}

	icon, err := p.Icon(style)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	w.Header().Set("Content-Type", icon.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(icon.Data)
}

func (s *Server) handleStreetView(w http.ResponseWriter, r *http.Request) {
	st, ok := s.dir.Station(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}
	if err := geo.Validate(st.Position()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	var c *mapprovider.Commercial
	if s.maps != nil {
		if p, ok := s.maps.Provider(mapprovider.CommercialName); ok {
			c, _ = p.(*mapprovider.Commercial)
		}
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "street view needs the commercial map provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url": c.StreetViewURL(st.Position(), mapprovider.DefaultStreetView),
	})
}

func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mapprovider.ErrUnknownMap),
		errors.Is(err, mapprovider.ErrUnknownMarker),
		errors.Is(err, mapprovider.ErrUnknownInfo):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, geo.ErrInvalidCoordinate):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, mapprovider.ErrProviderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Details: providerErrorBody(err)})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
