package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/ubikemap/internal/center"
	"github.com/lox/ubikemap/internal/directory"
	"github.com/lox/ubikemap/internal/mapprovider"
	"github.com/lox/ubikemap/internal/refresh"
	"github.com/lox/ubikemap/internal/store"
)

// Deps are the components the HTTP surface reads and drives.
type Deps struct {
	Directory *directory.Directory
	Center    *center.Controller
	Refresh   *refresh.Coordinator
	Store     *store.Store
	Maps      *mapprovider.Selector
}

type Server struct {
	dir    *directory.Directory
	center *center.Controller
	coord  *refresh.Coordinator
	store  *store.Store
	maps   *mapprovider.Selector

	addr        string
	corsOrigins []string
	now         func() time.Time
}

func NewServer(deps Deps, addr string, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		dir:         deps.Directory,
		center:      deps.Center,
		coord:       deps.Refresh,
		store:       deps.Store,
		maps:        deps.Maps,
		addr:        addr,
		corsOrigins: corsOrigins,
		now:         time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ubike", s.handleStations)
		r.Get("/ubike/area/{area}", s.handleStationsInArea)

		r.Get("/view", s.handleView)
		r.Get("/filter", s.handleGetFilter)
		r.Put("/filter", s.handlePutFilter)
		r.Patch("/filter", s.handlePatchFilter)

		r.Get("/stations/{id}", s.handleStation)
		r.Get("/stations/{id}/nearby", s.handleNearby)
		r.Get("/stations/{id}/streetview", s.handleStreetView)

		r.Get("/center", s.handleGetCenter)
		r.Post("/center/gps", s.handleCenterGPS)
		r.Post("/center/station/{id}", s.handleCenterStation)
		r.Post("/center/map", s.handleCenterMap)
		r.Post("/center/reset", s.handleCenterReset)

		r.Get("/view-mode", s.handleGetViewMode)
		r.Put("/view-mode", s.handlePutViewMode)

		r.Post("/refresh", s.handleRefresh)
		r.Get("/refresh/pause", s.handlePauseReasons)
		r.Put("/refresh/pause/{reason}", s.handlePause)
		r.Delete("/refresh/pause/{reason}", s.handleResume)

		r.Get("/map/provider", s.handleMapProvider)
		r.Post("/maps", s.handleCreateMap)
		r.Get("/maps/{id}", s.handleScene)
		r.Delete("/maps/{id}", s.handleRemoveMap)
		r.Get("/nearby", s.handleFindNearby)
		r.Get("/icons", s.handleIcon)

		r.Get("/favorites", s.handleListFavorites)
		r.Delete("/favorites", s.handleClearFavorites)
		r.Get("/favorites/count", s.handleFavoriteCount)
		r.Get("/favorites/export", s.handleExportFavorites)
		r.Post("/favorites/import", s.handleImportFavorites)
		r.Put("/favorites/{id}", s.handleAddFavorite)
		r.Delete("/favorites/{id}", s.handleRemoveFavorite)
		r.Post("/favorites/{id}/toggle", s.handleToggleFavorite)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on %s", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// writeJSON encodes before writing the header so an unencodable value becomes
// a 500 instead of a truncated 2xx.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
