package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lox/ubikemap/internal/store"
)

type favoriteResponse struct {
	StationID string `json:"stationId"`
	Favorite  bool   `json:"favorite"`
}

// withStore guards handlers that need persistence.
func (s *Server) withStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "favorites are not available without a database")
		return false
	}
	return true
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	ids, err := s.store.ListFavorites()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": ids, "count": len(ids)})
}

func (s *Server) handleFavoriteCount(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	n, err := s.store.FavoriteCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.store.AddFavorite(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{StationID: id, Favorite: true})
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.store.RemoveFavorite(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{StationID: id, Favorite: false})
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	fav, err := s.store.ToggleFavorite(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{StationID: id, Favorite: fav})
}

func (s *Server) handleClearFavorites(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	if err := s.store.ClearFavorites(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportFavorites(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	now := s.now()
	export, err := s.store.ExportFavorites(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	filename := fmt.Sprintf("youbike-favorites-%s.json", now.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleImportFavorites(w http.ResponseWriter, r *http.Request) {
	if !s.withStore(w) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	imported, added, err := s.store.ImportFavorites(data)
	switch {
	case errors.Is(err, store.ErrInvalidFavoritesFile):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count, err := s.store.FavoriteCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "added": added, "count": count})
}
