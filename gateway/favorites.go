package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// favoritesFile is the persisted-state file holding the UI's favorites
// payload. The contents are opaque to the gateway; it only guarantees the
// blob is valid JSON and the write is atomic.
const favoritesFile = "favorites.json"

const maxFavoritesBytes = 1 << 20

func (s *Server) favoritesPath() string {
	return filepath.Join(s.cacheDir, favoritesFile)
}

func (s *Server) handleFavoritesGet(w http.ResponseWriter, r *http.Request) {
	if s.cacheDir == "" {
		http.Error(w, "no cache directory configured", http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(s.favoritesPath())
	if os.IsNotExist(err) {
		data = []byte("{}")
	} else if err != nil {
		http.Error(w, "read favorites failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data) //nolint:errcheck
}

func (s *Server) handleFavoritesPut(w http.ResponseWriter, r *http.Request) {
	if s.cacheDir == "" {
		http.Error(w, "no cache directory configured", http.StatusNotFound)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFavoritesBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if !json.Valid(data) {
		http.Error(w, "body is not valid JSON", http.StatusBadRequest)
		return
	}

	// Same temp-then-rename discipline as the auth cache so a crash mid-write
	// never leaves a torn file.
	path := s.favoritesPath()
	tmp, err := os.CreateTemp(s.cacheDir, favoritesFile+".*")
	if err != nil {
		http.Error(w, "write favorites failed", http.StatusInternalServerError)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name()) //nolint:errcheck
		http.Error(w, "write favorites failed", http.StatusInternalServerError)
		return
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		http.Error(w, "write favorites failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}
