package api

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/examseg/internal/imagestore"
)

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	rc, err := s.orchestrator.ImageStore().Open(name)
	switch {
	case errors.Is(err, imagestore.ErrInvalidName):
		jsonError(w, "invalid image name", http.StatusBadRequest)
		return
	case errors.Is(err, fs.ErrNotExist):
		jsonError(w, "image not found", http.StatusNotFound)
		return
	case err != nil:
		s.log.Error("image open failed", "filename", name, "error", err)
		jsonError(w, "failed to open image", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("image write interrupted", "filename", name, "error", err)
	}
}
