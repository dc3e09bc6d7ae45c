package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/examseg/internal/pipeline"
)

func (s *Server) exporter(w http.ResponseWriter) (*pipeline.Exporter, bool) {
	exp := s.orchestrator.Exporter()
	if exp == nil {
		jsonError(w, "pathstore export is not configured", http.StatusServiceUnavailable)
		return nil, false
	}
	return exp, true
}

// handleListExports lists the documents exported to pathstore.
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.exporter(w)
	if !ok {
		return
	}
	docs, err := exp.ListDocuments(r.Context())
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteExport deletes an exported document with all its questions.
func (s *Server) handleDeleteExport(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.exporter(w)
	if !ok {
		return
	}
	docID := chi.URLParam(r, "docID")
	if err := exp.DeleteDocument(r.Context(), docID); err != nil {
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "deleted": true})
}
