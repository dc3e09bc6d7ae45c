package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/examseg/internal/config"
	"github.com/dgallion1/examseg/internal/pipeline"
)

// Server is the HTTP API server for examseg.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, log *slog.Logger, cfg config.Config) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		orchestrator: orch,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints. Image names carry a random suffix and are
	// embedded by previews, which browsers fetch without credentials.
	r.Get("/health", s.handleHealth)
	r.Get("/images/{filename}", s.handleImage)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/extract", s.handleExtract)
		r.Get("/api/extract/{jobID}", s.handleExtractStatus)
		r.Get("/api/extract/{jobID}/summary", s.handleExtractSummary)
		r.Get("/api/extract/{jobID}/questions/{number}/preview", s.handleQuestionPreview)
		r.Get("/api/stats/extraction", s.handleExtractionStats)

		r.Get("/api/exports", s.handleListExports)
		r.Delete("/api/exports/{docID}", s.handleDeleteExport)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
