package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/epubnorm/internal/config"
	"github.com/dgallion1/epubnorm/internal/importer"
	"github.com/dgallion1/epubnorm/internal/pipeline"
)

// Server is the HTTP API server for epubnorm.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	importer     *importer.Client
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. imp may be nil, in which
// case the import endpoints answer 503.
func NewServer(orch *pipeline.Orchestrator, imp *importer.Client, log *slog.Logger, cfg config.Config) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		orchestrator: orch,
		importer:     imp,
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

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/books", s.handleUpload)
		r.Get("/api/books/{jobID}/status", s.handleStatus)
		r.Get("/api/books/{jobID}/plan", s.handlePlan)
		r.Post("/api/books/{jobID}/import", s.handleImport)
		r.Get("/api/stats/import", s.handleImportStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
