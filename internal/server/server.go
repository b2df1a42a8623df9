// Package server exposes the batch pipeline over HTTP for the web console.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relayhq/emlpipe/internal/config"
	"github.com/relayhq/emlpipe/internal/pipeline"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	pipeline *pipeline.Pipeline
	manager  *pipeline.Manager

	maxUploadBytes  int64
	minCleanupFiles int
	allowedOrigins  []string
}

// New creates a Server around an assembled pipeline.
func New(cfg *config.Config, p *pipeline.Pipeline) *Server {
	maxMB := cfg.Server.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 100
	}
	return &Server{
		pipeline:        p,
		manager:         pipeline.NewManager(),
		maxUploadBytes:  int64(maxMB) << 20,
		minCleanupFiles: cfg.Cleanup.MinFiles,
		allowedOrigins:  cfg.Server.AllowedOrigins,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/check-duplicates", s.handleCheckDuplicates)

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.handleListBatches)
			r.Route("/{batchID}", func(r chi.Router) {
				r.Get("/", s.handleGetBatch)
				r.Delete("/", s.handleDeleteBatch)
				r.Put("/label", s.handleSetLabel)
				r.Put("/kb-label", s.handleSetKBName)
				r.Post("/reset", s.handleResetBatch)
			})
		})

		r.Route("/auto", func(r chi.Router) {
			r.Post("/clean", s.runStage("clean", s.pipeline.Clean))
			r.Post("/llm-process", s.runStage("llm-process", s.pipeline.LLMProcess))
			r.Post("/upload-kb", s.runStage("upload-kb", s.pipeline.UploadKB))
			r.Post("/process", s.handleProcess)
			r.Post("/stop", s.handleStop)
		})

		r.Get("/progress", s.handleProgress)

		r.Route("/cleanup", func(r chi.Router) {
			r.Get("/scan", s.handleCleanupScan)
			r.Post("/run", s.handleCleanupRun)
		})
	})

	return r
}
