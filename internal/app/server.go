package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/api/handlers"
	appMiddleware "github.com/clinovia/labpipe/internal/api/middlewares"
	"github.com/clinovia/labpipe/internal/config"
	"github.com/clinovia/labpipe/internal/core/chunkstore"
	"github.com/clinovia/labpipe/internal/core/worker"
	"github.com/clinovia/labpipe/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, log *zap.Logger, ingestSvc *services.IngestService, docSvc *services.DocumentService, tokenSvc *services.TokenService, chunks *chunkstore.Manager, wrk *worker.Worker) *Server {
	uploadHandler := handlers.NewUploadHandler(ingestSvc, tokenSvc, log)
	chunkHandler := handlers.NewChunkHandler(chunks, ingestSvc, log)
	archiveHandler := handlers.NewArchiveHandler(ingestSvc, log)
	adminHandler := handlers.NewAdminHandler(docSvc, wrk, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		// token-authenticated, for scanners and other unauthenticated clients
		api.Post("/quick-upload", uploadHandler.QuickUpload)

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTAuth(cfg.JWTSecret))

			protected.Post("/uploads", uploadHandler.UploadSingle)
			protected.Post("/uploads/bulk", uploadHandler.UploadBulk)
			protected.Post("/uploads/archive", uploadHandler.UploadArchive)

			protected.Post("/uploads/archive/async", archiveHandler.Submit)
			protected.Get("/uploads/archive/jobs/{jobID}", archiveHandler.JobStatus)

			protected.Post("/uploads/chunks/init", chunkHandler.Init)
			protected.Post("/uploads/chunks/{sessionID}", chunkHandler.AddChunk)
			protected.Post("/uploads/chunks/{sessionID}/finalize", chunkHandler.Finalize)
			protected.Get("/uploads/chunks/{sessionID}/status", chunkHandler.Status)
			protected.Delete("/uploads/chunks/{sessionID}", chunkHandler.Abort)

			protected.Get("/documents/{documentID}", adminHandler.GetDocument)

			protected.Post("/admin/documents/{documentID}/reprocess", adminHandler.Reprocess)
			protected.Post("/admin/documents/reprocess", adminHandler.ReprocessBatch)
			protected.Post("/admin/documents/{documentID}/cancel", adminHandler.Cancel)
			protected.Post("/admin/documents/cancel", adminHandler.CancelBatch)
			protected.Post("/admin/documents/process-pending", adminHandler.ProcessPending)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Fatal("server error", zap.Error(err))
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
