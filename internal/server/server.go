// Package server exposes the reindexing pipeline over HTTP: job trigger
// and status endpoints, vector query and fingerprint lookup, and a
// websocket feed of job progress events.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/metrics"
	"github.com/atlasmeta/reindexer/internal/reindex"
	"github.com/atlasmeta/reindexer/internal/vector"
)

// Server wires the HTTP API over the job runner and the vector service.
type Server struct {
	app       *reindex.App
	vectorSvc *vector.Service // nil when embeddings are disabled
	hub       *Hub
	log       *slog.Logger
	port      string
	stats     *metrics.Collector

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// New builds the server. vectorSvc may be nil; the vector endpoints then
// answer 503.
func New(app *reindex.App, vectorSvc *vector.Service, hub *Hub, log *slog.Logger, port string) *Server {
	return &Server{
		app:       app,
		vectorSvc: vectorSvc,
		hub:       hub,
		log:       log,
		port:      port,
		stats:     metrics.NewCollector(),
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log, s.stats))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/reindex", s.handleTrigger)
		r.Get("/reindex", s.handleListJobs)
		r.Get("/reindex/{jobID}", s.handleJobStatus)
		r.Post("/reindex/{jobID}/stop", s.handleStopJob)

		r.Post("/search/vector/query", s.handleVectorQuery)
		r.Get("/search/vector/fingerprint", s.handleFingerprint)
		r.Post("/search/vector/fingerprints", s.handleBatchFingerprints)
	})

	r.Get("/ws/reindex", s.hub.ServeWS)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         ":" + s.port,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	s.stopAllJobs()
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// trackJob remembers the cancel func of a running job so the stop
// endpoint can reach it.
func (s *Server) trackJob(jobID uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = cancel
}

func (s *Server) untrackJob(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// stopJob cancels a running job. Reports whether the job was running in
// this process.
func (s *Server) stopJob(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (s *Server) stopAllJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.running {
		cancel()
		delete(s.running, id)
	}
}

// requestLogger logs every request with timing at debug level, slow or
// failed ones louder, and feeds the timing into the stats collector.
func requestLogger(log *slog.Logger, stats *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			stats.RecordTiming(metrics.OpHTTPRequest, time.Since(start))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch {
			case ww.Status() >= 500:
				log.Error("request failed", attrs...)
			case time.Since(start) > 100*time.Millisecond:
				log.Warn("slow request", attrs...)
			default:
				log.Debug("request completed", attrs...)
			}
		})
	}
}
