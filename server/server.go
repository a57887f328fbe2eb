// Package server provides the HTTP API for triggering imports and
// inspecting results.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/jobsink/jobsink/pkg/domain"
	"github.com/jobsink/jobsink/pkg/repository"
)

// Server represents HTTP server instance
type Server struct {
	listen  string
	timeout time.Duration
	version string
	debug   bool

	jobs     JobStore
	results  ResultStore
	producer Producer
	stream   Streamer

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// JobStore provides read access to imported jobs
type JobStore interface {
	Search(ctx context.Context, query string, limit, offset int) ([]domain.Job, error)
	Count(ctx context.Context) (int, error)
}

// ResultStore provides read access to import result records
type ResultStore interface {
	Get(ctx context.Context, id int64) (*domain.ImportResult, error)
	List(ctx context.Context, filter repository.ResultFilter) ([]domain.ImportResult, int, error)
}

// Producer enqueues import tasks on demand
type Producer interface {
	Enqueue(ctx context.Context, trigger domain.Trigger, override ...string) (int, error)
}

// Streamer delivers import results as they complete
type Streamer interface {
	Subscribe(ctx context.Context) (<-chan domain.ImportResult, func(), error)
}

// Config holds server construction parameters
type Config struct {
	Listen  string
	Timeout time.Duration
	Version string
	Debug   bool
}

// New initializes a new server instance
func New(cfg Config, jobs JobStore, results ResultStore, producer Producer, stream Streamer) *Server {
	s := &Server{
		listen:   cfg.Listen,
		timeout:  cfg.Timeout,
		version:  cfg.Version,
		debug:    cfg.Debug,
		jobs:     jobs,
		results:  results,
		producer: producer,
		stream:   stream,
		router:   routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] starting server on %s", s.listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:        s.listen,
		Handler:     s.router,
		ReadTimeout: s.timeout,
		// no write timeout, the results stream is long-lived
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("jobsink", "jobsink", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(64 * 1024)) // 64KB, API bodies are tiny
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("POST /import", s.importHandler)
		r.HandleFunc("GET /results", s.resultsHandler)
		r.HandleFunc("GET /results/stream", s.resultsStreamHandler)
		r.HandleFunc("GET /results/{id}", s.resultHandler)
		r.HandleFunc("GET /jobs", s.jobsHandler)
	})
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
