// Package server exposes the VexDB RPC surface over HTTP.
//
// The server is a stateless translator: it decodes a request, calls the
// vector storage manager, and encodes the result. Request and response
// bodies are JSON by default; the vector and search endpoints also speak
// msgpack (Content-Type / Accept: application/msgpack) so large batch
// payloads avoid the JSON float tax.
//
// Endpoints:
//
//	GET    /health                                   - liveness + uptime
//	GET    /collections                              - list collections
//	POST   /collections                              - create collection
//	DELETE /collections/{name}                       - delete collection
//	GET    /collections/{name}/stats                 - per-collection stats
//	POST   /collections/{name}/vectors               - insert one vector
//	POST   /collections/{name}/vectors/batch         - batch insert
//	GET    /collections/{name}/vectors/{id}          - fetch by id
//	DELETE /collections/{name}/vectors/{id}          - delete by id
//	POST   /collections/{name}/search                - single query
//	POST   /collections/{name}/search/batch          - batch query
//
// Error model:
//
// Domain outcomes (collection already exists, id not found, dimension
// mismatch on insert) are reported in the response body via success/found
// fields and never tear down the connection. Transport-level statuses are
// reserved for malformed requests and search queries of the wrong dimension
// (400), unknown collections and endpoints (404), unsupported methods (405),
// and internal faults (500, short message, no stack traces).
//
// Lifecycle:
//
//	srv, err := server.New(storage, server.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	...
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	srv.Stop(ctx)
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/appcorner/vexdb/pkg/vectorstore"
)

// Config holds HTTP server settings. All fields have defaults via
// DefaultConfig.
type Config struct {
	// ListenAddress is the host:port to bind (default "0.0.0.0:50052").
	ListenAddress string
	// ReadTimeout for requests.
	ReadTimeout time.Duration
	// WriteTimeout for responses.
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections.
	IdleTimeout time.Duration
	// MaxRequestSize in bytes. Batch payloads can be large; the default is
	// 100 MiB.
	MaxRequestSize int64
	// EnableCORS allows cross-origin requests from browser tooling.
	EnableCORS bool
	// Version is reported by the health endpoint.
	Version string
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:  "0.0.0.0:50052",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 100 * 1024 * 1024,
		EnableCORS:     true,
		Version:        "dev",
	}
}

// Server is the VexDB HTTP API server. Thread-safe; create with New, start
// with Start, stop with Stop.
type Server struct {
	config  *Config
	storage *vectorstore.Storage

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	// Request metrics.
	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64

	// Search metrics, process-wide and monotone since boot. Updated with
	// atomic adds only; the stats endpoint divides to report the average.
	searchCount      atomic.Int64
	searchTimeMicros atomic.Int64
}

// New creates a server over the given storage. The storage is required;
// config may be nil for defaults.
func New(storage *vectorstore.Storage, config *Config) (*Server, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{config: config, storage: storage}, nil
}

// Start binds the listen address and begins serving in a background
// goroutine. Returns an error if the bind fails or the server was stopped.
func (s *Server) Start() error {
	if s.closed.Load() {
		return fmt.Errorf("server closed")
	}

	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, letting in-flight requests finish
// until the context expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil // already closed
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.started)
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/collections", s.handleCollections)
	mux.HandleFunc("/collections/", s.handleCollectionSubtree)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	return handler
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Health probes are noise.
		if r.URL.Path != "/health" {
			log.Printf("%s %s %d %v", r.Method, r.URL.Path, wrapped.status, time.Since(start))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				log.Printf("PANIC: %v\n%s", err, buf[:n])

				s.writeError(w, r, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)

		if s.config.MaxRequestSize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// recordSearch folds one search call into the process-wide counters.
func (s *Server) recordSearch(elapsed time.Duration, queries int64) {
	s.searchCount.Add(queries)
	s.searchTimeMicros.Add(elapsed.Microseconds())
}

// avgSearchTimeMs returns cumulative search time divided by search count.
func (s *Server) avgSearchTimeMs() float64 {
	count := s.searchCount.Load()
	if count == 0 {
		return 0
	}
	return float64(s.searchTimeMicros.Load()) / 1000.0 / float64(count)
}
