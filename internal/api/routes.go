// Package api provides HTTP handlers and routing for the flowreach service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health and metrics endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Locks
	api.HandleFunc("/locks/write", s.handlers.AcquireWriteLock).Methods("POST")
	api.HandleFunc("/locks/read", s.handlers.AcquireReadLock).Methods("POST")
	api.HandleFunc("/locks/release", s.handlers.ReleaseLock).Methods("POST")
	api.HandleFunc("/locks/wait", s.handlers.WaitLockChanged).Methods("POST")

	// Reachability
	api.HandleFunc("/reachability/transfer", s.handlers.TransferReachable).Methods("POST")
	api.HandleFunc("/reachability/targets", s.handlers.ReadTargets).Methods("POST")
	api.HandleFunc("/reachability/paths", s.handlers.ReadPaths).Methods("POST")
	api.HandleFunc("/reachability/query", s.handlers.QueryReachable).Methods("POST")

	// Flow definitions
	api.HandleFunc("/flows", s.handlers.CreateFlow).Methods("POST")
	api.HandleFunc("/flows", s.handlers.ListFlows).Methods("GET")
	api.HandleFunc("/flows/{slug}", s.handlers.GetFlow).Methods("GET")
	api.HandleFunc("/flows/{slug}", s.handlers.UpdateFlow).Methods("PUT")
	api.HandleFunc("/flows/{slug}", s.handlers.DeleteFlow).Methods("DELETE")
	api.HandleFunc("/flows/{slug}/deletable", s.handlers.FlowDeletable).Methods("GET")

	// Screen definitions
	api.HandleFunc("/screens/{slug}", s.handlers.PutScreen).Methods("PUT")
	api.HandleFunc("/screens/{slug}", s.handlers.GetScreen).Methods("GET")
	api.HandleFunc("/screens/{slug}", s.handlers.DeleteScreen).Methods("DELETE")

	// Cache control
	api.HandleFunc("/cache/evict", s.handlers.EvictCache).Methods("POST")
	api.HandleFunc("/cache/version", s.handlers.CacheVersion).Methods("GET")

	// Impact reports
	api.HandleFunc("/reports", s.handlers.CreateReport).Methods("POST")
	api.HandleFunc("/reports", s.handlers.ListReports).Methods("GET")
	api.HandleFunc("/reports/latest", s.handlers.LatestReport).Methods("GET")

	// Apply middleware
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}
