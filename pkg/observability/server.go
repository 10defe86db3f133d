package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	httpServer *http.Server
	port       int
	healthy    func() bool
}

// NewServer creates an observability server. The healthy func reports
// readiness; nil means always ready.
func NewServer(port int, healthy func() bool) *Server {
	return &Server{port: port, healthy: healthy}
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", s.healthHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.healthy != nil && !s.healthy() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"timestamp":      time.Now().UTC(),
		"num_goroutines": runtime.NumGoroutine(),
		"mem_alloc_mb":   mem.Alloc / 1024 / 1024,
	})
}
