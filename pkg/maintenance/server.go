package maintenance

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cascade-sh/cascade/pkg/metrics"
)

// Server exposes the maintenance process over HTTP: Prometheus metrics,
// aggregated component health and a bare liveness probe.
type Server struct {
	http *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests up to the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
