// Package control exposes the operator-only HTTP surface: liveness and
// Prometheus scraping. It listens on a separate address from the
// subscriber-facing broadcast port, so operator tooling never shares a
// listener with downstream market-data traffic.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
)

const shutdownGrace = 5 * time.Second

// Status reports the fields /healthz serializes. Callers supply a
// closure so health reflects live orchestrator state.
type Status struct {
	Upstreams       int  `json:"upstreams_connected"`
	SessionsActive  int  `json:"sessions_active"`
	WatermarkIsZero bool `json:"watermark_is_zero"`
}

// Server is the chi-routed operator HTTP server.
type Server struct {
	httpSrv *http.Server
}

// New builds a Server bound to addr, exposing GET /healthz (via status)
// and GET /metrics (via reg's gatherer).
func New(addr string, status func() Status, reg *metrics.Registry) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeHealthz(w, status())
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))

	return &Server{
		httpSrv: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Start runs the server in a background goroutine. Bind errors other than
// http.ErrServerClosed are logged by the caller via the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown drains in-flight requests with a bounded grace period.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.httpSrv.Shutdown(ctx)
}

func writeHealthz(w http.ResponseWriter, st Status) {
	w.Header().Set("Content-Type", "application/json")
	if st.Upstreams == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(st)
}
