package pmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Registry's metrics over HTTP in Prometheus exposition
// format, mirroring the /metrics endpoint the teacher's own
// metrics/prometheus_exporter.go serves, backed here by the real
// client_golang registry and promhttp handler.
type Server struct {
	promReg *prometheus.Registry
	mux     *http.ServeMux
	path    string
}

// NewServer creates a Server that serves reg's metrics under namespace at
// path (default "/metrics" if empty).
func NewServer(namespace string, reg *Registry, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(namespace, reg))

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	return &Server{promReg: promReg, mux: mux, path: path}
}

// Handler returns the http.Handler serving the metrics endpoint, for
// embedding into a larger mux.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts an HTTP server bound to addr serving only the
// metrics endpoint. Intended for cmd/poscd's --metrics-addr flag.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}
