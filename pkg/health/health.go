// Package health exposes the liveness/readiness endpoints mounted on the
// channel manager's shared HTTP server.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Server tracks process readiness and serves /health and /ready.
type Server struct {
	host  string
	port  int
	ready atomic.Bool
}

// NewServer builds a Server bound to host:port for logging/reporting
// purposes; RegisterOnMux is what actually wires its handlers.
func NewServer(host string, port int) *Server {
	return &Server{host: host, port: port}
}

// SetReady flips the /ready endpoint's response. The process starts not
// ready; callers flip this once the pipeline and all channels are up.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// RegisterOnMux mounts /health (always 200 once the process is running)
// and /ready (200 only once SetReady(true) has been called) on mux.
func (s *Server) RegisterOnMux(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
}
