package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter registers the route surface spec.md §6 names, plus the /ws
// live-push endpoint and /metrics.
func newRouter(s *Server) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/aps", s.handleAPs).Methods(http.MethodGet)
	r.HandleFunc("/clients", s.handleClients).Methods(http.MethodGet)
	r.HandleFunc("/probes", s.handleProbes).Methods(http.MethodGet)
	r.HandleFunc("/handshakes", s.handleHandshakes).Methods(http.MethodGet)

	r.HandleFunc("/mode", s.handleSetMode).Methods(http.MethodPost)
	r.HandleFunc("/target", s.handleSetTarget).Methods(http.MethodPost)
	r.HandleFunc("/capture/start", s.handleCaptureStart).Methods(http.MethodPost)
	r.HandleFunc("/capture/stop", s.handleCaptureStop).Methods(http.MethodPost)
	r.HandleFunc("/deauth", s.handleDeauth).Methods(http.MethodPost)
	r.HandleFunc("/scan/start", s.handleScanStart).Methods(http.MethodPost)
	r.HandleFunc("/setup", s.handleSetup).Methods(http.MethodPost)

	r.HandleFunc("/ws", s.ws.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
