package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrNoTarget), errors.Is(err, ports.ErrInvalidMode):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrRadioUnavailable), errors.Is(err, ports.ErrFrameSourceLost):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Status(r.Context()))
}

func (s *Server) handleAPs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.AccessPoints(r.Context()))
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Stations(r.Context()))
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.Orchestrator.Probes(r.Context(), n))
}

func (s *Server) handleHandshakes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Handshakes(r.Context()))
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode domain.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Orchestrator.SetMode(r.Context(), req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BSSID string `json:"bssid"`
		SSID  string `json:"ssid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !domain.IsValidMAC(req.BSSID) {
		http.Error(w, "invalid bssid", http.StatusBadRequest)
		return
	}
	if err := s.Orchestrator.SetTarget(r.Context(), req.BSSID, req.SSID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Orchestrator.StartCapture(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "capturing"})
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Orchestrator.StopCapture(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scanning"})
}

func (s *Server) handleDeauth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BSSID  string `json:"bssid"`
		Client string `json:"client,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !domain.IsValidMAC(req.BSSID) {
		http.Error(w, "invalid bssid", http.StatusBadRequest)
		return
	}
	client := req.Client
	if client == "" {
		client = domain.BroadcastMAC
	}
	if err := s.Orchestrator.Deauth(r.Context(), req.BSSID, client); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Orchestrator.StartScanning(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scanning"})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if err := s.Orchestrator.ReturnToSetup(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "setup"})
}
