package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/flasharb/risk-engine/internal/monitoring"
	"github.com/flasharb/risk-engine/pkg/types"
)

// Server exposes the engine over HTTP: health and metrics for scrapers,
// assessment and settlement for the execution subsystem, and the
// administrative safety controls.
type Server struct {
	manager *Manager
	log     zerolog.Logger
	srv     *http.Server
}

// NewServer builds the HTTP surface for a running engine.
func NewServer(addr string, manager *Manager, log zerolog.Logger) *Server {
	s := &Server{manager: manager, log: log.With().Str("component", "http").Logger()}

	mux := http.NewServeMux()
	mux.Handle("/healthz", manager.health.Handler())
	mux.Handle("/metrics", monitoring.MetricsHandler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/assess", s.handleAssess)
	mux.HandleFunc("/result", s.handleResult)
	mux.HandleFunc("/emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/audit", s.handleAudit)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.GetSystemStatus())
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var opp types.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil {
		http.Error(w, "invalid opportunity payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if opp.DetectedAt.IsZero() {
		opp.DetectedAt = time.Now()
	}

	decision, err := s.manager.AssessTradeRisk(r.Context(), &opp)
	if err != nil {
		s.log.Warn().Err(err).Str("opportunity", opp.ID).Msg("assessment request rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var result types.TradeResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "invalid trade result payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.manager.ProcessTradeResult(&result); err != nil {
		s.log.Error().Err(err).Str("trade_id", result.TradeID).Msg("trade result rejected")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	s.manager.EmergencyShutdown(req.Reason, req.Actor)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		http.Error(w, "actor is required", http.StatusBadRequest)
		return
	}
	if err := s.manager.ResetEmergencyStop(req.Actor); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Audit().Entries())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing more to do.
		return
	}
}
