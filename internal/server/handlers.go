// Package server provides the HTTP server and routing for BenTrade.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/modules/scanner"
	"github.com/bentrade/bentrade/internal/modules/snapshots"
	"github.com/bentrade/bentrade/internal/providers"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "bentrade",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response with a status derived from the
// provider error taxonomy when available.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"ok":    false,
		"error": err.Error(),
	})
}

func statusForProviderError(err error) int {
	switch providers.KindOf(err) {
	case providers.KindNotImplemented:
		return http.StatusNotImplemented
	case providers.KindTransient:
		return http.StatusBadGateway
	case providers.KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleLegacyListReports(w http.ResponseWriter, r *http.Request) {
	s.listReports(w, legacyStrategy)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	s.listReports(w, chi.URLParam(r, "strategyID"))
}

func (s *Server) listReports(w http.ResponseWriter, strategyID string) {
	names, err := s.cfg.Reports.ListReports(strategyID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"reports": names})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")
	name := chi.URLParam(r, "name")

	report, err := s.cfg.Reports.GetReport(strategyID, name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleStockScanner runs the stock scanner alone and returns its candidates.
func (s *Server) handleStockScanner(w http.ResponseWriter, r *http.Request) {
	result := s.cfg.Orchestrator.RunScannerSuite(r.Context(), scanner.RunOptions{
		ScannerIDs: []string{"stock_scanner"},
	})

	notes := result.Warnings
	if notes == nil {
		notes = []string{}
	}
	payload := map[string]interface{}{
		"candidates":   result.AllCandidates,
		"report_stats": result.ScanMeta,
		"notes":        notes,
		"errors":       result.Errors,
	}
	if s.cfg.Health != nil {
		payload["source_health"] = s.cfg.Health.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

type rejectRequest struct {
	TradeKey   string `json:"trade_key"`
	Symbol     string `json:"symbol"`
	Strategy   string `json:"strategy"`
	ReportFile string `json:"report_file"`
	Reason     string `json:"reason"`
}

// handleRejectDecision persists one reject decision. Idempotent: repeats for
// the same (report_file, trade_key) succeed without a second entry.
func (s *Server) handleRejectDecision(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.cfg.Decisions.PersistReject(req.ReportFile, req.TradeKey, req.Reason); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	reportFile := chi.URLParam(r, "reportFile")

	decisions, err := s.cfg.Decisions.GetDecisions(reportFile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	regime, err := s.cfg.Provider.GetRegime(r.Context())
	if err != nil {
		s.writeError(w, statusForProviderError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, regime)
}

func (s *Server) handlePlaybook(w http.ResponseWriter, r *http.Request) {
	regime, err := s.cfg.Provider.GetRegime(r.Context())
	if err != nil {
		s.writeError(w, statusForProviderError(err), err)
		return
	}

	playbook, err := s.cfg.Provider.GetPlaybook(r.Context())
	if err != nil {
		s.writeError(w, statusForProviderError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"regime":   regime,
		"playbook": playbook,
	})
}

// handleSourceHealth reports breaker-derived provider health, falling back to
// the provider's own report when no registry is wired.
func (s *Server) handleSourceHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		s.writeJSON(w, http.StatusOK, s.cfg.Health.Snapshot())
		return
	}

	health, err := s.cfg.Provider.GetSourceHealth(r.Context())
	if err != nil {
		s.writeError(w, statusForProviderError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

type analyzeRequest struct {
	Trade  domain.Candidate `json:"trade"`
	Source string           `json:"source"`
}

func (s *Server) handleModelAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Analyzer == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]interface{}{
			"ok":    false,
			"error": "model analysis is not configured",
		})
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	evaluation, err := s.cfg.Analyzer.AnalyzeTrade(r.Context(), req.Trade, req.Source)
	if err != nil {
		s.writeError(w, statusForProviderError(err), err)
		return
	}

	evaluated := domain.Candidate{}
	for k, v := range req.Trade {
		evaluated[k] = v
	}
	evaluated["model_evaluation"] = evaluation

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":              true,
		"evaluated_trade": evaluated,
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": s.cfg.Universe.Get()})
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	added := s.cfg.Universe.Add(req.Symbol)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"added":   added,
		"symbols": s.cfg.Universe.Get(),
	})
}

func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	removed := s.cfg.Universe.Remove(symbol)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
		"symbols": s.cfg.Universe.Get(),
	})
}

func (s *Server) handleResetSymbols(w http.ResponseWriter, r *http.Request) {
	s.cfg.Universe.Reset()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": s.cfg.Universe.Get()})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cfg.Snapshots.GetSnapshot()
	if snapshot == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": snapshot})
}

func (s *Server) handleRefreshNow(w http.ResponseWriter, r *http.Request) {
	homeOnly := r.URL.Query().Get("home_only") == "true"
	snapshot := s.cfg.Snapshots.RefreshNow(r.Context(), homeOnly)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": snapshot})
}

func (s *Server) handleRefreshSilent(w http.ResponseWriter, r *http.Request) {
	opts := snapshots.RefreshOptions{
		Force:    r.URL.Query().Get("force") == "true",
		HomeOnly: r.URL.Query().Get("home_only") == "true",
	}
	snapshot := s.cfg.Snapshots.RefreshSilent(r.Context(), opts)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": snapshot})
}

// handleFullRefresh starts the full-app refresh pipeline in the background.
func (s *Server) handleFullRefresh(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.cfg.Pipeline.Run(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("Full refresh finished with failure")
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true})
}

func (s *Server) handleStopRefresh(w http.ResponseWriter, r *http.Request) {
	s.cfg.Pipeline.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Pipeline.Status())
}
