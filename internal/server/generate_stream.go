package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/providers"
)

// generateCutoff closes a generate stream that produced no terminal event in
// time, so an abandoned producer cannot pin the connection forever.
const generateCutoff = 180 * time.Second

func (s *Server) handleLegacyGenerate(w http.ResponseWriter, r *http.Request) {
	s.streamGenerate(w, r, legacyStrategy)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.streamGenerate(w, r, chi.URLParam(r, "strategyID"))
}

// streamGenerate runs one report generation and relays its progress events
// as SSE. The stream ends right after the terminal event.
func (s *Server) streamGenerate(w http.ResponseWriter, r *http.Request, strategyID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	params := parseGenerateParams(r)
	ctx := r.Context()
	events := s.cfg.Generator.GenerateReport(ctx, strategyID, params)

	cutoff := time.NewTimer(generateCutoff)
	defer cutoff.Stop()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				s.log.Debug().Err(err).Msg("Generate stream client went away")
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-cutoff.C:
			s.log.Warn().Str("strategy", strategyID).Msg("Generate stream hit safety cutoff")
			_ = writeSSE(w, string(domain.ProgressError), domain.ProgressEvent{
				Type:         domain.ProgressError,
				Stage:        "stream",
				ErrorType:    "timeout",
				ErrorMessage: "generation exceeded the stream safety cutoff",
			})
			flusher.Flush()
			return
		case <-ctx.Done():
			return
		}
	}
}

// parseGenerateParams maps query parameters onto generate params. Unknown
// keys become filters.
func parseGenerateParams(r *http.Request) providers.GenerateParams {
	query := r.URL.Query()
	params := providers.GenerateParams{
		Preset:          query.Get("preset"),
		AdvancedEnabled: query.Get("advanced_enabled") == "true",
	}
	if csv := query.Get("symbols"); csv != "" {
		for _, sym := range strings.Split(csv, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				params.Symbols = append(params.Symbols, strings.ToUpper(sym))
			}
		}
	}

	for key, values := range query {
		switch key {
		case "preset", "symbols", "advanced_enabled":
			continue
		}
		if len(values) > 0 {
			if params.Filters == nil {
				params.Filters = map[string]string{}
			}
			params.Filters[key] = values[0]
		}
	}
	return params
}

// writeSSE writes one SSE frame with a JSON payload.
func writeSSE(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
