package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bentrade/bentrade/internal/events"
)

// handleEventsStream relays bus events (snapshot updates, scan completions,
// symbol changes, refresh progress) to the client as SSE. An optional
// ?types=a,b filter restricts the delivered event types.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var allowed map[events.EventType]bool
	if filter := r.URL.Query().Get("types"); filter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(filter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	// Buffered so a slow client drops events instead of blocking publishers.
	stream := make(chan *events.Event, 64)
	handler := func(ev *events.Event) {
		select {
		case stream <- ev:
		default:
		}
	}

	var unsubscribes []func()
	for _, eventType := range []events.EventType{
		events.SnapshotUpdated,
		events.ScanCompleted,
		events.SymbolsChanged,
		events.RefreshProgress,
		events.SourceHealthChanged,
	} {
		if allowed != nil && !allowed[eventType] {
			continue
		}
		unsubscribes = append(unsubscribes, s.cfg.Bus.Subscribe(eventType, handler))
	}
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	// Heartbeat keeps intermediaries from closing an idle stream.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case ev := <-stream:
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
