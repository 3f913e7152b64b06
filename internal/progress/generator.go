// Package progress produces the finite event stream of a report-generation
// run. Every stream opens with a status event and ends with exactly one
// terminal event, done on success or error on failure.
package progress

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
)

// eventBuffer bounds the stream channel so a slow consumer applies
// backpressure to the producer instead of growing memory.
const eventBuffer = 16

// Generator runs report generation jobs and streams their progress.
type Generator struct {
	provider providers.MarketProvider
	limiter  *ratelimit.Limiter
	log      zerolog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(provider providers.MarketProvider, limiter *ratelimit.Limiter, log zerolog.Logger) *Generator {
	return &Generator{
		provider: provider,
		limiter:  limiter,
		log:      log.With().Str("module", "progress").Logger(),
	}
}

// GenerateReport starts one generation run and returns its event stream. The
// channel closes after the terminal event. Cancelling ctx stops the run; no
// events are emitted once cancellation is observed.
func (g *Generator) GenerateReport(ctx context.Context, strategyID string, params providers.GenerateParams) <-chan domain.ProgressEvent {
	out := make(chan domain.ProgressEvent, eventBuffer)
	traceID := uuid.NewString()

	go func() {
		defer close(out)
		log := g.log.With().Str("strategy", strategyID).Str("trace_id", traceID).Logger()

		// emit delivers one event unless the client is gone. It reports
		// whether the stream is still live.
		emit := func(ev domain.ProgressEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(domain.ProgressEvent{
			Type:    domain.ProgressStatus,
			Stage:   "init",
			Message: fmt.Sprintf("Starting %s report generation", strategyID),
		}) {
			return
		}

		res, err := g.limiter.RunStep(ctx, g.provider.Tag(), "generate "+strategyID, func(ctx context.Context) (interface{}, error) {
			return g.provider.GenerateStrategyReport(ctx, strategyID, params, func(stage, message string) {
				emit(domain.ProgressEvent{
					Type:    domain.ProgressProgress,
					Stage:   stage,
					Message: message,
				})
			})
		})
		if err != nil {
			if providers.IsCancelled(err) {
				log.Info().Msg("Generation cancelled by client")
				return
			}
			log.Error().Err(err).Msg("Generation failed")
			emit(domain.ProgressEvent{
				Type:         domain.ProgressError,
				Stage:        "generate",
				ErrorType:    providers.KindOf(err).String(),
				ErrorMessage: err.Error(),
				TraceID:      traceID,
				Hint:         errorHint(err),
			})
			return
		}

		filename := res.Value.(string)
		if !emit(domain.ProgressEvent{
			Type:     domain.ProgressCompleted,
			Filename: filename,
			Message:  "Report generated",
		}) {
			return
		}
		emit(domain.ProgressEvent{
			Type:     domain.ProgressDone,
			Filename: filename,
		})
		log.Info().Str("filename", filename).Msg("Generation finished")
	}()

	return out
}

// errorHint maps an error kind to client guidance.
func errorHint(err error) string {
	switch providers.KindOf(err) {
	case providers.KindTransient:
		return "The provider is rate limited or temporarily unavailable. Retry shortly."
	case providers.KindNotImplemented:
		return "This strategy is not supported by the configured provider."
	default:
		return "Check the server logs with the trace id for details."
	}
}
