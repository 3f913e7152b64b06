// Package pipeline runs the ordered full-app refresh: dashboard, broker
// state, scanner suite and the auxiliary feeds, with per-phase timeouts and
// cooperative stop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/events"
)

// ErrSkipped marks a phase that had nothing to do, a disabled broker for
// example. Skipped phases produce no warning.
var ErrSkipped = errors.New("phase skipped")

// ErrAlreadyRunning is returned when Run is called while a run is active.
var ErrAlreadyRunning = errors.New("refresh pipeline already running")

type warnError struct{ err error }

func (w *warnError) Error() string { return w.err.Error() }
func (w *warnError) Unwrap() error { return w.err }

// Warning wraps a phase error so it counts as a warning instead of a
// failure, even on a critical phase.
func Warning(err error) error { return &warnError{err: err} }

func isWarning(err error) bool {
	var w *warnError
	return errors.As(err, &w)
}

// Phase is one step of the refresh pipeline.
type Phase struct {
	ID      string
	Timeout time.Duration
	// Critical phases stop the pipeline on failure. Optional phases log a
	// warning and continue. A phase that is neither continues but counts
	// toward warnings.
	Critical bool
	Optional bool
	Run      func(ctx context.Context) error
}

// RunState is the pipeline's lifecycle state.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateSuccess  RunState = "done_success"
	StateFailed   RunState = "done_failed"
	StateStopped  RunState = "done_stopped"
)

// PhaseResult records one executed phase.
type PhaseResult struct {
	ID       string        `json:"id"`
	State    string        `json:"state"` // ok, warning, failed, skipped
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	State        RunState      `json:"state"`
	CurrentPhase string        `json:"current_phase,omitempty"`
	Phases       []PhaseResult `json:"phases"`
	Warnings     int           `json:"warnings"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Pipeline executes its phases in order, at most one run at a time.
type Pipeline struct {
	phases []Phase
	bus    *events.Bus
	log    zerolog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// New creates a pipeline over the given phases. bus may be nil.
func New(phases []Phase, bus *events.Bus, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		phases: phases,
		bus:    bus,
		log:    log.With().Str("module", "pipeline").Logger(),
		status: Status{State: StateIdle, Phases: []PhaseResult{}},
	}
}

// Status returns a copy of the pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.status
	status.Phases = append([]PhaseResult(nil), p.status.Phases...)
	return status
}

// Stop requests cooperative cancellation of the active run. The current
// phase's context is cancelled and no further phases start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State != StateRunning {
		return
	}
	p.status.State = StateStopping
	if p.cancel != nil {
		p.cancel()
	}
}

// Run executes all phases in order and returns the first stopping error, if
// any. Only one run may be active; concurrent calls get ErrAlreadyRunning.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.status.State == StateRunning || p.status.State == StateStopping {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	now := time.Now().UTC()
	p.status = Status{State: StateRunning, Phases: []PhaseResult{}, StartedAt: &now}
	p.cancel = cancel
	p.mu.Unlock()

	var failure error
	for _, phase := range p.phases {
		if p.stopRequested() || runCtx.Err() != nil {
			break
		}

		p.setCurrentPhase(phase.ID)
		p.publishPhase(phase.ID, "running", "")

		result := p.runPhase(runCtx, phase)
		p.appendResult(result)
		p.publishPhase(phase.ID, result.State, result.Error)

		if result.State == "failed" {
			failure = fmt.Errorf("phase %s failed: %s", phase.ID, result.Error)
			break
		}
	}

	p.finish(failure)
	return failure
}

func (p *Pipeline) runPhase(ctx context.Context, phase Phase) PhaseResult {
	phaseCtx := ctx
	var cancel context.CancelFunc
	if phase.Timeout > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, phase.Timeout)
		defer cancel()
	}

	started := time.Now()
	err := phase.Run(phaseCtx)
	result := PhaseResult{ID: phase.ID, Duration: time.Since(started)}

	switch {
	case err == nil:
		result.State = "ok"
	case errors.Is(err, ErrSkipped):
		result.State = "skipped"
	case errors.Is(err, context.Canceled) && p.stopRequested():
		result.State = "skipped"
		result.Error = "stopped"
	case phase.Critical && !isWarning(err):
		result.State = "failed"
		result.Error = err.Error()
		p.log.Error().Err(err).Str("phase", phase.ID).Msg("Critical refresh phase failed")
	default:
		result.State = "warning"
		result.Error = err.Error()
		if phase.Optional {
			p.log.Warn().Err(err).Str("phase", phase.ID).Msg("Optional refresh phase failed")
		} else {
			p.log.Warn().Err(err).Str("phase", phase.ID).Msg("Refresh phase degraded")
		}
	}
	return result
}

func (p *Pipeline) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.State == StateStopping
}

func (p *Pipeline) setCurrentPhase(id string) {
	p.mu.Lock()
	p.status.CurrentPhase = id
	p.mu.Unlock()
}

func (p *Pipeline) appendResult(result PhaseResult) {
	p.mu.Lock()
	p.status.Phases = append(p.status.Phases, result)
	if result.State == "warning" {
		p.status.Warnings++
	}
	p.mu.Unlock()
}

func (p *Pipeline) finish(failure error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	p.status.CurrentPhase = ""
	p.status.FinishedAt = &now
	p.cancel = nil

	switch {
	case p.status.State == StateStopping:
		p.status.State = StateStopped
	case failure != nil:
		p.status.State = StateFailed
	default:
		p.status.State = StateSuccess
	}
	p.log.Info().Str("state", string(p.status.State)).Int("warnings", p.status.Warnings).Msg("Refresh pipeline finished")
}

func (p *Pipeline) publishPhase(id, state, message string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.RefreshProgress, "pipeline", events.RefreshProgressData{
		Phase:   id,
		State:   state,
		Message: message,
	})
}
