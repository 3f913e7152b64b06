package progress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
)

// generateFn scripts the provider's generate behavior for one test.
type generateFn func(ctx context.Context, emit func(stage, message string)) (string, error)

type fakeGenProvider struct {
	providers.MarketProvider
	generate generateFn
}

func (f *fakeGenProvider) Tag() string { return "fake" }

func (f *fakeGenProvider) GenerateStrategyReport(ctx context.Context, strategyID string, params providers.GenerateParams, emit func(stage, message string)) (string, error) {
	return f.generate(ctx, emit)
}

func testGenerator(fn generateFn) *Generator {
	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:    time.Millisecond,
		BackoffBase: time.Millisecond,
		BackoffCap:  time.Millisecond,
	}, nil, zerolog.Nop())
	return NewGenerator(&fakeGenProvider{generate: fn}, limiter, zerolog.Nop())
}

func collect(t *testing.T, ch <-chan domain.ProgressEvent) []domain.ProgressEvent {
	t.Helper()
	var events []domain.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestGenerateSuccessStream(t *testing.T) {
	g := testGenerator(func(ctx context.Context, emit func(stage, message string)) (string, error) {
		emit("screen", "screening candidates")
		emit("rank", "ranking spreads")
		return "analysis_20260502_120000.json", nil
	})

	events := collect(t, g.GenerateReport(context.Background(), "credit_put", providers.GenerateParams{}))

	require.NotEmpty(t, events)
	assert.Equal(t, domain.ProgressStatus, events[0].Type, "a status event opens the stream")

	var terminals []domain.ProgressEvent
	var sawCompleted bool
	for _, ev := range events {
		if ev.Terminal() {
			terminals = append(terminals, ev)
		}
		if ev.Type == domain.ProgressCompleted {
			sawCompleted = true
			assert.Equal(t, "analysis_20260502_120000.json", ev.Filename)
		}
	}
	require.Len(t, terminals, 1, "exactly one terminal event")
	assert.Equal(t, domain.ProgressDone, terminals[0].Type)
	assert.Equal(t, "analysis_20260502_120000.json", terminals[0].Filename)
	assert.True(t, sawCompleted)
	assert.Equal(t, terminals[0], events[len(events)-1], "the terminal event is last")
}

func TestGenerateIntermediateStagesForwarded(t *testing.T) {
	g := testGenerator(func(ctx context.Context, emit func(stage, message string)) (string, error) {
		emit("screen", "screening")
		emit("model", "evaluating")
		return "analysis_20260502_120000.json", nil
	})

	events := collect(t, g.GenerateReport(context.Background(), "iron_condor", providers.GenerateParams{}))

	var stages []string
	for _, ev := range events {
		if ev.Type == domain.ProgressProgress {
			stages = append(stages, ev.Stage)
		}
	}
	assert.Equal(t, []string{"screen", "model"}, stages, "stages arrive in emission order")
}

func TestGenerateFailureStream(t *testing.T) {
	g := testGenerator(func(ctx context.Context, emit func(stage, message string)) (string, error) {
		return "", providers.NewError(providers.KindFatal, "fake", "generate", 500, fmt.Errorf("backend exploded"))
	})

	events := collect(t, g.GenerateReport(context.Background(), "credit_put", providers.GenerateParams{}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.ProgressError, last.Type)
	assert.Equal(t, "generate", last.Stage)
	assert.NotEmpty(t, last.ErrorMessage)
	assert.NotEmpty(t, last.TraceID)
	assert.NotEmpty(t, last.Hint)

	var terminals int
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestGenerateCancellationStopsStream(t *testing.T) {
	started := make(chan struct{})
	g := testGenerator(func(ctx context.Context, emit func(stage, message string)) (string, error) {
		close(started)
		<-ctx.Done()
		return "", providers.ClassifyErr("fake", "generate", ctx.Err())
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch := g.GenerateReport(ctx, "credit_put", providers.GenerateParams{})

	<-started
	cancel()

	events := collect(t, ch)
	for _, ev := range events {
		assert.False(t, ev.Terminal(), "a cancelled run emits no terminal event")
	}
}

func TestGenerateNotImplementedHint(t *testing.T) {
	g := testGenerator(func(ctx context.Context, emit func(stage, message string)) (string, error) {
		return "", providers.NewError(providers.KindNotImplemented, "fake", "generate", 501, fmt.Errorf("no such route"))
	})

	events := collect(t, g.GenerateReport(context.Background(), "exotic", providers.GenerateParams{}))

	last := events[len(events)-1]
	require.Equal(t, domain.ProgressError, last.Type)
	assert.Contains(t, last.Hint, "not supported")
}
