package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/events"
	"github.com/bentrade/bentrade/internal/modules/opportunities"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
)

// fakeProvider scripts per-scanner outcomes for orchestrator tests.
type fakeProvider struct {
	providers.MarketProvider

	mu       sync.Mutex
	stock    func() ([]domain.Candidate, error)
	scans    map[string]func() ([]domain.Candidate, error)
	calls    []string
	scanErrs map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		scans:    map[string]func() ([]domain.Candidate, error){},
		scanErrs: map[string]error{},
	}
}

func (f *fakeProvider) Tag() string { return "fake" }

func (f *fakeProvider) FetchStockScanner(ctx context.Context, symbols []string) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "stock_scanner")
	f.mu.Unlock()
	if f.stock != nil {
		return f.stock()
	}
	return []domain.Candidate{}, nil
}

func (f *fakeProvider) ScanStrategy(ctx context.Context, strategyID string, symbols []string) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, strategyID)
	f.mu.Unlock()
	if err := f.scanErrs[strategyID]; err != nil {
		return nil, err
	}
	if fn := f.scans[strategyID]; fn != nil {
		return fn()
	}
	return []domain.Candidate{}, nil
}

type fixedSymbols []string

func (f fixedSymbols) Get() []string { return f }

func testOrchestrator(t *testing.T, provider providers.MarketProvider) *Orchestrator {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:    time.Millisecond,
		MaxRetries:  0,
		BackoffBase: time.Millisecond,
		BackoffCap:  time.Millisecond,
	}, nil, zerolog.Nop())
	normalizer := opportunities.NewNormalizer(zerolog.Nop())
	return NewOrchestrator(provider, limiter, normalizer, fixedSymbols{"SPY", "QQQ"}, events.NewBus(zerolog.Nop()), zerolog.Nop())
}

func candidate(symbol string, score float64) domain.Candidate {
	return domain.Candidate{"symbol": symbol, "score": score}
}

func TestRunScannerSuiteStockFirstThenDeclarationOrder(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{})

	require.NotNil(t, result)
	assert.Equal(t, []string{
		"stock_scanner", "credit_put", "credit_call", "iron_condor",
		"debit_spread", "butterfly", "income", "calendar",
	}, p.calls)
	assert.Equal(t, 8, result.ScanMeta.ScannersRun)
	assert.False(t, result.Partial)
}

func TestRunScannerSuiteSubsetKeepsRegistryOrder(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{
		ScannerIDs: []string{"calendar", "credit_put", "stock_scanner"},
	})

	assert.Equal(t, []string{"stock_scanner", "credit_put", "calendar"}, p.calls)
	assert.Equal(t, 3, result.ScanMeta.ScannersRun)
}

func TestRunScannerSuiteUnknownScannerWarns(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{
		ScannerIDs: []string{"credit_put", "momentum"},
	})

	assert.Equal(t, []string{"credit_put"}, p.calls)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "momentum")
	assert.False(t, result.Partial, "an unknown id is a warning, not a failure")
}

func TestRunScannerSuiteOptionalFailureContinues(t *testing.T) {
	p := newFakeProvider()
	p.scanErrs["butterfly"] = providers.NewError(providers.KindFatal, "fake", "scan", 400, fmt.Errorf("boom"))
	p.scans["calendar"] = func() ([]domain.Candidate, error) {
		return []domain.Candidate{candidate("SPY", 70)}, nil
	}
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{})

	assert.True(t, result.Partial)
	assert.NotEmpty(t, result.Warnings)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "butterflies")
	// Calendar still ran after the optional butterfly failure.
	assert.Contains(t, p.calls, "calendar")
	assert.Equal(t, 1, result.ScanMeta.ScannersFailed)
	assert.Equal(t, 1, result.ScanMeta.TotalCandidates)
}

func TestRunScannerSuiteCriticalFailureStops(t *testing.T) {
	p := newFakeProvider()
	p.scanErrs["credit_put"] = providers.NewError(providers.KindFatal, "fake", "scan", 400, fmt.Errorf("boom"))
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{})

	assert.True(t, result.Partial)
	require.NotEmpty(t, result.Errors)
	// Nothing after the critical credit_put step ran.
	assert.Equal(t, []string{"stock_scanner", "credit_put"}, p.calls)
	assert.Empty(t, result.Opportunities)
}

func TestRunScannerSuiteOnStepPerScanner(t *testing.T) {
	p := newFakeProvider()
	p.scans["credit_put"] = func() ([]domain.Candidate, error) {
		return []domain.Candidate{candidate("SPY", 60), candidate("QQQ", 55)}, nil
	}
	p.scanErrs["income"] = providers.NewError(providers.KindFatal, "fake", "scan", 400, fmt.Errorf("boom"))
	o := testOrchestrator(t, p)

	var updates []StepUpdate
	o.RunScannerSuite(context.Background(), RunOptions{
		OnStep: func(u StepUpdate) { updates = append(updates, u) },
	})

	require.Len(t, updates, 8, "one update per scanner step")
	byID := map[string]StepUpdate{}
	for _, u := range updates {
		byID[u.ID] = u
	}
	assert.True(t, byID["credit_put"].OK)
	assert.Equal(t, 2, byID["credit_put"].TradeCount)
	assert.False(t, byID["income"].OK)
	assert.NotEmpty(t, byID["income"].Error)
}

func TestRunScannerSuiteBaseSortAndTopN(t *testing.T) {
	p := newFakeProvider()
	var bulk []domain.Candidate
	for i := 0; i < 12; i++ {
		bulk = append(bulk, candidate(fmt.Sprintf("S%02d", i), float64(40+i)))
	}
	p.scans["credit_put"] = func() ([]domain.Candidate, error) { return bulk, nil }
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{
		ScannerIDs: []string{"credit_put"},
	})

	require.Len(t, result.AllCandidates, 12)
	assert.Len(t, result.Opportunities, TopN)
	assert.Equal(t, 9, result.ScanMeta.TopN)
	// Highest score leads.
	assert.Equal(t, "S11", result.Opportunities[0].Symbol)
	assert.Equal(t, 51.0, result.Opportunities[0].Score)
	for i := 1; i < len(result.Opportunities); i++ {
		assert.GreaterOrEqual(t, result.Opportunities[i-1].Score, result.Opportunities[i].Score)
	}
}

func TestRunScannerSuiteLiquidityBreaksScoreTiesNullsLast(t *testing.T) {
	p := newFakeProvider()
	p.scans["credit_put"] = func() ([]domain.Candidate, error) {
		return []domain.Candidate{
			{"symbol": "NOLIQ", "score": 70.0},
			{"symbol": "THIN", "score": 70.0, "bid_ask_spread_pct": 0.40},
			{"symbol": "DEEP", "score": 70.0, "bid_ask_spread_pct": 0.02},
		}, nil
	}
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{
		ScannerIDs: []string{"credit_put"},
	})

	require.Len(t, result.Opportunities, 3)
	assert.Equal(t, "DEEP", result.Opportunities[0].Symbol)
	assert.Equal(t, "THIN", result.Opportunities[1].Symbol)
	assert.Equal(t, "NOLIQ", result.Opportunities[2].Symbol, "null liquidity sorts last")
}

func TestRunScannerSuiteEmptySelection(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(t, p)

	result := o.RunScannerSuite(context.Background(), RunOptions{
		ScannerIDs: []string{"no_such_scanner"},
	})

	assert.Empty(t, result.Opportunities)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, 0, result.ScanMeta.ScannersRun)
}

func TestRunScannerSuiteCancelledContext(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := o.RunScannerSuite(ctx, RunOptions{})

	assert.True(t, result.Partial)
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, p.calls)
}
