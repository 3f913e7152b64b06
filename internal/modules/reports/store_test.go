package reports

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentrade/bentrade/internal/database"
	"github.com/bentrade/bentrade/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zerolog.Nop())
}

func TestListReportsEmptyStrategy(t *testing.T) {
	s := testStore(t)
	names, err := s.ListReports("credit_put")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveAndListNewestFirst(t *testing.T) {
	s := testStore(t)

	older := &domain.Report{GeneratedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
	newer := &domain.Report{GeneratedAt: time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)}

	oldName, err := s.SaveReport("iron_condor", older)
	require.NoError(t, err)
	newName, err := s.SaveReport("iron_condor", newer)
	require.NoError(t, err)

	names, err := s.ListReports("iron_condor")
	require.NoError(t, err)
	require.Equal(t, []string{newName, oldName}, names)
}

func TestGetReportRoundTrip(t *testing.T) {
	s := testStore(t)

	report := &domain.Report{
		Trades: []domain.Candidate{
			{"symbol": "SPY", "strategy_id": "credit_put", "short_strike": 470.0},
		},
		ReportStats:        map[string]interface{}{"candidates": 12.0},
		Diagnostics:        map[string]interface{}{"stage": "final"},
		ValidationWarnings: []string{"thin volume on XSP"},
		GeneratedAt:        time.Date(2026, 4, 10, 11, 0, 0, 0, time.UTC),
	}

	name, err := s.SaveReport("credit_put", report)
	require.NoError(t, err)

	loaded, err := s.GetReport("credit_put", name)
	require.NoError(t, err)
	assert.Equal(t, report.ReportStats, loaded.ReportStats)
	assert.Equal(t, report.ValidationWarnings, loaded.ValidationWarnings)
	require.Len(t, loaded.Trades, 1)
	assert.Equal(t, "SPY", loaded.Trades[0]["symbol"])
}

func TestGetReportRejectsTraversal(t *testing.T) {
	s := testStore(t)

	_, err := s.GetReport("credit_put", "../../etc/passwd")
	assert.Error(t, err)
	_, err = s.GetReport("../other", "analysis_20260101_000000.json")
	assert.Error(t, err)
	_, err = s.ListReports("a/b")
	assert.Error(t, err)
}

func testDecisionLog(t *testing.T) *DecisionLog {
	t.Helper()
	db, err := database.New(database.Config{
		Path:   fmt.Sprintf("file:decisions_%s?mode=memory&cache=shared", t.Name()),
		Name:   "universe",
		Schema: DecisionSchema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDecisionLog(t.TempDir(), db.Conn(), zerolog.Nop())
}

func TestPersistRejectIdempotent(t *testing.T) {
	d := testDecisionLog(t)
	report := "analysis_20260401_101500.json"
	key := "SPY|2026-04-17|credit_spread|470|465|14"

	require.NoError(t, d.PersistReject(report, key, "spread too wide"))
	require.NoError(t, d.PersistReject(report, key, "changed my mind"))

	decisions, err := d.GetDecisions(report)
	require.NoError(t, err)
	require.Len(t, decisions, 1, "duplicate writes collapse to one entry")
	assert.Equal(t, "spread too wide", decisions[0].Reason, "the first reason wins")
	assert.Equal(t, "reject", decisions[0].Type)

	// The NDJSON log holds exactly one line too.
	replayed, err := d.ReplayLog(report)
	require.NoError(t, err)
	assert.Len(t, replayed, 1)
}

func TestDecisionsOrderedAndScoped(t *testing.T) {
	d := testDecisionLog(t)
	report := "analysis_20260401_101500.json"
	other := "analysis_20260402_093000.json"

	require.NoError(t, d.PersistReject(report, "k1", "first"))
	require.NoError(t, d.PersistReject(report, "k2", "second"))
	require.NoError(t, d.PersistReject(other, "k1", "other report"))

	decisions, err := d.GetDecisions(report)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "k1", decisions[0].TradeKey)
	assert.Equal(t, "k2", decisions[1].TradeKey)
}

func TestPersistRejectValidation(t *testing.T) {
	d := testDecisionLog(t)
	assert.Error(t, d.PersistReject("../sneaky.json", "k", "r"))
	assert.Error(t, d.PersistReject("analysis_20260401_101500.json", "", "r"))
}

func TestGetDecisionsEmptyReport(t *testing.T) {
	d := testDecisionLog(t)
	decisions, err := d.GetDecisions("analysis_20260401_101500.json")
	require.NoError(t, err)
	assert.Empty(t, decisions)
}
