package reports

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

// DecisionSchema is the universe.db DDL the decision index owns. The NDJSON
// log files stay the source of truth; the table exists so idempotence checks
// and reads never re-parse a log file.
const DecisionSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	report_file TEXT NOT NULL,
	trade_key TEXT NOT NULL,
	reason TEXT NOT NULL,
	at INTEGER NOT NULL,
	UNIQUE(report_file, trade_key)
);
CREATE INDEX IF NOT EXISTS idx_decisions_report ON decisions(report_file);
`

// DecisionLog is the append-only per-report reject-decision log with
// at-most-once semantics per (report_file, trade_key).
type DecisionLog struct {
	baseDir string
	db      *sql.DB
	mu      sync.Mutex // serializes index insert + file append
	log     zerolog.Logger
}

// NewDecisionLog creates a decision log rooted at dataDir, indexed in db.
func NewDecisionLog(dataDir string, db *sql.DB, log zerolog.Logger) *DecisionLog {
	return &DecisionLog{
		baseDir: filepath.Join(dataDir, "decisions"),
		db:      db,
		log:     log.With().Str("component", "decision_log").Logger(),
	}
}

// logPath maps a report filename to its decision log file.
func (d *DecisionLog) logPath(reportFile string) (string, error) {
	if reportFile == "" || strings.ContainsAny(reportFile, `/\`) || strings.Contains(reportFile, "..") {
		return "", fmt.Errorf("invalid report file: %q", reportFile)
	}
	name := strings.TrimSuffix(reportFile, ".json") + ".ndjson"
	return filepath.Join(d.baseDir, name), nil
}

// PersistReject records one reject decision. Duplicate writes for the same
// (report_file, trade_key) are idempotent no-ops: the first reason wins and
// no second log line is appended.
func (d *DecisionLog) PersistReject(reportFile, tradeKey, reason string) error {
	path, err := d.logPath(reportFile)
	if err != nil {
		return err
	}
	if tradeKey == "" {
		return fmt.Errorf("trade key is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	result, err := d.db.Exec(`
		INSERT INTO decisions (report_file, trade_key, reason, at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(report_file, trade_key) DO NOTHING
	`, reportFile, tradeKey, reason, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to index decision: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check decision insert: %w", err)
	}
	if inserted == 0 {
		d.log.Debug().
			Str("report", reportFile).
			Str("trade_key", tradeKey).
			Msg("Duplicate reject decision ignored")
		return nil
	}

	entry := domain.RejectDecision{
		Type:     "reject",
		TradeKey: tradeKey,
		Reason:   reason,
		At:       now,
	}
	if err := d.appendLine(path, entry); err != nil {
		// The index row exists but the log line failed; remove the row so a
		// retry can go through cleanly.
		_, _ = d.db.Exec("DELETE FROM decisions WHERE report_file = ? AND trade_key = ?", reportFile, tradeKey)
		return err
	}
	return nil
}

func (d *DecisionLog) appendLine(path string, entry domain.RejectDecision) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create decisions directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open decision log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// GetDecisions returns the ordered decision list for one report.
func (d *DecisionLog) GetDecisions(reportFile string) ([]domain.RejectDecision, error) {
	if _, err := d.logPath(reportFile); err != nil {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT trade_key, reason, at
		FROM decisions
		WHERE report_file = ?
		ORDER BY rowid
	`, reportFile)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	decisions := []domain.RejectDecision{}
	for rows.Next() {
		var tradeKey, reason string
		var at int64
		if err := rows.Scan(&tradeKey, &reason, &at); err != nil {
			d.log.Warn().Err(err).Msg("Failed to scan decision row")
			continue
		}
		decisions = append(decisions, domain.RejectDecision{
			Type:     "reject",
			TradeKey: tradeKey,
			Reason:   reason,
			At:       time.Unix(at, 0).UTC(),
		})
	}
	return decisions, rows.Err()
}

// ReplayLog re-reads a decision log file from disk. Used by maintenance
// tooling to rebuild the index after a restore.
func (d *DecisionLog) ReplayLog(reportFile string) ([]domain.RejectDecision, error) {
	path, err := d.logPath(reportFile)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []domain.RejectDecision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	defer f.Close()

	var decisions []domain.RejectDecision
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry domain.RejectDecision
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			d.log.Warn().Str("report", reportFile).Msg("Skipping malformed decision line")
			continue
		}
		decisions = append(decisions, entry)
	}
	return decisions, scanner.Err()
}
