// Package reports persists strategy analysis reports and the append-only
// reject-decision log attached to each report.
package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

// reportNamePattern is the canonical report filename shape.
var reportNamePattern = regexp.MustCompile(`^analysis_\d{8}_\d{6}\.json$`)

// Store reads and writes strategy-partitioned report files under
// <baseDir>/reports/<strategy_id>/analysis_YYYYMMDD_HHMMSS.json.
type Store struct {
	baseDir string
	log     zerolog.Logger
}

// NewStore creates a report store rooted at dataDir.
func NewStore(dataDir string, log zerolog.Logger) *Store {
	return &Store{
		baseDir: filepath.Join(dataDir, "reports"),
		log:     log.With().Str("component", "report_store").Logger(),
	}
}

// strategyDir validates the strategy id and returns its directory.
func (s *Store) strategyDir(strategyID string) (string, error) {
	if strategyID == "" || strings.ContainsAny(strategyID, `/\`) || strings.Contains(strategyID, "..") {
		return "", fmt.Errorf("invalid strategy id: %q", strategyID)
	}
	return filepath.Join(s.baseDir, strategyID), nil
}

// ListReports returns report filenames for a strategy, newest first.
// A strategy with no reports yet returns an empty list, not an error.
func (s *Store) ListReports(strategyID string) ([]string, error) {
	dir, err := s.strategyDir(strategyID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports for %s: %w", strategyID, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !reportNamePattern.MatchString(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}

	// Timestamped names sort lexically; reverse for newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// GetReport loads one report by name.
func (s *Store) GetReport(strategyID, name string) (*domain.Report, error) {
	dir, err := s.strategyDir(strategyID)
	if err != nil {
		return nil, err
	}
	if !reportNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid report name: %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s/%s: %w", strategyID, name, err)
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s/%s: %w", strategyID, name, err)
	}
	return &report, nil
}

// SaveReport writes a new report and returns its generated filename.
// The write goes through a temp file and rename so a failed generation
// never leaves a partial report behind.
func (s *Store) SaveReport(strategyID string, report *domain.Report) (string, error) {
	dir, err := s.strategyDir(strategyID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now()
	}
	name := fmt.Sprintf("analysis_%s.json", report.GeneratedAt.Format("20060102_150405"))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize report: %w", err)
	}

	s.log.Info().Str("strategy", strategyID).Str("report", name).Msg("Report persisted")
	return name, nil
}
