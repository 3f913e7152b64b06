package events

import "time"

// SnapshotUpdatedData contains data for SnapshotUpdated events
type SnapshotUpdatedData struct {
	Partial       bool       `json:"partial"`
	ErrorCount    int        `json:"error_count"`
	Opportunities int        `json:"opportunities"`
	LastSuccessAt *time.Time `json:"last_success_at"`
}

// ScanCompletedData contains data for ScanCompleted events
type ScanCompletedData struct {
	ScannersRun     []string `json:"scanners_run"`
	ScannersFailed  []string `json:"scanners_failed"`
	TotalCandidates int      `json:"total_candidates"`
	DurationMs      int64    `json:"duration_ms"`
}

// SymbolsChangedData contains data for SymbolsChanged events
type SymbolsChangedData struct {
	Symbols []string `json:"symbols"`
	Action  string   `json:"action"` // add, remove, reset
	Symbol  string   `json:"symbol,omitempty"`
}

// RefreshProgressData contains data for RefreshProgress events
type RefreshProgressData struct {
	Phase   string `json:"phase"`
	State   string `json:"state"` // running, ok, warning, failed, skipped
	Message string `json:"message,omitempty"`
}

// SourceHealthChangedData contains data for SourceHealthChanged events
type SourceHealthChangedData struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
}
