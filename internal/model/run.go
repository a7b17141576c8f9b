package model

import (
	"sort"
	"time"
)

// RunStatus represents the lifecycle state of a slot run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run is one execution of a slot's pipeline, keyed by (date, slot).
// At most one run exists per key; re-triggering a slot returns the
// existing row unchanged.
type Run struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"` // YYYY-MM-DD
	Slot        string     `json:"slot"` // HH:MM
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Status      RunStatus  `json:"status"`
	Stats       RunStats   `json:"stats"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunStats holds per-run counters surfaced to the dashboard.
type RunStats struct {
	ItemsFetched       int  `json:"items_fetched"`
	ItemsNew           int  `json:"items_new"`
	ItemsAnalyzed      int  `json:"items_analyzed"`
	ItemsFailed        int  `json:"items_failed"`
	ItemsSkipped       int  `json:"items_skipped"`
	OpportunitiesFound int  `json:"opportunities_found"`
	AlertsPushed       int  `json:"alerts_pushed"`
	DigestSent         bool `json:"digest_sent"`
}

// DateOf formats t as a calendar date key (UTC is the caller's choice;
// the orchestrator passes local wall-clock time).
func DateOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// LastSlot returns the day's final slot: the maximum label under string
// ordering, which for zero-padded HH:MM labels is time ordering.
func LastSlot(slots []string) string {
	if len(slots) == 0 {
		return ""
	}
	sorted := make([]string, len(slots))
	copy(sorted, slots)
	sort.Strings(sorted)
	return sorted[len(sorted)-1]
}
