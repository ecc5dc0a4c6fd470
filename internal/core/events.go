package core

import "time"

// EventKind names a run event
type EventKind string

const (
	EventRunStatusChanged    EventKind = "run-status-changed"
	EventAccountStatsUpdated EventKind = "account-stats-updated"
	EventProgress            EventKind = "progress"
	EventRunCompleted        EventKind = "run-completed"
	EventRunError            EventKind = "run-error"
	EventAccountError        EventKind = "account-error"
)

// Event is a progress or state notification published by the orchestrator.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	Time time.Time

	// run-status-changed
	State RunState

	// account-stats-updated, account-error
	AccountID      string
	AccountStats   ProcessingStats
	AggregateStats ProcessingStats

	// progress
	Total          int
	Processed      int
	Percent        float64
	CurrentAccount string

	// run-completed
	AllStats map[string]ProcessingStats

	// run-error, account-error
	Err error
}
