package domain

import (
	"fmt"
	"time"
)

// RunState is the lifecycle state of one pipeline run.
type RunState string

const (
	RunPending         RunState = "PENDING"
	RunCoordsFetched   RunState = "COORDS_FETCHED"
	RunSnapshotFetched RunState = "SNAPSHOT_FETCHED"
	RunExtracted       RunState = "EXTRACTED"
	RunPersisted       RunState = "PERSISTED"
	RunFailed          RunState = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s RunState) Terminal() bool {
	return s == RunPersisted || s == RunFailed
}

// next maps each state to the one a successful step advances it to.
var next = map[RunState]RunState{
	RunPending:         RunCoordsFetched,
	RunCoordsFetched:   RunSnapshotFetched,
	RunSnapshotFetched: RunExtracted,
	RunExtracted:       RunPersisted,
}

// RunType distinguishes catch-up/cron runs from manual triggers.
type RunType string

const (
	RunScheduled RunType = "scheduled"
	RunManual    RunType = "manual"
)

// Run is the ledger entry of one execution of the graph for a logical date.
type Run struct {
	ID          string     `json:"run_id"`
	LogicalDate time.Time  `json:"logical_date"`
	Type        RunType    `json:"run_type"`
	State       RunState   `json:"state"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// NewRun creates a PENDING run stamped with the current time.
func NewRun(id string, logicalDate time.Time, typ RunType) Run {
	return Run{
		ID:          id,
		LogicalDate: logicalDate.UTC(),
		Type:        typ,
		State:       RunPending,
		StartedAt:   now(),
	}
}

// Advance moves the run to the state following its current one.
func (r *Run) Advance() error {
	to, ok := next[r.State]
	if !ok {
		return fmt.Errorf("advance run %s: no transition from %s", r.ID, r.State)
	}
	r.State = to
	if to.Terminal() {
		r.finish()
	}
	return nil
}

// Fail marks the run FAILED with the given cause. Terminal runs are left unchanged.
func (r *Run) Fail(cause error) {
	if r.State.Terminal() {
		return
	}
	r.State = RunFailed
	if cause != nil {
		r.Error = cause.Error()
	}
	r.finish()
}

func (r *Run) finish() {
	t := now()
	r.FinishedAt = &t
}

// LogicalDay truncates t to its UTC calendar day, the granularity of logical dates.
func LogicalDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
