package runstore

import (
	"errors"
	"time"
)

// ErrRunNotFound reports a lookup for a run id that does not exist.
var ErrRunNotFound = errors.New("run not found")

// Status represents the lifecycle of a protocol run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the run has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is one execution of a protocol.
type Run struct {
	ID           string     `json:"id"`
	Protocol     string     `json:"protocol"`
	ProtocolPath string     `json:"protocol_path,omitempty"`
	Status       Status     `json:"status"`
	DryRun       bool       `json:"dry_run"`
	StepsTotal   int        `json:"steps_total"`
	StepsDone    int        `json:"steps_done"`
	CommandCount int        `json:"command_count"`
	Rotation     *int       `json:"rotation_index,omitempty"`
	ErrorMessage string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration(now time.Time) time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.CreatedAt)
	}
	return now.Sub(r.CreatedAt)
}

// Outcome summarizes how a run ended.
type Outcome struct {
	StepsDone    int
	CommandCount int
	Rotation     *int
	Err          error
}

// VesselEntry records one source vessel's contribution to a reagent step.
type VesselEntry struct {
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Reagent   string    `json:"reagent"`
	Vessel    string    `json:"vessel"`
	Drawn     float64   `json:"drawn"`
	Remaining float64   `json:"remaining"`
	Depleted  bool      `json:"depleted"`
	Recorded  time.Time `json:"recorded_at"`
}
