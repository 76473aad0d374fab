package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusSucceeded means every stage completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means a stage crossed a failure threshold; committed
	// tiers stay in place and progression stopped there.
	StatusFailed Status = "failed"
	// StatusFatal means the run aborted on an unrecoverable error such as
	// unreachable storage.
	StatusFatal Status = "fatal"
)

// ErrRunNotFound is returned when a run id has no stored report.
var ErrRunNotFound = errors.New("pipeline: run not found")

// ErrRunAlreadyQueued is returned when a run is triggered while another is
// still queued or executing. One run at a time protects SCD history.
var ErrRunAlreadyQueued = errors.New("pipeline: run already queued")

// Stage names, in execution order.
const (
	StageIngest    = "ingest"
	StageQuality   = "quality"
	StageCleanse   = "cleanse"
	StageWarehouse = "warehouse"
)

// StageReport captures one stage's outcome for the run report.
type StageReport struct {
	Name       string `json:"name"`
	In         int    `json:"in"`
	Out        int    `json:"out"`
	Rejected   int    `json:"rejected"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Detail     any    `json:"detail,omitempty"`
}

// RunReport is the single source of truth for what a run did. It is
// persisted as JSON and served unmodified by the read API.
type RunReport struct {
	RunID        uuid.UUID     `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Status       Status        `json:"status"`
	QualityScore float64       `json:"quality_score"`
	QualityGrade string        `json:"quality_grade"`
	Stages       []StageReport `json:"stages"`
	Error        string        `json:"error,omitempty"`
}
