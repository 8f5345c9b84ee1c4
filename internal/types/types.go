// Package types provides common type definitions for the cast indexer system.
package types

import "fmt"

// JobStatus represents the lifecycle state of a backfill job run
type JobStatus string

const (
	// JobRunning represents a job that is currently in progress (or was
	// interrupted and is resumable)
	JobRunning JobStatus = "running"
	// JobCompleted represents a job that finished the whole population
	JobCompleted JobStatus = "completed"
	// JobFailed represents a job that ended with a fatal error
	JobFailed JobStatus = "failed"
)

// Valid reports whether the status is one of the known job states
func (s JobStatus) Valid() bool {
	switch s {
	case JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// IngestSource identifies which pipeline path persisted a record
type IngestSource string

const (
	// SourceBackfill marks casts written by the batch backfill job
	SourceBackfill IngestSource = "backfill-job"
	// SourceListener marks casts written by the live feed listener
	SourceListener IngestSource = "feed-listener"
	// SourceUserSync marks users written by the population sync job
	SourceUserSync IngestSource = "user-sync"
)

// IngestOutcome represents the result of processing one unit of work
type IngestOutcome string

const (
	// OutcomeOK represents a successfully processed unit
	OutcomeOK IngestOutcome = "ok"
	// OutcomeFailed represents a unit that failed after exhausting retries
	OutcomeFailed IngestOutcome = "failed"
	// OutcomeSkipped represents a unit skipped as a previously failed fid
	OutcomeSkipped IngestOutcome = "skipped"
)

// ServiceError represents a structured error returned across service boundaries
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
