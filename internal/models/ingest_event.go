package models

import (
	"time"

	"github.com/cast-indexer/internal/types"
)

// IngestEvent is an append-only audit row recording the outcome of one unit of
// ingestion work (one user during backfill, one cast from the listener).
// Events are written to ClickHouse best-effort; a write failure is logged and
// never propagated into pipeline control flow.
type IngestEvent struct {
	RunID     string              `json:"runId" db:"run_id"`
	JobName   string              `json:"jobName" db:"job_name"`
	Source    types.IngestSource  `json:"source" db:"source"`
	Fid       int64               `json:"fid" db:"fid"`
	Outcome   types.IngestOutcome `json:"outcome" db:"outcome"`
	CastCount int64               `json:"castCount" db:"cast_count"`
	Error     string              `json:"error,omitempty" db:"error"`
	EventTime time.Time           `json:"eventTime" db:"event_time"`
}
