package models

import (
	"time"

	"github.com/cast-indexer/internal/types"
)

// BackfillCheckpoint is the persisted, resumable state of one named backfill
// job. One row exists per job name; the scheduler updates it after every page
// so an interrupted run continues from the stored offset instead of restarting.
type BackfillCheckpoint struct {
	JobName         string          `json:"jobName" db:"job_name"`
	TotalUsers      int64           `json:"totalUsers" db:"total_users"`
	CurrentOffset   int64           `json:"currentOffset" db:"current_offset"`
	ProcessedUsers  int64           `json:"processedUsers" db:"processed_users"`
	CastsBackfilled int64           `json:"castsBackfilled" db:"casts_backfilled"`
	TotalErrors     int64           `json:"totalErrors" db:"total_errors"`
	BatchNumber     int64           `json:"batchNumber" db:"batch_number"`
	FailedFids      []int64         `json:"failedFids" db:"failed_fids"`
	Status          types.JobStatus `json:"status" db:"status"`
	StartedAt       time.Time       `json:"startedAt" db:"started_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	LastProgressAt  time.Time       `json:"lastProgressAt" db:"last_progress_at"`
}

// NewBackfillCheckpoint returns a fresh checkpoint for a first run of jobName
func NewBackfillCheckpoint(jobName string, totalUsers int64) *BackfillCheckpoint {
	now := time.Now()
	return &BackfillCheckpoint{
		JobName:        jobName,
		TotalUsers:     totalUsers,
		Status:         types.JobRunning,
		StartedAt:      now,
		LastProgressAt: now,
	}
}

// FailedSet returns the permanently failed fids as a set for O(1) lookups
func (c *BackfillCheckpoint) FailedSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.FailedFids))
	for _, fid := range c.FailedFids {
		set[fid] = struct{}{}
	}
	return set
}
