package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/models"
	"github.com/jackc/pgx/v5"
)

// CheckpointRepository persists backfill checkpoints, one row per job name.
// Only the backfill scheduler writes here; a single active instance per job
// name is assumed (deployment discipline, not enforced by the store).
type CheckpointRepository struct {
	db *PostgresDB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *PostgresDB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get retrieves the checkpoint for jobName. Returns (nil, nil) when the job
// has never run.
func (r *CheckpointRepository) Get(ctx context.Context, jobName string) (*models.BackfillCheckpoint, error) {
	query := `
		SELECT job_name, total_users, current_offset, processed_users,
		       casts_backfilled, total_errors, batch_number, failed_fids,
		       status, started_at, completed_at, last_progress_at
		FROM backfill_checkpoints
		WHERE job_name = $1
	`

	var cp models.BackfillCheckpoint
	var failedJSON []byte

	err := r.db.Pool().QueryRow(ctx, query, jobName).Scan(
		&cp.JobName,
		&cp.TotalUsers,
		&cp.CurrentOffset,
		&cp.ProcessedUsers,
		&cp.CastsBackfilled,
		&cp.TotalErrors,
		&cp.BatchNumber,
		&failedJSON,
		&cp.Status,
		&cp.StartedAt,
		&cp.CompletedAt,
		&cp.LastProgressAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get checkpoint", err)
	}

	if len(failedJSON) > 0 {
		if err := json.Unmarshal(failedJSON, &cp.FailedFids); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed fids: %w", err)
		}
	}
	return &cp, nil
}

// Upsert writes the checkpoint row, creating it on first use
func (r *CheckpointRepository) Upsert(ctx context.Context, cp *models.BackfillCheckpoint) error {
	cp.LastProgressAt = time.Now()

	failed := cp.FailedFids
	if failed == nil {
		failed = []int64{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to marshal failed fids: %w", err)
	}

	query := `
		INSERT INTO backfill_checkpoints (
			job_name, total_users, current_offset, processed_users,
			casts_backfilled, total_errors, batch_number, failed_fids,
			status, started_at, completed_at, last_progress_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (job_name) DO UPDATE SET
			total_users = EXCLUDED.total_users,
			current_offset = EXCLUDED.current_offset,
			processed_users = EXCLUDED.processed_users,
			casts_backfilled = EXCLUDED.casts_backfilled,
			total_errors = EXCLUDED.total_errors,
			batch_number = EXCLUDED.batch_number,
			failed_fids = EXCLUDED.failed_fids,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			last_progress_at = EXCLUDED.last_progress_at
	`

	_, err = r.db.Pool().Exec(ctx, query,
		cp.JobName,
		cp.TotalUsers,
		cp.CurrentOffset,
		cp.ProcessedUsers,
		cp.CastsBackfilled,
		cp.TotalErrors,
		cp.BatchNumber,
		failedJSON,
		cp.Status,
		cp.StartedAt,
		cp.CompletedAt,
		cp.LastProgressAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert checkpoint", err)
	}
	return nil
}
