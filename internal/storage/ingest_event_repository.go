package storage

import (
	"context"
	"fmt"

	"github.com/cast-indexer/internal/models"
)

// IngestEventRepository appends audit rows for ingestion outcomes to
// ClickHouse. Writes are best-effort from the pipeline's perspective; callers
// log failures and move on.
type IngestEventRepository struct {
	db *ClickHouseDB
}

// NewIngestEventRepository creates a new ingest event repository
func NewIngestEventRepository(db *ClickHouseDB) *IngestEventRepository {
	return &IngestEventRepository{db: db}
}

// Insert appends a batch of ingest events
func (r *IngestEventRepository) Insert(ctx context.Context, events []*models.IngestEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO ingest_events (
			run_id, job_name, source, fid, outcome, cast_count, error, event_time
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ingest event batch: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.RunID,
			event.JobName,
			string(event.Source),
			event.Fid,
			string(event.Outcome),
			event.CastCount,
			event.Error,
			event.EventTime,
		)
		if err != nil {
			return fmt.Errorf("failed to append ingest event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send ingest event batch: %w", err)
	}
	return nil
}

// CountByOutcome returns event counts per outcome for a run, for operational
// spot checks
func (r *IngestEventRepository) CountByOutcome(ctx context.Context, runID string) (map[string]uint64, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT outcome, count() AS c
		FROM ingest_events
		WHERE run_id = ?
		GROUP BY outcome
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count ingest events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var outcome string
		var count uint64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan ingest event count: %w", err)
		}
		counts[outcome] = count
	}
	return counts, nil
}
