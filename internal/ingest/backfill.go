package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cast-indexer/internal/config"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/logging"
	"github.com/cast-indexer/internal/models"
	"github.com/cast-indexer/internal/retry"
	"github.com/cast-indexer/internal/types"
)

// UserSource lists the eligible user population in a stable order
type UserSource interface {
	CountEligible(ctx context.Context, minScore float64) (int64, error)
	ListEligible(ctx context.Context, minScore float64, limit, offset int64) ([]*models.User, error)
}

// CheckpointStore persists resumable job state
type CheckpointStore interface {
	Get(ctx context.Context, jobName string) (*models.BackfillCheckpoint, error)
	Upsert(ctx context.Context, cp *models.BackfillCheckpoint) error
}

// CastPager fetches one page of a user's casts from the hub
type CastPager interface {
	CastsByFid(ctx context.Context, fid int64, pageSize int, pageToken string) (*hub.CastsPage, error)
}

// Auditor records per-user ingestion outcomes to the audit log
type Auditor interface {
	Insert(ctx context.Context, events []*models.IngestEvent) error
}

// Backfiller walks the eligible user population page by page, fetches every
// user's full cast history through the dedup sink and checkpoints progress
// after each page. A crashed or cancelled run resumes from the stored offset;
// the sink's idempotent insert makes re-processing the interrupted page safe.
type Backfiller struct {
	users       UserSource
	checkpoints CheckpointStore
	hub         CastPager
	sink        *Sink
	reporter    *Reporter
	audit       Auditor
	cfg         config.BackfillConfig
}

// BackfillResult summarizes a completed run
type BackfillResult struct {
	RunID           string
	ProcessedUsers  int64
	CastsBackfilled int64
	TotalErrors     int64
	FailedFids      []int64
}

// userOutcome is the result of one user's backfill within a page
type userOutcome struct {
	fid     int64
	casts   int64
	skipped bool
	err     error
}

// NewBackfiller creates a backfill scheduler. audit may be nil when no
// ClickHouse endpoint is configured.
func NewBackfiller(
	users UserSource,
	checkpoints CheckpointStore,
	pager CastPager,
	sink *Sink,
	reporter *Reporter,
	audit Auditor,
	cfg config.BackfillConfig,
) *Backfiller {
	return &Backfiller{
		users:       users,
		checkpoints: checkpoints,
		hub:         pager,
		sink:        sink,
		reporter:    reporter,
		audit:       audit,
		cfg:         cfg,
	}
}

// Run executes the backfill job to completion or a fatal error. Per-user and
// per-page failures, including a failed population listing, are absorbed into
// counters; only errors that break the job's own bookkeeping (checkpoint
// writes, cancellation) end the run.
func (b *Backfiller) Run(ctx context.Context) (*BackfillResult, error) {
	runID := uuid.NewString()
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job":   b.cfg.JobName,
		"runId": runID,
	})
	ctx = logging.WithLogger(ctx, logger)

	total, err := b.users.CountEligible(ctx, b.cfg.MinScore)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible users: %w", err)
	}

	cp, resumed, err := b.loadCheckpoint(ctx, total)
	if err != nil {
		return nil, err
	}
	if err := b.checkpoints.Upsert(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to persist initial checkpoint: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"totalUsers": total,
		"offset":     cp.CurrentOffset,
		"resumed":    resumed,
	}).Info("Backfill run starting")
	b.reporter.JobStarted(ctx, b.progressReport(cp, resumed, nil))

	errStats := NewErrorStats(DefaultErrorStatsCapacity)
	failed := cp.FailedSet()

	for {
		if err := ctx.Err(); err != nil {
			// Leave status running so the next invocation resumes
			b.reporter.Failed(ctx, b.progressReport(cp, resumed, errStats), err)
			return nil, err
		}

		users, err := b.users.ListEligible(ctx, b.cfg.MinScore, int64(b.cfg.UsersPageSize), cp.CurrentOffset)
		if err != nil {
			// A failed listing is skipped like any other bad page; no
			// single page failure ends the run.
			logger.WithError(err).WithField("offset", cp.CurrentOffset).Error("Failed to list users, skipping page")
			errStats.Record(err.Error())
			cp.TotalErrors++
			cp.CurrentOffset += int64(b.cfg.UsersPageSize)
			if err := b.checkpoints.Upsert(ctx, cp); err != nil {
				return nil, b.failRun(ctx, cp, errStats, resumed, fmt.Errorf("failed to persist checkpoint: %w", err))
			}
			if cp.CurrentOffset >= cp.TotalUsers {
				break
			}
			if err := sleepCtx(ctx, 2*b.cfg.PageDelay); err != nil {
				return nil, err
			}
			continue
		}
		if len(users) == 0 {
			break
		}

		cp.BatchNumber++
		outcomes, pageErr := b.processPage(ctx, runID, users, failed)
		if pageErr != nil {
			// The page blew up as a whole. Count it, advance past it so one
			// poisoned page cannot wedge the job forever, and keep going.
			logger.WithError(pageErr).WithField("batch", cp.BatchNumber).Error("Batch processing failed")
			errStats.Record(pageErr.Error())
			cp.TotalErrors++
			cp.CurrentOffset += int64(len(users))
			if err := b.checkpoints.Upsert(ctx, cp); err != nil {
				return nil, b.failRun(ctx, cp, errStats, resumed, fmt.Errorf("failed to persist checkpoint: %w", err))
			}
			if err := sleepCtx(ctx, 2*b.cfg.PageDelay); err != nil {
				return nil, err
			}
			continue
		}

		for _, outcome := range outcomes {
			cp.ProcessedUsers++
			if outcome.skipped {
				continue
			}
			if outcome.err != nil {
				cp.TotalErrors++
				errStats.Record(outcome.err.Error())
				if _, known := failed[outcome.fid]; !known {
					failed[outcome.fid] = struct{}{}
					cp.FailedFids = append(cp.FailedFids, outcome.fid)
				}
				continue
			}
			cp.CastsBackfilled += outcome.casts
		}

		cp.CurrentOffset += int64(len(users))
		if err := b.checkpoints.Upsert(ctx, cp); err != nil {
			return nil, b.failRun(ctx, cp, errStats, resumed, fmt.Errorf("failed to persist checkpoint: %w", err))
		}

		b.recordAudit(ctx, runID, outcomes)
		b.reporter.Progress(ctx, b.progressReport(cp, resumed, errStats))

		if err := sleepCtx(ctx, b.cfg.PageDelay); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	cp.Status = types.JobCompleted
	cp.CompletedAt = &now
	if err := b.checkpoints.Upsert(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to persist final checkpoint: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"processedUsers": cp.ProcessedUsers,
		"casts":          cp.CastsBackfilled,
		"errors":         cp.TotalErrors,
	}).Info("Backfill run completed")
	b.reporter.Completed(ctx, b.progressReport(cp, resumed, errStats))

	return &BackfillResult{
		RunID:           runID,
		ProcessedUsers:  cp.ProcessedUsers,
		CastsBackfilled: cp.CastsBackfilled,
		TotalErrors:     cp.TotalErrors,
		FailedFids:      cp.FailedFids,
	}, nil
}

// loadCheckpoint returns the checkpoint to run under: the stored one when a
// prior run of this job name was interrupted mid-flight, otherwise a fresh
// one. Completed and failed checkpoints start over from offset zero.
func (b *Backfiller) loadCheckpoint(ctx context.Context, total int64) (*models.BackfillCheckpoint, bool, error) {
	cp, err := b.checkpoints.Get(ctx, b.cfg.JobName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp != nil && cp.Status == types.JobRunning {
		cp.TotalUsers = total
		return cp, true, nil
	}
	return models.NewBackfillCheckpoint(b.cfg.JobName, total), false, nil
}

// processPage backfills one page of users concurrently, one goroutine per
// user. A panic in any user's goroutine is converted into a page-level error
// instead of taking the process down.
func (b *Backfiller) processPage(ctx context.Context, runID string, users []*models.User, failed map[int64]struct{}) (outcomes []userOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcomes = nil
			err = fmt.Errorf("panic during batch processing: %v", r)
		}
	}()

	outcomes = make([]userOutcome, len(users))
	var wg sync.WaitGroup

	for i, user := range users {
		outcomes[i].fid = user.Fid
		if _, skip := failed[user.Fid]; skip {
			outcomes[i].skipped = true
			continue
		}

		wg.Add(1)
		go func(i int, fid int64) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].err = fmt.Errorf("panic backfilling fid %d: %v", fid, r)
				}
			}()

			casts, err := retry.DoValue(ctx, retry.Config{
				Timeout:     b.cfg.UserTimeout,
				MaxAttempts: b.cfg.MaxAttempts,
				Delay:       b.cfg.RetryDelay,
			}, fmt.Sprintf("backfill fid %d", fid), func(ctx context.Context) (int64, error) {
				return b.backfillUser(ctx, fid)
			})

			outcomes[i].casts = casts
			outcomes[i].err = err
		}(i, user.Fid)
	}

	wg.Wait()
	return outcomes, nil
}

// backfillUser pulls fid's full cast history page by page into the sink and
// returns the number of newly inserted casts. Page fetches run under their
// own retry budget; a hub-level error result after retries ends pagination
// with the casts gathered so far, while transport failures propagate and fail
// the user. Pagination is hard-capped so a cursor that cycles or never
// terminates cannot spin forever.
func (b *Backfiller) backfillUser(ctx context.Context, fid int64) (int64, error) {
	logger := logging.FromContext(ctx).WithField("fid", fid)

	var inserted int64
	var pageToken string

	for page := 1; ; page++ {
		if page > b.cfg.MaxPagesPerUser {
			logger.WithField("maxPages", b.cfg.MaxPagesPerUser).Warn("Pagination cap reached, stopping cast fetch")
			break
		}

		result, err := retry.DoValue(ctx, retry.Config{
			Timeout:     b.cfg.HubTimeout,
			MaxAttempts: b.cfg.MaxAttempts,
			Delay:       b.cfg.HubRetryDelay,
		}, fmt.Sprintf("fetch casts fid %d page %d", fid, page), func(ctx context.Context) (*hub.CastsPage, error) {
			return b.hub.CastsByFid(ctx, fid, b.cfg.CastsPageSize, pageToken)
		})
		if err != nil {
			if hub.IsAPIError(err) {
				// The hub answered with an error result; keep what we have
				logger.WithError(err).Warn("Hub rejected cast fetch, stopping pagination")
				break
			}
			return inserted, err
		}

		for i := range result.Messages {
			ok, err := b.sink.Ingest(ctx, &result.Messages[i], IngestOptions{ProcessedBy: types.SourceBackfill})
			if err != nil {
				logger.WithError(err).WithField("hash", result.Messages[i].Hash).Warn("Failed to store cast")
				continue
			}
			if ok {
				inserted++
			}
		}

		if len(result.Messages) == 0 || result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}

	return inserted, nil
}

// failRun marks the checkpoint failed and reports the cause. The returned
// error wraps cause for the caller's exit code.
func (b *Backfiller) failRun(ctx context.Context, cp *models.BackfillCheckpoint, errStats *ErrorStats, resumed bool, cause error) error {
	cp.Status = types.JobFailed
	now := time.Now()
	cp.CompletedAt = &now
	if err := b.checkpoints.Upsert(ctx, cp); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to persist failed checkpoint")
	}
	b.reporter.Failed(ctx, b.progressReport(cp, resumed, errStats), cause)
	return cause
}

// recordAudit writes per-user outcome rows to the audit log, best-effort
func (b *Backfiller) recordAudit(ctx context.Context, runID string, outcomes []userOutcome) {
	if b.audit == nil {
		return
	}

	now := time.Now()
	events := make([]*models.IngestEvent, 0, len(outcomes))
	for _, outcome := range outcomes {
		event := &models.IngestEvent{
			RunID:     runID,
			JobName:   b.cfg.JobName,
			Source:    types.SourceBackfill,
			Fid:       outcome.fid,
			Outcome:   types.OutcomeOK,
			CastCount: outcome.casts,
			EventTime: now,
		}
		switch {
		case outcome.skipped:
			event.Outcome = types.OutcomeSkipped
		case outcome.err != nil:
			event.Outcome = types.OutcomeFailed
			event.Error = outcome.err.Error()
		}
		events = append(events, event)
	}

	if err := b.audit.Insert(ctx, events); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to write ingest audit events")
	}
}

func (b *Backfiller) progressReport(cp *models.BackfillCheckpoint, resumed bool, errStats *ErrorStats) *ProgressReport {
	return &ProgressReport{
		JobName:         cp.JobName,
		BatchNumber:     cp.BatchNumber,
		ProcessedUsers:  cp.ProcessedUsers,
		TotalUsers:      cp.TotalUsers,
		CastsBackfilled: cp.CastsBackfilled,
		TotalErrors:     cp.TotalErrors,
		FailedFids:      len(cp.FailedFids),
		Resumed:         resumed,
		StartedAt:       cp.StartedAt,
		Errors:          errStats,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
