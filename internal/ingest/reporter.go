package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cast-indexer/internal/logging"
)

const (
	reportTopErrors   = 5
	reportErrorMaxLen = 120
)

// Notifier delivers operator-facing progress messages
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Reporter formats and sends backfill progress summaries. Delivery is
// best-effort; a failed send is logged and the run continues.
type Reporter struct {
	notifier Notifier
}

// NewReporter creates a reporter. notifier may be nil, which reduces
// reporting to log lines.
func NewReporter(notifier Notifier) *Reporter {
	return &Reporter{notifier: notifier}
}

// ProgressReport is one batch-boundary snapshot of a backfill run
type ProgressReport struct {
	JobName         string
	BatchNumber     int64
	ProcessedUsers  int64
	TotalUsers      int64
	CastsBackfilled int64
	TotalErrors     int64
	FailedFids      int
	Resumed         bool
	StartedAt       time.Time
	Errors          *ErrorStats
}

// JobStarted announces a run beginning or resuming
func (r *Reporter) JobStarted(ctx context.Context, report *ProgressReport) {
	verb := "started"
	if report.Resumed {
		verb = "resumed"
	}
	msg := fmt.Sprintf(
		"Backfill %s %s: %d eligible users, %d already processed",
		report.JobName, verb, report.TotalUsers, report.ProcessedUsers,
	)
	r.send(ctx, msg)
}

// Progress reports a completed batch
func (r *Reporter) Progress(ctx context.Context, report *ProgressReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "Backfill %s batch %d: %d/%d users (%.1f%%), %d casts, %d errors",
		report.JobName,
		report.BatchNumber,
		report.ProcessedUsers,
		report.TotalUsers,
		percent(report.ProcessedUsers, report.TotalUsers),
		report.CastsBackfilled,
		report.TotalErrors,
	)
	if report.FailedFids > 0 {
		fmt.Fprintf(&b, ", %d failed fids", report.FailedFids)
	}
	appendTopErrors(&b, report.Errors)
	r.send(ctx, b.String())
}

// Completed reports a finished run
func (r *Reporter) Completed(ctx context.Context, report *ProgressReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "Backfill %s completed in %s: %d users, %d casts, %d errors",
		report.JobName,
		time.Since(report.StartedAt).Round(time.Second),
		report.ProcessedUsers,
		report.CastsBackfilled,
		report.TotalErrors,
	)
	if report.FailedFids > 0 {
		fmt.Fprintf(&b, ", %d failed fids", report.FailedFids)
	}
	appendTopErrors(&b, report.Errors)
	r.send(ctx, b.String())
}

// Failed reports a run that died on an unrecoverable error
func (r *Reporter) Failed(ctx context.Context, report *ProgressReport, cause error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Backfill %s FAILED at batch %d (%d/%d users): %s",
		report.JobName,
		report.BatchNumber,
		report.ProcessedUsers,
		report.TotalUsers,
		truncate(cause.Error(), reportErrorMaxLen),
	)
	appendTopErrors(&b, report.Errors)
	r.send(ctx, b.String())
}

func (r *Reporter) send(ctx context.Context, msg string) {
	logging.FromContext(ctx).WithField("report", msg).Info("Backfill progress")
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Send(ctx, msg); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to send progress notification")
	}
}

func appendTopErrors(b *strings.Builder, stats *ErrorStats) {
	if stats == nil || stats.Len() == 0 {
		return
	}
	b.WriteString("\nTop errors:")
	for _, entry := range stats.TopN(reportTopErrors, reportErrorMaxLen) {
		fmt.Fprintf(b, "\n  %dx %s", entry.Count, entry.Message)
	}
}

func percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
