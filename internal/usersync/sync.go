// Package usersync populates the user store from the hub's registered fid
// space, enriching each fid with profile data from the profile API.
package usersync

import (
	"context"
	"fmt"
	"time"

	"github.com/cast-indexer/internal/config"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/logging"
	"github.com/cast-indexer/internal/models"
	"github.com/cast-indexer/internal/profile"
	"github.com/cast-indexer/internal/types"
)

// FidSource pages through the hub's registered fids
type FidSource interface {
	FidsByShard(ctx context.Context, shardID int, pageToken string) (*hub.FidsPage, error)
}

// ProfileSource bulk-fetches profiles for a fid list
type ProfileSource interface {
	UsersByFids(ctx context.Context, fids []int64) ([]profile.User, error)
}

// UserWriter persists synced users
type UserWriter interface {
	Upsert(ctx context.Context, user *models.User) error
	Create(ctx context.Context, user *models.User) error
}

// Result summarizes one sync run
type Result struct {
	FidsSeen     int64
	UsersSynced  int64
	Placeholders int64
	Errors       int64
}

// Syncer walks every registered fid on the hub, fetches profile data in bulk
// and upserts the rows. Fids the profile API does not know get placeholder
// rows so the pipeline still has a user record to hang casts on.
type Syncer struct {
	fids     FidSource
	profiles ProfileSource
	users    UserWriter
	cfg      config.UserSyncConfig
}

// NewSyncer creates a user sync job
func NewSyncer(fids FidSource, profiles ProfileSource, users UserWriter, cfg config.UserSyncConfig) *Syncer {
	return &Syncer{fids: fids, profiles: profiles, users: users, cfg: cfg}
}

// Run syncs the full fid space of shard. Per-chunk failures are counted and
// skipped; only fid listing failures and cancellation end the run.
func (s *Syncer) Run(ctx context.Context, shard int) (*Result, error) {
	logger := logging.FromContext(ctx).WithField("shard", shard)
	result := &Result{}

	var pageToken string
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := s.fids.FidsByShard(ctx, shard, pageToken)
		if err != nil {
			return result, fmt.Errorf("failed to list fids: %w", err)
		}
		if len(page.Fids) == 0 {
			break
		}

		result.FidsSeen += int64(len(page.Fids))
		s.syncChunk(ctx, page.Fids, result)

		logger.WithFields(map[string]interface{}{
			"fidsSeen":    result.FidsSeen,
			"usersSynced": result.UsersSynced,
			"errors":      result.Errors,
		}).Info("User sync progress")

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken

		if err := sleepCtx(ctx, s.cfg.ChunkDelay); err != nil {
			return result, err
		}
	}

	logger.WithFields(map[string]interface{}{
		"fidsSeen":     result.FidsSeen,
		"usersSynced":  result.UsersSynced,
		"placeholders": result.Placeholders,
		"errors":       result.Errors,
	}).Info("User sync completed")
	return result, nil
}

// syncChunk fetches profiles for one fid page and writes the rows. Fids with
// no profile get placeholders; a failed bulk fetch counts one error per fid
// and moves on.
func (s *Syncer) syncChunk(ctx context.Context, fids []int64, result *Result) {
	logger := logging.FromContext(ctx)

	profiles, err := s.profiles.UsersByFids(ctx, fids)
	if err != nil {
		logger.WithError(err).WithField("fids", len(fids)).Warn("Profile bulk fetch failed, skipping chunk")
		result.Errors += int64(len(fids))
		return
	}

	known := make(map[int64]*profile.User, len(profiles))
	for i := range profiles {
		known[profiles[i].Fid] = &profiles[i]
	}

	for _, fid := range fids {
		fetched, ok := known[fid]
		if !ok {
			if err := s.users.Create(ctx, models.MinimalUser(fid, types.SourceUserSync)); err != nil {
				logger.WithError(err).WithField("fid", fid).Warn("Failed to store placeholder user")
				result.Errors++
				continue
			}
			result.Placeholders++
			continue
		}

		if err := s.users.Upsert(ctx, fetched.ToUser(types.SourceUserSync)); err != nil {
			logger.WithError(err).WithField("fid", fid).Warn("Failed to upsert user")
			result.Errors++
			continue
		}
		result.UsersSynced++
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
