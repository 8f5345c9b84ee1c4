package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cast-indexer/internal/config"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/models"
	"github.com/cast-indexer/internal/types"
)

// fakeUserSource serves a fixed eligible population. listErrs maps an offset
// to a listing error served once for that offset.
type fakeUserSource struct {
	mu       sync.Mutex
	users    []*models.User
	listErrs map[int64]error
	offsets  []int64
}

func makeUsers(n int) []*models.User {
	users := make([]*models.User, n)
	for i := range users {
		score := 0.9
		users[i] = &models.User{Fid: int64(i + 1), Score: &score, IsActive: true}
	}
	return users
}

func (s *fakeUserSource) CountEligible(ctx context.Context, minScore float64) (int64, error) {
	return int64(len(s.users)), nil
}

func (s *fakeUserSource) ListEligible(ctx context.Context, minScore float64, limit, offset int64) ([]*models.User, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	listErr, flaky := s.listErrs[offset]
	if flaky {
		delete(s.listErrs, offset)
	}
	s.mu.Unlock()

	if flaky {
		return nil, listErr
	}
	if offset >= int64(len(s.users)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(s.users)) {
		end = int64(len(s.users))
	}
	return s.users[offset:end], nil
}

// fakeCheckpointStore keeps the checkpoint in memory and counts writes
type fakeCheckpointStore struct {
	mu      sync.Mutex
	cp      *models.BackfillCheckpoint
	upserts int
}

func (s *fakeCheckpointStore) Get(ctx context.Context, jobName string) (*models.BackfillCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cp == nil {
		return nil, nil
	}
	copied := *s.cp
	return &copied, nil
}

func (s *fakeCheckpointStore) Upsert(ctx context.Context, cp *models.BackfillCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cp
	s.cp = &copied
	s.upserts++
	return nil
}

// fakePager serves cast pages through a handler and counts per-fid calls
type fakePager struct {
	mu      sync.Mutex
	calls   map[int64]int
	handler func(fid int64, token string, call int) (*hub.CastsPage, error)
}

func newFakePager(handler func(fid int64, token string, call int) (*hub.CastsPage, error)) *fakePager {
	return &fakePager{calls: make(map[int64]int), handler: handler}
}

func (p *fakePager) CastsByFid(ctx context.Context, fid int64, pageSize int, pageToken string) (*hub.CastsPage, error) {
	p.mu.Lock()
	p.calls[fid]++
	call := p.calls[fid]
	p.mu.Unlock()
	return p.handler(fid, pageToken, call)
}

func (p *fakePager) callCount(fid int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[fid]
}

// fakeAuditor captures audit events
type fakeAuditor struct {
	mu     sync.Mutex
	events []*models.IngestEvent
}

func (a *fakeAuditor) Insert(ctx context.Context, events []*models.IngestEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, events...)
	return nil
}

func (a *fakeAuditor) byOutcome(outcome types.IngestOutcome) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

func testBackfillConfig() config.BackfillConfig {
	return config.BackfillConfig{
		JobName:         "test-backfill",
		MinScore:        0.6,
		UsersPageSize:   50,
		CastsPageSize:   100,
		MaxPagesPerUser: 5,
		UserTimeout:     time.Second,
		HubTimeout:      time.Second,
		MaxAttempts:     2,
	}
}

// onePagePerFid serves one page with a single cast and no next token
func onePagePerFid(fid int64, token string, call int) (*hub.CastsPage, error) {
	return &hub.CastsPage{
		Messages: []hub.Message{*castAddMessage(fid, fmt.Sprintf("0x%x", fid), fmt.Sprintf("cast from %d", fid))},
	}, nil
}

func TestBackfillerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("processes the full population in pages", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(120)}
		checkpoints := &fakeCheckpointStore{}
		pager := newFakePager(onePagePerFid)
		store := newFakeCastStore()
		audit := &fakeAuditor{}

		b := NewBackfiller(users, checkpoints, pager, NewSink(store, nil), NewReporter(nil), audit, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(120), result.ProcessedUsers)
		assert.Equal(t, int64(120), result.CastsBackfilled)
		assert.Equal(t, int64(0), result.TotalErrors)
		assert.Empty(t, result.FailedFids)
		assert.Equal(t, 120, store.count())

		// Three pages of 50, 50, 20 plus the final empty page
		assert.Equal(t, []int64{0, 50, 100, 120}, users.offsets)

		require.NotNil(t, checkpoints.cp)
		assert.Equal(t, types.JobCompleted, checkpoints.cp.Status)
		assert.Equal(t, int64(3), checkpoints.cp.BatchNumber)
		assert.NotNil(t, checkpoints.cp.CompletedAt)
		assert.Equal(t, 120, audit.byOutcome(types.OutcomeOK))
	})

	t.Run("resumes from the stored offset", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(120)}
		checkpoints := &fakeCheckpointStore{}
		started := time.Now().Add(-time.Hour)
		checkpoints.cp = &models.BackfillCheckpoint{
			JobName:         "test-backfill",
			TotalUsers:      120,
			CurrentOffset:   50,
			ProcessedUsers:  50,
			CastsBackfilled: 50,
			Status:          types.JobRunning,
			StartedAt:       started,
		}

		pager := newFakePager(onePagePerFid)
		store := newFakeCastStore()

		b := NewBackfiller(users, checkpoints, pager, NewSink(store, nil), NewReporter(nil), nil, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		// Offsets start where the interrupted run left off
		assert.Equal(t, []int64{50, 100, 120}, users.offsets)
		assert.Equal(t, int64(120), result.ProcessedUsers)
		assert.Equal(t, int64(120), result.CastsBackfilled)
		assert.Equal(t, 0, pager.callCount(1), "users before the offset are not re-fetched")
		assert.Equal(t, 1, pager.callCount(51))
		assert.True(t, checkpoints.cp.StartedAt.Equal(started), "resume keeps the original start time")
	})

	t.Run("completed checkpoint starts a fresh run", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(10)}
		now := time.Now()
		checkpoints := &fakeCheckpointStore{cp: &models.BackfillCheckpoint{
			JobName:       "test-backfill",
			CurrentOffset: 10,
			Status:        types.JobCompleted,
			CompletedAt:   &now,
		}}

		pager := newFakePager(onePagePerFid)
		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(10), result.ProcessedUsers)
		assert.Equal(t, int64(0), users.offsets[0])
	})

	t.Run("previously failed fids are skipped", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(10)}
		checkpoints := &fakeCheckpointStore{cp: &models.BackfillCheckpoint{
			JobName:    "test-backfill",
			FailedFids: []int64{3, 7},
			Status:     types.JobRunning,
			StartedAt:  time.Now(),
		}}

		pager := newFakePager(onePagePerFid)
		audit := &fakeAuditor{}
		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), audit, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 0, pager.callCount(3))
		assert.Equal(t, 0, pager.callCount(7))
		assert.Equal(t, int64(8), result.CastsBackfilled)
		assert.Equal(t, 2, audit.byOutcome(types.OutcomeSkipped))
	})

	t.Run("a user failing all attempts is recorded and the run continues", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(10)}
		checkpoints := &fakeCheckpointStore{}
		pager := newFakePager(func(fid int64, token string, call int) (*hub.CastsPage, error) {
			if fid == 4 {
				return nil, fmt.Errorf("connection reset")
			}
			return onePagePerFid(fid, token, call)
		})

		audit := &fakeAuditor{}
		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), audit, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(10), result.ProcessedUsers)
		assert.Equal(t, int64(9), result.CastsBackfilled)
		assert.Equal(t, int64(1), result.TotalErrors)
		require.Len(t, result.FailedFids, 1)
		assert.Equal(t, int64(4), result.FailedFids[0])
		assert.Equal(t, types.JobCompleted, checkpoints.cp.Status)
		assert.Equal(t, 1, audit.byOutcome(types.OutcomeFailed))
	})

	t.Run("a failed user listing skips the page and the run continues", func(t *testing.T) {
		users := &fakeUserSource{
			users:    makeUsers(120),
			listErrs: map[int64]error{50: fmt.Errorf("connection refused")},
		}
		checkpoints := &fakeCheckpointStore{}
		pager := newFakePager(onePagePerFid)

		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		// The bad page is counted once and the offset still advances past it
		assert.Equal(t, []int64{0, 50, 100, 120}, users.offsets)
		assert.Equal(t, int64(1), result.TotalErrors)
		assert.Equal(t, int64(70), result.ProcessedUsers)
		assert.Equal(t, int64(70), result.CastsBackfilled)
		assert.Equal(t, 0, pager.callCount(51), "users on the skipped page are not fetched")
		assert.Equal(t, types.JobCompleted, checkpoints.cp.Status)
	})

	t.Run("a page that panics is counted and the run continues", func(t *testing.T) {
		population := makeUsers(120)
		population[60] = nil
		users := &fakeUserSource{users: population}
		checkpoints := &fakeCheckpointStore{}
		pager := newFakePager(onePagePerFid)

		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, []int64{0, 50, 100, 120}, users.offsets)
		assert.Equal(t, int64(1), result.TotalErrors)
		assert.Equal(t, int64(70), result.ProcessedUsers)
		assert.Equal(t, int64(70), result.CastsBackfilled)
		assert.Equal(t, types.JobCompleted, checkpoints.cp.Status)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(1)}
		pager := newFakePager(func(fid int64, token string, call int) (*hub.CastsPage, error) {
			if call == 1 {
				return nil, fmt.Errorf("temporary hiccup")
			}
			return onePagePerFid(fid, token, call)
		})

		b := NewBackfiller(users, &fakeCheckpointStore{}, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(1), result.CastsBackfilled)
		assert.Equal(t, int64(0), result.TotalErrors)
		assert.Equal(t, 2, pager.callCount(1))
	})

	t.Run("cyclic pagination stops at the page cap", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(1)}
		pager := newFakePager(func(fid int64, token string, call int) (*hub.CastsPage, error) {
			// Token always points back at itself
			return &hub.CastsPage{
				Messages:      []hub.Message{*castAddMessage(fid, fmt.Sprintf("0x%x-%d", fid, call), "looping")},
				NextPageToken: "again",
			}, nil
		})

		cfg := testBackfillConfig()
		cfg.MaxPagesPerUser = 5
		b := NewBackfiller(users, &fakeCheckpointStore{}, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, cfg)
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 5, pager.callCount(1))
		assert.Equal(t, int64(5), result.CastsBackfilled)
		assert.Equal(t, int64(0), result.TotalErrors, "hitting the cap is not a failure")
	})

	t.Run("hub error result ends pagination with partial casts", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(1)}
		pager := newFakePager(func(fid int64, token string, call int) (*hub.CastsPage, error) {
			if token == "" {
				return &hub.CastsPage{
					Messages:      []hub.Message{*castAddMessage(fid, "0xpartial", "first page")},
					NextPageToken: "p2",
				}, nil
			}
			return nil, &hub.APIError{StatusCode: 400, ErrCode: "bad_request", Details: "unknown fid"}
		})

		b := NewBackfiller(users, &fakeCheckpointStore{}, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		result, err := b.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(1), result.CastsBackfilled)
		assert.Equal(t, int64(0), result.TotalErrors)
		assert.Empty(t, result.FailedFids)
	})

	t.Run("checkpoint is written after every page", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(120)}
		checkpoints := &fakeCheckpointStore{}
		pager := newFakePager(onePagePerFid)

		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		_, err := b.Run(ctx)
		require.NoError(t, err)

		// Initial write, one per page, final completion write
		assert.Equal(t, 1+3+1, checkpoints.upserts)
	})

	t.Run("cancellation leaves the checkpoint resumable", func(t *testing.T) {
		users := &fakeUserSource{users: makeUsers(120)}
		checkpoints := &fakeCheckpointStore{}

		runCtx, cancel := context.WithCancel(ctx)
		pager := newFakePager(func(fid int64, token string, call int) (*hub.CastsPage, error) {
			if fid > 50 {
				cancel()
			}
			return onePagePerFid(fid, token, call)
		})

		b := NewBackfiller(users, checkpoints, pager, NewSink(newFakeCastStore(), nil), NewReporter(nil), nil, testBackfillConfig())
		_, err := b.Run(runCtx)
		require.Error(t, err)

		require.NotNil(t, checkpoints.cp)
		assert.Equal(t, types.JobRunning, checkpoints.cp.Status, "interrupted run stays resumable")
	})
}
