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
	"github.com/cast-indexer/internal/profile"
	"github.com/cast-indexer/internal/types"
)

// EventSource long-polls the hub event feed
type EventSource interface {
	Events(ctx context.Context, fromEventID uint64) (*hub.EventsPage, error)
}

// ProfileLookup fetches a single profile from the profile API
type ProfileLookup interface {
	UserByFid(ctx context.Context, fid int64) (*profile.User, error)
}

// ListenerUserStore is the user persistence surface the listener needs to
// guarantee a row exists for every cast author it stores
type ListenerUserStore interface {
	Exists(ctx context.Context, fid int64) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Upsert(ctx context.Context, user *models.User) error
}

// ListenerStats is a snapshot of listener counters
type ListenerStats struct {
	EventsSeen  int64
	CastsStored int64
	StaleCasts  int64
	Failures    int64
	Restarts    int64
}

// Listener consumes the live hub event feed and pushes fresh cast-add
// messages through the dedup sink. It is a handle: Start launches the
// consume loop, Stop shuts it down and waits for it to drain. Feed failures
// reconnect indefinitely with a fixed delay, counting each restart.
type Listener struct {
	events   EventSource
	profiles ProfileLookup
	users    ListenerUserStore
	resolver *MentionResolver
	sink     *Sink
	audit    Auditor
	cfg      config.ListenerConfig

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	doneCh      chan struct{}
	fromEventID uint64
	stats       ListenerStats
}

// NewListener creates a listener handle. profiles and audit may be nil.
func NewListener(
	events EventSource,
	profiles ProfileLookup,
	users ListenerUserStore,
	resolver *MentionResolver,
	sink *Sink,
	audit Auditor,
	cfg config.ListenerConfig,
) *Listener {
	return &Listener{
		events:   events,
		profiles: profiles,
		users:    users,
		resolver: resolver,
		sink:     sink,
		audit:    audit,
		cfg:      cfg,
	}
}

// Start launches the consume loop. Calling Start on a running listener is a
// logged no-op, never a second loop.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		logging.FromContext(ctx).Warn("Listener already running, ignoring start")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.doneCh = done
	l.running = true

	// Each run closes the channel it was launched with, even if a restart
	// has already swapped in a fresh one
	go func() {
		defer close(done)
		l.run(runCtx)
	}()
}

// Stop cancels the consume loop and blocks until it has drained. Stopping a
// stopped listener is a no-op.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.doneCh
	l.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the consume loop is live
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stats returns a snapshot of the listener counters
func (l *Listener) Stats() ListenerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Listener) run(ctx context.Context) {
	runID := uuid.NewString()
	logger := logging.FromContext(ctx).WithField("runId", runID)
	ctx = logging.WithLogger(ctx, logger)

	logger.Info("Feed listener started")

	for {
		if ctx.Err() != nil {
			logger.Info("Feed listener stopped")
			return
		}

		page, err := l.events.Events(ctx, l.nextEventID())
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Feed listener stopped")
				return
			}
			restarts := l.bumpRestarts()
			logger.WithError(err).WithField("restarts", restarts).Warn("Event feed failed, reconnecting")
			if sleepCtx(ctx, l.cfg.ReconnectDelay) != nil {
				return
			}
			continue
		}

		for i := range page.Events {
			l.processEvent(ctx, runID, &page.Events[i])
		}

		if page.NextPageEventID > 0 {
			l.setNextEventID(page.NextPageEventID)
		}
		if len(page.Events) == 0 {
			if sleepCtx(ctx, l.cfg.PollInterval) != nil {
				return
			}
		}
	}
}

// processEvent stores one feed event if it carries a fresh cast-add message.
// Failures are counted and logged; the loop never dies on a single event.
func (l *Listener) processEvent(ctx context.Context, runID string, event *hub.Event) {
	if event.Type != hub.EventTypeMergeMessage || event.MergeMessageBody == nil {
		return
	}
	msg := event.MergeMessageBody.Message
	if msg == nil || !msg.IsCastAdd() {
		return
	}

	l.mu.Lock()
	l.stats.EventsSeen++
	l.mu.Unlock()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"fid":  msg.Data.Fid,
		"hash": msg.Hash,
	})

	castTime := hub.FarcasterEpochToTime(msg.Data.Timestamp)
	if l.cfg.StalenessWindow > 0 && time.Since(castTime) > l.cfg.StalenessWindow {
		l.mu.Lock()
		l.stats.StaleCasts++
		l.mu.Unlock()
		logger.WithField("castTime", castTime).Debug("Skipping stale cast")
		return
	}

	l.ensureUserExists(ctx, msg.Data.Fid)

	body := msg.Data.CastAddBody
	text := l.resolver.ReconstructText(ctx, body.Text, body.Mentions, body.MentionsPositions)

	stored, err := l.sink.Ingest(ctx, msg, IngestOptions{
		ProcessedBy: types.SourceListener,
		DisplayText: text,
	})
	if err != nil {
		l.mu.Lock()
		l.stats.Failures++
		l.mu.Unlock()
		logger.WithError(err).Error("Failed to store live cast")
		l.recordAudit(ctx, runID, msg.Data.Fid, types.OutcomeFailed, 0, err)
		return
	}
	if !stored {
		return
	}

	l.mu.Lock()
	l.stats.CastsStored++
	l.mu.Unlock()
	logger.Debug("Stored live cast")
	l.recordAudit(ctx, runID, msg.Data.Fid, types.OutcomeOK, 1, nil)
}

// ensureUserExists guarantees a user row for fid before its cast is stored,
// syncing the profile when the API has one and writing a placeholder row
// otherwise. Storage trouble here never blocks the cast itself.
func (l *Listener) ensureUserExists(ctx context.Context, fid int64) {
	logger := logging.FromContext(ctx).WithField("fid", fid)

	exists, err := l.users.Exists(ctx, fid)
	if err != nil {
		logger.WithError(err).Warn("Failed to check user existence")
		return
	}
	if exists {
		return
	}

	if l.profiles != nil {
		fetched, err := l.profiles.UserByFid(ctx, fid)
		if err != nil {
			logger.WithError(err).Warn("Profile fetch failed, storing placeholder user")
		} else if fetched != nil {
			if err := l.users.Upsert(ctx, fetched.ToUser(types.SourceListener)); err != nil {
				logger.WithError(err).Warn("Failed to store synced user")
			}
			return
		}
	}

	if err := l.users.Create(ctx, models.MinimalUser(fid, types.SourceListener)); err != nil {
		logger.WithError(err).Warn("Failed to store placeholder user")
	}
}

func (l *Listener) recordAudit(ctx context.Context, runID string, fid int64, outcome types.IngestOutcome, casts int64, cause error) {
	if l.audit == nil {
		return
	}

	event := &models.IngestEvent{
		RunID:     runID,
		JobName:   "feed-listener",
		Source:    types.SourceListener,
		Fid:       fid,
		Outcome:   outcome,
		CastCount: casts,
		EventTime: time.Now(),
	}
	if cause != nil {
		event.Error = fmt.Sprintf("%v", cause)
	}

	if err := l.audit.Insert(ctx, []*models.IngestEvent{event}); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to write ingest audit event")
	}
}

func (l *Listener) nextEventID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fromEventID
}

func (l *Listener) setNextEventID(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fromEventID = id
}

func (l *Listener) bumpRestarts() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Restarts++
	return l.stats.Restarts
}
