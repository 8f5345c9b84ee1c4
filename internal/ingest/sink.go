// Package ingest implements the ingestion pipeline: the checkpointed backfill
// scheduler, the live feed listener and the shared normalize-dedup-persist
// sink both paths converge on.
package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/logging"
	"github.com/cast-indexer/internal/models"
	"github.com/cast-indexer/internal/types"
)

// CastStore is the slice of cast persistence the sink needs
type CastStore interface {
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Create(ctx context.Context, cast *models.Cast) error
}

// HashCache is an optional fast path in front of the existence check
type HashCache interface {
	SeenHash(ctx context.Context, hash string) (bool, error)
	MarkHash(ctx context.Context, hash string) error
}

// IngestOptions carries per-path parameters into the sink
type IngestOptions struct {
	// ProcessedBy records which pipeline path persisted the cast
	ProcessedBy types.IngestSource
	// DisplayText, when non-empty, replaces the raw body text in the stored
	// record (the listener passes mention-reconstructed text here). The raw
	// text is always kept in OriginalText.
	DisplayText string
}

// Sink converts raw hub messages into stored casts with an idempotent,
// dedup-by-identity-hash insert. Ingesting the same message twice, from
// either pipeline path and under concurrency, mutates the store at most once.
type Sink struct {
	casts CastStore
	cache HashCache
}

// NewSink creates a sink. cache may be nil.
func NewSink(casts CastStore, cache HashCache) *Sink {
	return &Sink{casts: casts, cache: cache}
}

// Ingest normalizes and persists one cast-add message. It returns true only
// when a new row was inserted. Malformed or already-ingested messages return
// (false, nil); only store failures other than a duplicate race produce an
// error, and callers treat those as per-record failures, never batch aborts.
func (s *Sink) Ingest(ctx context.Context, msg *hub.Message, opts IngestOptions) (bool, error) {
	logger := logging.FromContext(ctx)

	if msg == nil || !msg.IsCastAdd() || msg.Data.CastAddBody.Text == "" ||
		msg.Data.Fid == 0 || msg.Hash == "" {
		return false, nil
	}

	body := msg.Data.CastAddBody
	hash := hub.NormalizeHash(msg.Hash)

	if s.cache != nil {
		seen, err := s.cache.SeenHash(ctx, hash)
		if err != nil {
			// Cache trouble never blocks ingestion; the store check decides
			logger.WithError(err).Warn("Hash cache lookup failed")
		} else if seen {
			return false, nil
		}
	}

	exists, err := s.casts.ExistsByHash(ctx, hash)
	if err != nil {
		return false, err
	}
	if exists {
		s.markSeen(ctx, hash)
		return false, nil
	}

	isReply := body.ParentCastID != nil && body.ParentCastID.Fid != 0 && body.ParentCastID.Hash != ""
	isQuoteCast := false
	for _, embed := range body.Embeds {
		if embed.CastID != nil && embed.CastID.Fid != 0 && embed.CastID.Hash != "" {
			isQuoteCast = true
			break
		}
	}
	isMention := len(body.Mentions) > 0

	text := body.Text
	if opts.DisplayText != "" {
		text = opts.DisplayText
	}

	cast := &models.Cast{
		Hash:              hash,
		Fid:               msg.Data.Fid,
		Text:              text,
		OriginalText:      body.Text,
		Mentions:          body.Mentions,
		MentionsPositions: body.MentionsPositions,
		Timestamp:         hub.FarcasterEpochToTime(msg.Data.Timestamp),
		MessageType:       msg.Data.Type,
		Embeds:            marshalEmbeds(ctx, body.Embeds),
		ProcessedBy:       string(opts.ProcessedBy),
		IsReply:           isReply,
		IsQuoteCast:       isQuoteCast,
		IsMention:         isMention,
	}
	if isReply {
		parentFid := body.ParentCastID.Fid
		parentHash := hub.NormalizeHash(body.ParentCastID.Hash)
		cast.ParentCastFid = &parentFid
		cast.ParentCastHash = &parentHash
	}

	if err := s.casts.Create(ctx, cast); err != nil {
		if apperrors.IsDuplicate(err) {
			// Lost a race with the other ingestion path; the record is stored
			s.markSeen(ctx, hash)
			return false, nil
		}
		return false, err
	}

	s.markSeen(ctx, hash)
	return true, nil
}

func (s *Sink) markSeen(ctx context.Context, hash string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkHash(ctx, hash); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to mark hash in cache")
	}
}

// marshalEmbeds serializes the embed list. On a marshal failure the string
// fields are stripped of control characters and the marshal retried once;
// a second failure stores NULL embeds rather than failing the record.
func marshalEmbeds(ctx context.Context, embeds []hub.Embed) json.RawMessage {
	if len(embeds) == 0 {
		return nil
	}

	data, err := json.Marshal(embeds)
	if err == nil {
		return data
	}

	sanitized := make([]hub.Embed, len(embeds))
	for i, embed := range embeds {
		sanitized[i] = embed
		sanitized[i].URL = stripControlChars(embed.URL)
	}

	data, err = json.Marshal(sanitized)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Dropping unserializable embeds")
		return nil
	}
	return data
}

// stripControlChars removes non-printable control characters from s
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
