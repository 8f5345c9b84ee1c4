package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/models"
)

// CastReader is the cast query surface the handlers need
type CastReader interface {
	GetByHash(ctx context.Context, hash string) (*models.Cast, error)
	ListByFid(ctx context.Context, fid int64, limit int) ([]*models.Cast, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Cast, error)
	ListReplies(ctx context.Context, parentHash string, limit int) ([]*models.Cast, error)
	Count(ctx context.Context) (int64, error)
	CountByFid(ctx context.Context, fid int64) (int64, error)
}

// UserReader is the user query surface the handlers need
type UserReader interface {
	GetByFid(ctx context.Context, fid int64) (*models.User, error)
	CountEligible(ctx context.Context, minScore float64) (int64, error)
}

// CheckpointReader reads backfill job state
type CheckpointReader interface {
	Get(ctx context.Context, jobName string) (*models.BackfillCheckpoint, error)
}

// Handlers holds the query API handlers
type Handlers struct {
	casts       CastReader
	users       UserReader
	checkpoints CheckpointReader
}

// NewHandlers creates the query API handlers
func NewHandlers(casts CastReader, users UserReader, checkpoints CheckpointReader) *Handlers {
	return &Handlers{casts: casts, users: users, checkpoints: checkpoints}
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CastByHash returns a single cast by its identity hash
func (h *Handlers) CastByHash(w http.ResponseWriter, r *http.Request) {
	hash := hub.NormalizeHash(mux.Vars(r)["hash"])
	if hash == "" {
		writeError(w, apperrors.NewValidationError("hash must not be empty", nil))
		return
	}

	cast, err := h.casts.GetByHash(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cast)
}

// CastReplies returns the replies to a cast, oldest first
func (h *Handlers) CastReplies(w http.ResponseWriter, r *http.Request) {
	hash := hub.NormalizeHash(mux.Vars(r)["hash"])
	if hash == "" {
		writeError(w, apperrors.NewValidationError("hash must not be empty", nil))
		return
	}

	replies, err := h.casts.ListReplies(r.Context(), hash, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"replies": orEmptyCasts(replies),
		"count":   len(replies),
	})
}

// RecentCasts returns the most recently authored casts
func (h *Handlers) RecentCasts(w http.ResponseWriter, r *http.Request) {
	casts, err := h.casts.ListRecent(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"casts": orEmptyCasts(casts),
		"count": len(casts),
	})
}

// UserByFid returns one user row
func (h *Handlers) UserByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := pathFid(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.GetByFid(r.Context(), fid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CastsByFid returns a user's stored casts, newest first
func (h *Handlers) CastsByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := pathFid(r)
	if err != nil {
		writeError(w, err)
		return
	}

	casts, err := h.casts.ListByFid(r.Context(), fid, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}

	total, err := h.casts.CountByFid(r.Context(), fid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fid":   fid,
		"casts": orEmptyCasts(casts),
		"count": len(casts),
		"total": total,
	})
}

// Stats returns store-level counts
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	castCount, err := h.casts.Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	eligible, err := h.users.CountEligible(r.Context(), 0)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"casts":       castCount,
		"activeUsers": eligible,
	})
}

// JobStatus returns the checkpoint of a named backfill job
func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	cp, err := h.checkpoints.Get(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	if cp == nil {
		writeError(w, apperrors.NewNotFoundError("job", name))
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func pathFid(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["fid"]
	fid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fid <= 0 {
		return 0, apperrors.NewValidationError("fid must be a positive integer", map[string]interface{}{
			"fid": raw,
		})
	}
	return fid, nil
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func orEmptyCasts(casts []*models.Cast) []*models.Cast {
	if casts == nil {
		return []*models.Cast{}
	}
	return casts
}
