package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/models"
	"github.com/cast-indexer/internal/types"
)

// fakeCastReader serves a fixed cast set
type fakeCastReader struct {
	casts map[string]*models.Cast
}

func (f *fakeCastReader) GetByHash(ctx context.Context, hash string) (*models.Cast, error) {
	cast, ok := f.casts[hash]
	if !ok {
		return nil, apperrors.NewNotFoundError("cast", hash)
	}
	return cast, nil
}

func (f *fakeCastReader) ListByFid(ctx context.Context, fid int64, limit int) ([]*models.Cast, error) {
	var result []*models.Cast
	for _, cast := range f.casts {
		if cast.Fid == fid {
			result = append(result, cast)
		}
	}
	return result, nil
}

func (f *fakeCastReader) ListRecent(ctx context.Context, limit int) ([]*models.Cast, error) {
	var result []*models.Cast
	for _, cast := range f.casts {
		result = append(result, cast)
	}
	return result, nil
}

func (f *fakeCastReader) ListReplies(ctx context.Context, parentHash string, limit int) ([]*models.Cast, error) {
	var result []*models.Cast
	for _, cast := range f.casts {
		if cast.ParentCastHash != nil && *cast.ParentCastHash == parentHash {
			result = append(result, cast)
		}
	}
	return result, nil
}

func (f *fakeCastReader) Count(ctx context.Context) (int64, error) {
	return int64(len(f.casts)), nil
}

func (f *fakeCastReader) CountByFid(ctx context.Context, fid int64) (int64, error) {
	casts, _ := f.ListByFid(ctx, fid, 0)
	return int64(len(casts)), nil
}

// fakeUserReader serves a fixed user set
type fakeUserReader struct {
	users map[int64]*models.User
}

func (f *fakeUserReader) GetByFid(ctx context.Context, fid int64) (*models.User, error) {
	user, ok := f.users[fid]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", fid)
	}
	return user, nil
}

func (f *fakeUserReader) CountEligible(ctx context.Context, minScore float64) (int64, error) {
	return int64(len(f.users)), nil
}

// fakeCheckpointReader serves one checkpoint
type fakeCheckpointReader struct {
	cp *models.BackfillCheckpoint
}

func (f *fakeCheckpointReader) Get(ctx context.Context, jobName string) (*models.BackfillCheckpoint, error) {
	if f.cp == nil || f.cp.JobName != jobName {
		return nil, nil
	}
	return f.cp, nil
}

func testRouter() *mux.Router {
	parentHash := "aa11"
	casts := &fakeCastReader{casts: map[string]*models.Cast{
		"aa11": {Hash: "aa11", Fid: 42, Text: "root", Timestamp: time.Now()},
		"bb22": {Hash: "bb22", Fid: 43, Text: "reply", ParentCastHash: &parentHash, IsReply: true},
	}}
	users := &fakeUserReader{users: map[int64]*models.User{
		42: {Fid: 42, IsActive: true},
	}}
	checkpoints := &fakeCheckpointReader{cp: &models.BackfillCheckpoint{
		JobName: "backfill-casts",
		Status:  types.JobRunning,
	}}

	r := mux.NewRouter()
	h := NewHandlers(casts, users, checkpoints)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/casts/recent", h.RecentCasts).Methods(http.MethodGet)
	v1.HandleFunc("/casts/{hash}", h.CastByHash).Methods(http.MethodGet)
	v1.HandleFunc("/casts/{hash}/replies", h.CastReplies).Methods(http.MethodGet)
	v1.HandleFunc("/users/{fid}", h.UserByFid).Methods(http.MethodGet)
	v1.HandleFunc("/users/{fid}/casts", h.CastsByFid).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}", h.JobStatus).Methods(http.MethodGet)
	return r
}

func doRequest(t *testing.T, router *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	router := testRouter()

	t.Run("health", func(t *testing.T) {
		rec := doRequest(t, router, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cast by hash normalizes the prefix", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/casts/0xAA11")
		require.Equal(t, http.StatusOK, rec.Code)

		var cast models.Cast
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cast))
		assert.Equal(t, "aa11", cast.Hash)
		assert.Equal(t, int64(42), cast.Fid)
	})

	t.Run("unknown cast is 404", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/casts/ffff")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("replies", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/casts/aa11/replies")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
	})

	t.Run("recent casts", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/casts/recent?limit=10")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
	})

	t.Run("user by fid", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/users/42")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/users/9999")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed fid is 400", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/users/banana")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(t, router, "/api/v1/users/-5/casts")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("casts by fid includes the total", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/users/42/casts")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Fid   int64 `json:"fid"`
			Count int   `json:"count"`
			Total int64 `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(42), body.Fid)
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, int64(1), body.Total)
	})

	t.Run("stats", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/stats")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]int64
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(2), body["casts"])
		assert.Equal(t, int64(1), body["activeUsers"])
	})

	t.Run("job status", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/jobs/backfill-casts")
		require.Equal(t, http.StatusOK, rec.Code)

		var cp models.BackfillCheckpoint
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))
		assert.Equal(t, types.JobRunning, cp.Status)
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		rec := doRequest(t, router, "/api/v1/jobs/never-ran")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
