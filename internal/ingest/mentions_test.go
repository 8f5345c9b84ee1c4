package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/cast-indexer/internal/hub"
)

// fakeUsernameStore maps fids to usernames
type fakeUsernameStore struct {
	usernames map[int64]string
	err       error
}

func (s *fakeUsernameStore) GetUsername(ctx context.Context, fid int64) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	username, ok := s.usernames[fid]
	return username, ok && username != "", nil
}

// fakeProofSource serves username proofs per fid
type fakeProofSource struct {
	proofs map[int64][]hub.UsernameProof
	err    error
}

func (s *fakeProofSource) UsernameProofsByFid(ctx context.Context, fid int64) ([]hub.UsernameProof, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.proofs[fid], nil
}

func TestReconstructText(t *testing.T) {
	ctx := context.Background()
	store := &fakeUsernameStore{usernames: map[int64]string{
		1: "alice",
		2: "bob",
	}}

	t.Run("no mentions returns text unchanged", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		assert.Equal(t, "hello world", r.ReconstructText(ctx, "hello world", nil, nil))
	})

	t.Run("inserts username at position", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		got := r.ReconstructText(ctx, "gm  and others", []int64{1}, []int{3})
		assert.Equal(t, "gm @alice and others", got)
	})

	t.Run("multiple mentions keep earlier offsets valid", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		got := r.ReconstructText(ctx, "gm  and ", []int64{1, 2}, []int{3, 8})
		assert.Equal(t, "gm @alice and @bob", got)
	})

	t.Run("duplicate positions keep declared order", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		got := r.ReconstructText(ctx, "hello world", []int64{1, 2}, []int{5, 5})
		assert.Equal(t, "hello@alice@bob world", got)
	})

	t.Run("out of range positions are clamped", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		assert.Equal(t, "hi@alice", r.ReconstructText(ctx, "hi", []int64{1}, []int{99}))
		assert.Equal(t, "@alicehi", r.ReconstructText(ctx, "hi", []int64{1}, []int{-3}))
	})

	t.Run("mismatched array lengths keep raw text", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		assert.Equal(t, "hello", r.ReconstructText(ctx, "hello", []int64{1, 2}, []int{0}))
	})

	t.Run("unknown fid falls back to numeric placeholder", func(t *testing.T) {
		r := NewMentionResolver(store, nil, nil)
		assert.Equal(t, "gm @777", r.ReconstructText(ctx, "gm ", []int64{777}, []int{3}))
	})

	t.Run("hub proofs back up the store", func(t *testing.T) {
		proofs := &fakeProofSource{proofs: map[int64][]hub.UsernameProof{
			777: {
				{Name: "old-name", Timestamp: 100},
				{Name: "carol", Timestamp: 200},
			},
		}}
		r := NewMentionResolver(store, nil, proofs)
		assert.Equal(t, "gm @carol", r.ReconstructText(ctx, "gm ", []int64{777}, []int{3}))
	})

	t.Run("store errors degrade to fallback", func(t *testing.T) {
		r := NewMentionResolver(&fakeUsernameStore{err: fmt.Errorf("down")}, nil, nil)
		assert.Equal(t, "gm @5", r.ReconstructText(ctx, "gm ", []int64{5}, []int{3}))
	})
}

func TestReconstructTextProperties(t *testing.T) {
	ctx := context.Background()
	resolver := NewMentionResolver(&fakeUsernameStore{usernames: map[int64]string{}}, nil, nil)

	properties := gopter.NewProperties(nil)

	// Every mention adds exactly one "@<fid>" token; total growth is the sum
	// of the token lengths regardless of positions
	properties.Property("output length grows by the inserted tokens", prop.ForAll(
		func(text string, fids []int64, positions []int) bool {
			n := len(fids)
			if len(positions) < n {
				n = len(positions)
			}
			fids, positions = fids[:n], positions[:n]

			got := resolver.ReconstructText(ctx, text, fids, positions)

			expected := len(text)
			for _, fid := range fids {
				expected += len(fmt.Sprintf("@%d", fid))
			}
			return len(got) == expected
		},
		gen.AlphaString(),
		gen.SliceOf(gen.Int64Range(1, 1_000_000)),
		gen.SliceOf(gen.IntRange(-10, 200)),
	))

	// Removing the inserted tokens recovers the original text
	properties.Property("original text survives insertion", prop.ForAll(
		func(text string, fid int64, position int) bool {
			got := resolver.ReconstructText(ctx, text, []int64{fid}, []int{position})
			return strings.Replace(got, fmt.Sprintf("@%d", fid), "", 1) == text
		},
		gen.AlphaString(),
		gen.Int64Range(1, 1_000_000),
		gen.IntRange(-10, 200),
	))

	properties.TestingRun(t)
}
