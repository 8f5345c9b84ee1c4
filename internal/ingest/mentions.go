package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/logging"
)

// UsernameStore resolves fids to usernames from the local user store
type UsernameStore interface {
	GetUsername(ctx context.Context, fid int64) (string, bool, error)
}

// UsernameCache is an optional cache in front of store and hub lookups
type UsernameCache interface {
	GetUsername(ctx context.Context, fid int64) (string, bool, error)
	SetUsername(ctx context.Context, fid int64, username string) error
}

// ProofSource fetches username proofs from the hub, the resolver's last
// lookup before falling back to a numeric placeholder
type ProofSource interface {
	UsernameProofsByFid(ctx context.Context, fid int64) ([]hub.UsernameProof, error)
}

// MentionResolver rebuilds human-readable cast text from the raw body text
// plus parallel mention fid and byte-position arrays.
type MentionResolver struct {
	store  UsernameStore
	cache  UsernameCache
	proofs ProofSource
}

// NewMentionResolver creates a resolver. cache and proofs may be nil; missing
// sources just shorten the lookup chain.
func NewMentionResolver(store UsernameStore, cache UsernameCache, proofs ProofSource) *MentionResolver {
	return &MentionResolver{store: store, cache: cache, proofs: proofs}
}

// ReconstructText splices "@username" tokens into text at the given byte
// positions. Insertions run from the highest position down so earlier offsets
// stay valid, and equal positions keep their array order in the output.
// Positions outside the text are clamped to its bounds. Mismatched array
// lengths leave the text unchanged.
func (r *MentionResolver) ReconstructText(ctx context.Context, text string, mentions []int64, positions []int) string {
	if len(mentions) == 0 || len(mentions) != len(positions) {
		if len(mentions) != len(positions) {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"mentions":  len(mentions),
				"positions": len(positions),
			}).Warn("Mention and position arrays differ in length, keeping raw text")
		}
		return text
	}

	type insertion struct {
		position int
		index    int
		username string
	}

	inserts := make([]insertion, len(mentions))
	for i, fid := range mentions {
		inserts[i] = insertion{
			position: positions[i],
			index:    i,
			username: r.resolveUsername(ctx, fid),
		}
	}

	// Highest position first so earlier offsets stay valid. Ties go to the
	// later array element, which keeps duplicate-position mentions in their
	// declared order in the output.
	sort.Slice(inserts, func(i, j int) bool {
		if inserts[i].position != inserts[j].position {
			return inserts[i].position > inserts[j].position
		}
		return inserts[i].index > inserts[j].index
	})

	result := []byte(text)
	for _, ins := range inserts {
		pos := ins.position
		if pos < 0 {
			pos = 0
		}
		if pos > len(result) {
			pos = len(result)
		}
		token := []byte("@" + ins.username)
		result = append(result[:pos], append(token, result[pos:]...)...)
	}
	return string(result)
}

// resolveUsername looks up fid through cache, store and hub proofs in turn,
// falling back to the numeric placeholder "<fid>" when every source misses
func (r *MentionResolver) resolveUsername(ctx context.Context, fid int64) string {
	logger := logging.FromContext(ctx).WithField("fid", fid)

	if r.cache != nil {
		username, ok, err := r.cache.GetUsername(ctx, fid)
		if err != nil {
			logger.WithError(err).Warn("Username cache lookup failed")
		} else if ok {
			return username
		}
	}

	if r.store != nil {
		username, ok, err := r.store.GetUsername(ctx, fid)
		if err != nil {
			logger.WithError(err).Warn("Username store lookup failed")
		} else if ok && username != "" {
			r.cacheUsername(ctx, fid, username)
			return username
		}
	}

	if r.proofs != nil {
		proofs, err := r.proofs.UsernameProofsByFid(ctx, fid)
		if err != nil {
			logger.WithError(err).Warn("Username proof lookup failed")
		} else {
			// Most recent proof wins
			var username string
			var latest int64
			for _, proof := range proofs {
				if proof.Name != "" && proof.Timestamp >= latest {
					username = proof.Name
					latest = proof.Timestamp
				}
			}
			if username != "" {
				r.cacheUsername(ctx, fid, username)
				return username
			}
		}
	}

	return fmt.Sprintf("%d", fid)
}

func (r *MentionResolver) cacheUsername(ctx context.Context, fid int64, username string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetUsername(ctx, fid, username); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("fid", fid).Warn("Failed to cache username")
	}
}
