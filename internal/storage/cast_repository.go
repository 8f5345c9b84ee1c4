package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres unique violation, the sole concurrency-safety mechanism between
// the backfill and listener paths inserting the same hash
const pgUniqueViolation = "23505"

// CastRepository handles cast persistence. The hash column's uniqueness
// constraint backs the dedup sink's at-most-once guarantee.
type CastRepository struct {
	db *PostgresDB
}

// NewCastRepository creates a new cast repository
func NewCastRepository(db *PostgresDB) *CastRepository {
	return &CastRepository{db: db}
}

const castColumns = `hash, fid, text, original_text, mentions, mentions_positions,
	timestamp, message_type, parent_cast_fid, parent_cast_hash, embeds,
	processed_by, is_reply, is_quote_cast, is_mention, created_at`

// ExistsByHash checks whether a cast with the given identity hash is stored
func (r *CastRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM casts WHERE hash = $1)`

	if err := r.db.Pool().QueryRow(ctx, query, hash).Scan(&exists); err != nil {
		return false, apperrors.NewDatabaseError("check cast existence", err)
	}
	return exists, nil
}

// Create inserts a cast. A concurrent insert of the same hash surfaces as a
// categorized duplicate error so the sink can treat the race as a no-op.
func (r *CastRepository) Create(ctx context.Context, cast *models.Cast) error {
	if cast.CreatedAt.IsZero() {
		cast.CreatedAt = time.Now()
	}

	mentionsJSON, err := json.Marshal(orEmptyInt64(cast.Mentions))
	if err != nil {
		return fmt.Errorf("failed to marshal mentions: %w", err)
	}
	positionsJSON, err := json.Marshal(orEmptyInt(cast.MentionsPositions))
	if err != nil {
		return fmt.Errorf("failed to marshal mention positions: %w", err)
	}

	query := `
		INSERT INTO casts (
			hash, fid, text, original_text, mentions, mentions_positions,
			timestamp, message_type, parent_cast_fid, parent_cast_hash, embeds,
			processed_by, is_reply, is_quote_cast, is_mention, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		cast.Hash,
		cast.Fid,
		cast.Text,
		cast.OriginalText,
		mentionsJSON,
		positionsJSON,
		cast.Timestamp,
		cast.MessageType,
		cast.ParentCastFid,
		cast.ParentCastHash,
		[]byte(cast.Embeds),
		cast.ProcessedBy,
		cast.IsReply,
		cast.IsQuoteCast,
		cast.IsMention,
		cast.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.NewDuplicateCastError(cast.Hash)
		}
		return apperrors.NewDatabaseError("create cast", err)
	}
	return nil
}

// GetByHash retrieves a cast by its identity hash
func (r *CastRepository) GetByHash(ctx context.Context, hash string) (*models.Cast, error) {
	query := fmt.Sprintf(`SELECT %s FROM casts WHERE hash = $1`, castColumns)

	row := r.db.Pool().QueryRow(ctx, query, hash)
	cast, err := scanCast(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("cast", hash)
		}
		return nil, apperrors.NewDatabaseError("get cast", err)
	}
	return cast, nil
}

// ListByFid retrieves casts authored by fid, newest first
func (r *CastRepository) ListByFid(ctx context.Context, fid int64, limit int) ([]*models.Cast, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM casts
		WHERE fid = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, castColumns)

	rows, err := r.db.Pool().Query(ctx, query, fid, clampLimit(limit))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list casts by fid", err)
	}
	defer rows.Close()

	return scanCasts(rows)
}

// ListRecent retrieves the most recently authored casts
func (r *CastRepository) ListRecent(ctx context.Context, limit int) ([]*models.Cast, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM casts
		ORDER BY timestamp DESC
		LIMIT $1
	`, castColumns)

	rows, err := r.db.Pool().Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list recent casts", err)
	}
	defer rows.Close()

	return scanCasts(rows)
}

// ListReplies retrieves replies to the cast with the given parent hash,
// oldest first
func (r *CastRepository) ListReplies(ctx context.Context, parentHash string, limit int) ([]*models.Cast, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM casts
		WHERE parent_cast_hash = $1 AND is_reply = TRUE
		ORDER BY timestamp ASC
		LIMIT $2
	`, castColumns)

	rows, err := r.db.Pool().Query(ctx, query, parentHash, clampLimit(limit))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list replies", err)
	}
	defer rows.Close()

	return scanCasts(rows)
}

// Count returns the total number of stored casts
func (r *CastRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM casts`).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count casts", err)
	}
	return count, nil
}

// CountByFid returns the number of stored casts authored by fid
func (r *CastRepository) CountByFid(ctx context.Context, fid int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM casts WHERE fid = $1`
	if err := r.db.Pool().QueryRow(ctx, query, fid).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count casts by fid", err)
	}
	return count, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func orEmptyInt64(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}

func orEmptyInt(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func scanCast(row rowScanner) (*models.Cast, error) {
	var cast models.Cast
	var mentionsJSON, positionsJSON, embeds []byte

	err := row.Scan(
		&cast.Hash,
		&cast.Fid,
		&cast.Text,
		&cast.OriginalText,
		&mentionsJSON,
		&positionsJSON,
		&cast.Timestamp,
		&cast.MessageType,
		&cast.ParentCastFid,
		&cast.ParentCastHash,
		&embeds,
		&cast.ProcessedBy,
		&cast.IsReply,
		&cast.IsQuoteCast,
		&cast.IsMention,
		&cast.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(mentionsJSON) > 0 {
		if err := json.Unmarshal(mentionsJSON, &cast.Mentions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mentions: %w", err)
		}
	}
	if len(positionsJSON) > 0 {
		if err := json.Unmarshal(positionsJSON, &cast.MentionsPositions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mention positions: %w", err)
		}
	}
	if len(embeds) > 0 {
		cast.Embeds = json.RawMessage(embeds)
	}
	return &cast, nil
}

func scanCasts(rows pgx.Rows) ([]*models.Cast, error) {
	var casts []*models.Cast
	for rows.Next() {
		cast, err := scanCast(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cast: %w", err)
		}
		casts = append(casts, cast)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating casts: %w", err)
	}
	return casts, nil
}
