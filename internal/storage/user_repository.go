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
)

// UserRepository handles user data persistence. Users are owned by the sync
// job; the ingestion pipeline reads them for population selection and mention
// lookups, and creates placeholder rows for unknown cast authors.
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `fid, username, display_name, pfp_url, bio_text,
	follower_count, following_count, score, power_badge,
	eth_addresses, sol_addresses, is_active, sync_source,
	last_synced, created_at, updated_at`

// CountEligible returns the number of active users at or above minScore
func (r *UserRepository) CountEligible(ctx context.Context, minScore float64) (int64, error) {
	query := `SELECT COUNT(*) FROM users WHERE is_active = TRUE AND score >= $1`

	var count int64
	if err := r.db.Pool().QueryRow(ctx, query, minScore).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count eligible users", err)
	}
	return count, nil
}

// ListEligible returns one page of active users at or above minScore, ordered
// by descending score with ascending fid as the tiebreak. The ordering is the
// backfill scheduler's stable pagination key.
func (r *UserRepository) ListEligible(ctx context.Context, minScore float64, limit, offset int64) ([]*models.User, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE is_active = TRUE AND score >= $1
		ORDER BY score DESC, fid ASC
		LIMIT $2 OFFSET $3
	`, userColumns)

	rows, err := r.db.Pool().Query(ctx, query, minScore, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list eligible users", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// GetByFid retrieves a user by fid. Returns a categorized not-found error
// when no row exists.
func (r *UserRepository) GetByFid(ctx context.Context, fid int64) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE fid = $1`, userColumns)

	row := r.db.Pool().QueryRow(ctx, query, fid)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", fid)
		}
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	return user, nil
}

// Exists checks if a user exists by fid
func (r *UserRepository) Exists(ctx context.Context, fid int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE fid = $1)`

	if err := r.db.Pool().QueryRow(ctx, query, fid).Scan(&exists); err != nil {
		return false, apperrors.NewDatabaseError("check user existence", err)
	}
	return exists, nil
}

// Upsert inserts or updates a user keyed by fid
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	ethJSON, solJSON, err := marshalAddresses(user)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (
			fid, username, display_name, pfp_url, bio_text,
			follower_count, following_count, score, power_badge,
			eth_addresses, sol_addresses, is_active, sync_source,
			last_synced, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (fid) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			pfp_url = EXCLUDED.pfp_url,
			bio_text = EXCLUDED.bio_text,
			follower_count = EXCLUDED.follower_count,
			following_count = EXCLUDED.following_count,
			score = EXCLUDED.score,
			power_badge = EXCLUDED.power_badge,
			eth_addresses = EXCLUDED.eth_addresses,
			sol_addresses = EXCLUDED.sol_addresses,
			is_active = EXCLUDED.is_active,
			sync_source = EXCLUDED.sync_source,
			last_synced = EXCLUDED.last_synced,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.Pool().Exec(ctx, query,
		user.Fid,
		user.Username,
		user.DisplayName,
		user.PfpURL,
		user.BioText,
		user.FollowerCount,
		user.FollowingCount,
		user.Score,
		user.PowerBadge,
		ethJSON,
		solJSON,
		user.IsActive,
		user.SyncSource,
		user.LastSynced,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert user", err)
	}
	return nil
}

// Create inserts a new user row. Existing rows are left untouched so a
// placeholder insert never clobbers synced profile data.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	ethJSON, solJSON, err := marshalAddresses(user)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (
			fid, username, display_name, pfp_url, bio_text,
			follower_count, following_count, score, power_badge,
			eth_addresses, sol_addresses, is_active, sync_source,
			last_synced, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (fid) DO NOTHING
	`

	_, err = r.db.Pool().Exec(ctx, query,
		user.Fid,
		user.Username,
		user.DisplayName,
		user.PfpURL,
		user.BioText,
		user.FollowerCount,
		user.FollowingCount,
		user.Score,
		user.PowerBadge,
		ethJSON,
		solJSON,
		user.IsActive,
		user.SyncSource,
		user.LastSynced,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create user", err)
	}
	return nil
}

// GetUsername returns the username stored for fid. The second return value
// reports whether a non-empty username exists.
func (r *UserRepository) GetUsername(ctx context.Context, fid int64) (string, bool, error) {
	var username *string
	query := `SELECT username FROM users WHERE fid = $1`

	err := r.db.Pool().QueryRow(ctx, query, fid).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, apperrors.NewDatabaseError("get username", err)
	}
	if username == nil || *username == "" {
		return "", false, nil
	}
	return *username, true, nil
}

func marshalAddresses(user *models.User) ([]byte, []byte, error) {
	eth := user.EthAddresses
	if eth == nil {
		eth = []string{}
	}
	sol := user.SolAddresses
	if sol == nil {
		sol = []string{}
	}

	ethJSON, err := json.Marshal(eth)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal eth addresses: %w", err)
	}
	solJSON, err := json.Marshal(sol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal sol addresses: %w", err)
	}
	return ethJSON, solJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var ethJSON, solJSON []byte

	err := row.Scan(
		&user.Fid,
		&user.Username,
		&user.DisplayName,
		&user.PfpURL,
		&user.BioText,
		&user.FollowerCount,
		&user.FollowingCount,
		&user.Score,
		&user.PowerBadge,
		&ethJSON,
		&solJSON,
		&user.IsActive,
		&user.SyncSource,
		&user.LastSynced,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(ethJSON) > 0 {
		if err := json.Unmarshal(ethJSON, &user.EthAddresses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal eth addresses: %w", err)
		}
	}
	if len(solJSON) > 0 {
		if err := json.Unmarshal(solJSON, &user.SolAddresses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sol addresses: %w", err)
		}
	}
	return &user, nil
}

func scanUsers(rows pgx.Rows) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
