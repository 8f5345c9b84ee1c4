// Package models provides data models for the cast indexer system.
package models

import (
	"time"

	"github.com/cast-indexer/internal/types"
)

// User represents a Farcaster account tracked by the indexer.
// Rows are owned by the user-sync job; the ingestion pipeline only reads them,
// filtering and ordering by score, active flag and fid.
type User struct {
	Fid            int64              `json:"fid" db:"fid"`
	Username       *string            `json:"username,omitempty" db:"username"`
	DisplayName    *string            `json:"displayName,omitempty" db:"display_name"`
	PfpURL         *string            `json:"pfpUrl,omitempty" db:"pfp_url"`
	BioText        *string            `json:"bioText,omitempty" db:"bio_text"`
	FollowerCount  int                `json:"followerCount" db:"follower_count"`
	FollowingCount int                `json:"followingCount" db:"following_count"`
	Score          *float64           `json:"score,omitempty" db:"score"`
	PowerBadge     bool               `json:"powerBadge" db:"power_badge"`
	EthAddresses   []string           `json:"ethAddresses,omitempty" db:"eth_addresses"`
	SolAddresses   []string           `json:"solAddresses,omitempty" db:"sol_addresses"`
	IsActive       bool               `json:"isActive" db:"is_active"`
	SyncSource     types.IngestSource `json:"syncSource" db:"sync_source"`
	LastSynced     time.Time          `json:"lastSynced" db:"last_synced"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" db:"updated_at"`
}

// MinimalUser returns a placeholder user row for a fid whose profile data
// could not be fetched. The listener persists these rather than dropping casts.
func MinimalUser(fid int64, source types.IngestSource) *User {
	now := time.Now()
	return &User{
		Fid:        fid,
		IsActive:   true,
		SyncSource: source,
		LastSynced: now,
	}
}
