// Package profile provides a client for the Neynar profile API, the bulk
// source of user profile data. The API is rate limited, so the client
// self-throttles to a configured requests-per-second budget.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/models"
	"github.com/cast-indexer/internal/types"
	"golang.org/x/time/rate"
)

// MaxFidsPerRequest is the API's cap on bulk user lookups
const MaxFidsPerRequest = 100

// User is the profile payload returned by the API
type User struct {
	Fid            int64   `json:"fid"`
	Username       string  `json:"username"`
	DisplayName    string  `json:"display_name"`
	PfpURL         string  `json:"pfp_url"`
	FollowerCount  int     `json:"follower_count"`
	FollowingCount int     `json:"following_count"`
	Score          float64 `json:"score"`
	PowerBadge     bool    `json:"power_badge"`
	Profile        struct {
		Bio struct {
			Text string `json:"text"`
		} `json:"bio"`
	} `json:"profile"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
		SolAddresses []string `json:"sol_addresses"`
	} `json:"verified_addresses"`
}

// ToUser maps a profile payload to the persisted user model
func (u *User) ToUser(source types.IngestSource) *models.User {
	now := time.Now()
	user := &models.User{
		Fid:            u.Fid,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		PowerBadge:     u.PowerBadge,
		EthAddresses:   u.VerifiedAddresses.EthAddresses,
		SolAddresses:   u.VerifiedAddresses.SolAddresses,
		IsActive:       true,
		SyncSource:     source,
		LastSynced:     now,
	}
	if u.Username != "" {
		user.Username = &u.Username
	}
	if u.DisplayName != "" {
		user.DisplayName = &u.DisplayName
	}
	if u.PfpURL != "" {
		user.PfpURL = &u.PfpURL
	}
	if u.Profile.Bio.Text != "" {
		bio := u.Profile.Bio.Text
		user.BioText = &bio
	}
	score := u.Score
	user.Score = &score
	return user
}

// Client talks to the profile API
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new profile API client throttled to requestsPerSecond
func NewClient(apiKey, baseURL string, requestsPerSecond float64) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// UsersByFids fetches profile data for the given fids, transparently chunking
// at the API's per-request cap. Results preserve request order per chunk but
// carry no cross-chunk ordering guarantee.
func (c *Client) UsersByFids(ctx context.Context, fids []int64) ([]User, error) {
	if len(fids) == 0 {
		return nil, nil
	}

	var users []User
	for start := 0; start < len(fids); start += MaxFidsPerRequest {
		end := start + MaxFidsPerRequest
		if end > len(fids) {
			end = len(fids)
		}

		chunk, err := c.fetchChunk(ctx, fids[start:end])
		if err != nil {
			return nil, err
		}
		users = append(users, chunk...)
	}
	return users, nil
}

// UserByFid fetches profile data for a single fid. Returns nil without error
// when the API has no record of the fid.
func (c *Client) UserByFid(ctx context.Context, fid int64) (*User, error) {
	users, err := c.UsersByFids(ctx, []int64{fid})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func (c *Client) fetchChunk(ctx context.Context, fids []int64) ([]User, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	parts := make([]string, len(fids))
	for i, fid := range fids {
		parts[i] = strconv.FormatInt(fid, 10)
	}

	requestURL := fmt.Sprintf("%s/v2/farcaster/user/bulk?fids=%s", c.baseURL, strings.Join(parts, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewProfileAPIError("bulk user fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// A fully unknown fid list returns 404; treat it as an empty result
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewProfileAPIError("bulk user fetch",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		Users []User `json:"users"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return decoded.Users, nil
}
