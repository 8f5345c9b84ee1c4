package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/cast-indexer/internal/errors"
)

// Client talks to the hub's HTTP API (the /v1 surface)
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new hub client. timeout bounds each HTTP request; the
// pipeline wraps calls in its own per-attempt deadlines on top.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CastsByFid fetches one page of casts authored by fid. An empty pageToken
// requests the first page; the returned NextPageToken is empty on the final
// page.
func (c *Client) CastsByFid(ctx context.Context, fid int64, pageSize int, pageToken string) (*CastsPage, error) {
	params := url.Values{}
	params.Set("fid", strconv.FormatInt(fid, 10))
	if pageSize > 0 {
		params.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var page CastsPage
	if err := c.get(ctx, "/v1/castsByFid", params, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch casts for fid %d: %w", fid, err)
	}
	return &page, nil
}

// FidsByShard fetches one page of registered fids from the given shard.
// Shard 0 covers the whole fid space on single-shard hubs.
func (c *Client) FidsByShard(ctx context.Context, shardID int, pageToken string) (*FidsPage, error) {
	params := url.Values{}
	params.Set("shard_id", strconv.Itoa(shardID))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var page FidsPage
	if err := c.get(ctx, "/v1/fids", params, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch fids for shard %d: %w", shardID, err)
	}
	return &page, nil
}

// UsernameProofsByFid fetches the name proofs registered for fid. Used as the
// remote fallback when reconstructing mention text.
func (c *Client) UsernameProofsByFid(ctx context.Context, fid int64) ([]UsernameProof, error) {
	params := url.Values{}
	params.Set("fid", strconv.FormatInt(fid, 10))

	var resp struct {
		Proofs []UsernameProof `json:"proofs"`
	}
	if err := c.get(ctx, "/v1/userNameProofsByFid", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch username proofs for fid %d: %w", fid, err)
	}
	return resp.Proofs, nil
}

// Events fetches one page of the hub event feed starting at fromEventID.
// The listener long-polls this, carrying NextPageEventID forward.
func (c *Client) Events(ctx context.Context, fromEventID uint64) (*EventsPage, error) {
	params := url.Values{}
	if fromEventID > 0 {
		params.Set("from_event_id", strconv.FormatUint(fromEventID, 10))
	}

	var page EventsPage
	if err := c.get(ctx, "/v1/events", params, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch events from %d: %w", fromEventID, err)
	}
	return &page, nil
}

// get performs one GET request and decodes the JSON response into out.
// Non-2xx responses are decoded into an *APIError so hub-level failures stay
// distinguishable from transport errors, which carry the hub error category.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewHubError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return apperrors.NewHubError(path, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Details == "" {
			apiErr.Details = string(body)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewHubError(path, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
