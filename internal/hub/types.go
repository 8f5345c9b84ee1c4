// Package hub provides an HTTP client for the Farcaster hub API: paginated
// cast fetches, sharded fid listing, username proofs and the event feed used
// by the live listener.
package hub

import (
	"errors"
	"fmt"
	"strings"
)

// Message type constants as the hub HTTP API reports them
const (
	MessageTypeCastAdd = "MESSAGE_TYPE_CAST_ADD"

	// EventTypeMergeMessage is the only event type the listener acts on
	EventTypeMergeMessage = "HUB_EVENT_TYPE_MERGE_MESSAGE"
)

// CastID references another cast by author fid and content hash
type CastID struct {
	Fid  int64  `json:"fid"`
	Hash string `json:"hash"`
}

// Embed is one embedded object inside a cast body. Either URL or CastID is
// set; an embed referencing another cast's fid+hash makes the parent a quote
// cast.
type Embed struct {
	URL    string  `json:"url,omitempty"`
	CastID *CastID `json:"castId,omitempty"`
}

// CastAddBody is the payload of a cast-add message
type CastAddBody struct {
	Text              string  `json:"text"`
	Mentions          []int64 `json:"mentions,omitempty"`
	MentionsPositions []int   `json:"mentionsPositions,omitempty"`
	ParentCastID      *CastID `json:"parentCastId,omitempty"`
	Embeds            []Embed `json:"embeds,omitempty"`
}

// MessageData is the inner data of a hub message
type MessageData struct {
	Type        string       `json:"type"`
	Fid         int64        `json:"fid"`
	Timestamp   uint32       `json:"timestamp"` // seconds since the Farcaster epoch
	Network     string       `json:"network,omitempty"`
	CastAddBody *CastAddBody `json:"castAddBody,omitempty"`
}

// Message is one signed hub message. Hash is the hex-encoded content hash,
// with or without a 0x prefix depending on the hub version.
type Message struct {
	Data *MessageData `json:"data"`
	Hash string       `json:"hash"`
}

// IsCastAdd reports whether the message carries a cast-add body
func (m *Message) IsCastAdd() bool {
	return m.Data != nil && m.Data.Type == MessageTypeCastAdd && m.Data.CastAddBody != nil
}

// CastsPage is one page of a paginated cast fetch. An empty NextPageToken
// means the final page.
type CastsPage struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"nextPageToken"`
}

// FidsPage is one page of the sharded fid listing
type FidsPage struct {
	Fids          []int64 `json:"fids"`
	NextPageToken string  `json:"nextPageToken"`
}

// UsernameProof is one name proof attached to a fid
type UsernameProof struct {
	Name      string `json:"name"`
	Fid       int64  `json:"fid"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// MergeMessageBody carries the merged message of a merge event
type MergeMessageBody struct {
	Message *Message `json:"message"`
}

// Event is one entry of the hub event feed
type Event struct {
	ID               uint64            `json:"id"`
	Type             string            `json:"type"`
	MergeMessageBody *MergeMessageBody `json:"mergeMessageBody,omitempty"`
}

// EventsPage is one long-poll page of the event feed
type EventsPage struct {
	NextPageEventID uint64  `json:"nextPageEventId"`
	Events          []Event `json:"events"`
}

// APIError is a hub-level failure signaled as a result value: the hub returns
// an error body with a code and message rather than a bare transport error.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrCode    string `json:"errCode"`
	Details    string `json:"details"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("hub error %d (%s): %s", e.StatusCode, e.ErrCode, e.Details)
}

// IsAPIError reports whether err is, or wraps, a hub error result
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// NormalizeHash returns the canonical identity form of a hub hash: lowercase
// hex with any 0x prefix stripped
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(hash, "0x"), "0X"))
}
