package models

import (
	"encoding/json"
	"time"
)

// Cast represents a single unit of authored content, identified globally by the
// lowercase hex encoding of its content hash. A given hash is persisted at most
// once; every ingestion path checks existence before insert and treats a found
// hash as a no-op.
type Cast struct {
	Hash              string          `json:"hash" db:"hash"`
	Fid               int64           `json:"fid" db:"fid"`
	Text              string          `json:"text" db:"text"`
	OriginalText      string          `json:"originalText" db:"original_text"`
	Mentions          []int64         `json:"mentions" db:"mentions"`
	MentionsPositions []int           `json:"mentionsPositions" db:"mentions_positions"`
	Timestamp         time.Time       `json:"timestamp" db:"timestamp"`
	MessageType       string          `json:"messageType" db:"message_type"`
	ParentCastFid     *int64          `json:"parentCastFid,omitempty" db:"parent_cast_fid"`
	ParentCastHash    *string         `json:"parentCastHash,omitempty" db:"parent_cast_hash"`
	Embeds            json.RawMessage `json:"embeds,omitempty" db:"embeds"`
	ProcessedBy       string          `json:"processedBy" db:"processed_by"`
	IsReply           bool            `json:"isReply" db:"is_reply"`
	IsQuoteCast       bool            `json:"isQuoteCast" db:"is_quote_cast"`
	IsMention         bool            `json:"isMention" db:"is_mention"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
}
