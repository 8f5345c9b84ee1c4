// Package notify delivers fire-and-forget operational notifications through
// the Telegram bot API. A missing bot token degrades every send to a local
// log line; notification failures are never surfaced to callers' control flow.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cast-indexer/internal/logging"
)

// Notifier sends messages to a fixed chat
type Notifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewNotifier creates a notifier. An empty botToken is valid and produces a
// log-only notifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint (used by tests)
func (n *Notifier) SetBaseURL(baseURL string) {
	n.baseURL = strings.TrimSuffix(baseURL, "/")
}

// Send delivers one message. Configuration absence and delivery failures are
// logged, never returned as errors.
func (n *Notifier) Send(ctx context.Context, text string) error {
	logger := logging.FromContext(ctx)

	if n.botToken == "" || n.chatID == "" {
		logger.WithField("message", text).Info("Notifier not configured, logging message instead")
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		logger.WithError(err).Error("Failed to encode notification payload")
		return nil
	}

	requestURL := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, strings.NewReader(string(payload)))
	if err != nil {
		logger.WithError(err).Error("Failed to create notification request")
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.WithError(err).Error("Failed to send notification")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"body":   strings.TrimSpace(string(body)),
		}).Error("Notification delivery rejected")
	}
	return nil
}
