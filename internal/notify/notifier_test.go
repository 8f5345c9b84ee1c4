package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierSend(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to the bot API", func(t *testing.T) {
		var received map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/bottoken123/sendMessage", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		n := NewNotifier("token123", "chat456")
		n.SetBaseURL(server.URL)

		require.NoError(t, n.Send(ctx, "backfill done"))
		assert.Equal(t, "chat456", received["chat_id"])
		assert.Equal(t, "backfill done", received["text"])
	})

	t.Run("missing configuration degrades to a log line", func(t *testing.T) {
		n := NewNotifier("", "")
		assert.NoError(t, n.Send(ctx, "nobody will see this"))
	})

	t.Run("delivery rejection is swallowed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		n := NewNotifier("token123", "chat456")
		n.SetBaseURL(server.URL)
		assert.NoError(t, n.Send(ctx, "rejected"))
	})

	t.Run("unreachable endpoint is swallowed", func(t *testing.T) {
		n := NewNotifier("token123", "chat456")
		n.SetBaseURL("http://127.0.0.1:1")
		assert.NoError(t, n.Send(ctx, "unreachable"))
	})
}
