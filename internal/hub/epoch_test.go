package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFarcasterEpoch(t *testing.T) {
	t.Run("zero maps to the epoch start", func(t *testing.T) {
		got := FarcasterEpochToTime(0)
		assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), got.UTC())
	})

	t.Run("round trips", func(t *testing.T) {
		original := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
		assert.True(t, FarcasterEpochToTime(TimeToFarcasterEpoch(original)).Equal(original))
	})
}
