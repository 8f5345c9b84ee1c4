package hub

import "time"

// farcasterEpochStart is January 1, 2021 00:00:00 UTC, the zero point of all
// hub message timestamps
const farcasterEpochStart int64 = 1609459200

// FarcasterEpochToTime converts a hub message timestamp (seconds since the
// Farcaster epoch) to wall-clock time
func FarcasterEpochToTime(ts uint32) time.Time {
	return time.Unix(farcasterEpochStart+int64(ts), 0).UTC()
}

// TimeToFarcasterEpoch converts wall-clock time to a hub message timestamp.
// Times before the epoch start map to zero.
func TimeToFarcasterEpoch(t time.Time) uint32 {
	secs := t.Unix() - farcasterEpochStart
	if secs < 0 {
		return 0
	}
	return uint32(secs)
}
