package ingest

import (
	"sort"
	"sync"
)

// DefaultErrorStatsCapacity bounds the number of distinct error messages
// tracked during one backfill run
const DefaultErrorStatsCapacity = 1000

// ErrorStats is a bounded frequency counter over error messages. Known
// messages always increment; once the capacity is reached a new message
// evicts the current least-frequent entry, keeping memory use fixed no matter
// how noisy the remote service gets.
type ErrorStats struct {
	mu       sync.Mutex
	counts   map[string]int64
	capacity int
}

// ErrorCount is one message with its occurrence count
type ErrorCount struct {
	Message string
	Count   int64
}

// NewErrorStats creates a counter holding at most capacity distinct messages
func NewErrorStats(capacity int) *ErrorStats {
	if capacity <= 0 {
		capacity = DefaultErrorStatsCapacity
	}
	return &ErrorStats{
		counts:   make(map[string]int64),
		capacity: capacity,
	}
}

// Record tallies one occurrence of message
func (s *ErrorStats) Record(message string) {
	if message == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counts[message]; ok {
		s.counts[message]++
		return
	}

	if len(s.counts) >= s.capacity {
		s.evictLeastFrequent()
	}
	s.counts[message] = 1
}

// evictLeastFrequent removes the entry with the lowest count. Caller holds the lock.
func (s *ErrorStats) evictLeastFrequent() {
	var victim string
	var victimCount int64 = -1
	for message, count := range s.counts {
		if victimCount == -1 || count < victimCount {
			victim = message
			victimCount = count
		}
	}
	delete(s.counts, victim)
}

// Len returns the number of distinct messages tracked
func (s *ErrorStats) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}

// TopN returns the n most frequent messages, count descending with message
// ascending as the tiebreak, each message truncated to maxLen runes
func (s *ErrorStats) TopN(n, maxLen int) []ErrorCount {
	s.mu.Lock()
	entries := make([]ErrorCount, 0, len(s.counts))
	for message, count := range s.counts {
		entries = append(entries, ErrorCount{Message: message, Count: count})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Message < entries[j].Message
	})

	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	if maxLen > 0 {
		for i := range entries {
			entries[i].Message = truncate(entries[i].Message, maxLen)
		}
	}
	return entries
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
