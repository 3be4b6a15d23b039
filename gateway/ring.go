package gateway

import (
	"sync"
	"time"
)

// LogEntry is one captured log line for the /api/logs endpoint.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// LogRing keeps the most recent log entries in a fixed-size ring. Its Sink
// method plugs into the logger so the gateway can expose recent output
// without a second logging pipeline.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogRing creates a ring holding up to capacity entries.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &LogRing{entries: make([]LogEntry, capacity)}
}

// Sink records one log line. Matches logger.Sink.
func (r *LogRing) Sink(level, msg string) {
	r.mu.Lock()
	r.entries[r.next] = LogEntry{Time: time.Now(), Level: level, Message: msg}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Entries returns the captured entries, oldest first.
func (r *LogRing) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]LogEntry(nil), r.entries[:r.next]...)
	}
	out := make([]LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
