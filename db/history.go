package db

import (
	"sync"
	"time"
)

// HistoryEntry records one executed statement.
type HistoryEntry struct {
	SQL              string
	Success          bool
	ExecutedAt       time.Time
	ExecutionTimeSec float64
}

// QueryHistory is a bounded, concurrency-safe ring of executed statements.
type QueryHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
	max     int
}

const defaultHistorySize = 500

// NewQueryHistory creates a history keeping at most max entries; max <= 0
// uses the default.
func NewQueryHistory(max int) *QueryHistory {
	if max <= 0 {
		max = defaultHistorySize
	}
	return &QueryHistory{max: max}
}

// Add appends an entry, evicting the oldest when full.
func (h *QueryHistory) Add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Record is a convenience wrapper over Add.
func (h *QueryHistory) Record(sql string, result QueryResult) {
	h.Add(HistoryEntry{
		SQL:              sql,
		Success:          result.Success,
		ExecutedAt:       time.Now(),
		ExecutionTimeSec: result.ExecutionTimeSec,
	})
}

// Entries returns a copy of the history, oldest first.
func (h *QueryHistory) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear drops all entries.
func (h *QueryHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
