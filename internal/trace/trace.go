// Package trace keeps a bounded, process-wide audit trail of remote actions.
package trace

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// MaxEntries is the number of entries the store retains.
const MaxEntries = 200

// Field size limits in bytes.
const (
	MaxCommandLen = 16 * 1024
	MaxOutputLen  = 64 * 1024
	MaxErrorLen   = 8 * 1024
)

// Entry is one recorded action. Entries are immutable once recorded.
type Entry struct {
	ID         uint64 `json:"id"`
	At         int64  `json:"at"`
	Action     string `json:"action"`
	OK         bool   `json:"ok"`
	DurationMs int64  `json:"durationMs"`
	Command    string `json:"command"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// Store is a size-bounded audit trail, newest entry first. It is safe for
// concurrent use: the entry list is guarded by one mutex, and id assignment
// is a lock-free atomic increment so ids stay monotonic for the process
// lifetime even across Clear.
type Store struct {
	nextID  atomic.Uint64
	mu      sync.Mutex
	entries []Entry
}

// NewStore creates an empty audit trail.
func NewStore() *Store {
	return &Store{}
}

// Record assigns the next id and the time of recording, truncates oversized
// fields, and inserts the entry at the front, evicting the oldest entry past
// MaxEntries. The stored entry is returned.
func (s *Store) Record(e Entry) Entry {
	e.ID = s.nextID.Add(1)
	e.At = time.Now().UnixMilli()
	e.Command = Truncate(e.Command, MaxCommandLen)
	e.Output = Truncate(e.Output, MaxOutputLen)
	e.Error = Truncate(strings.TrimSpace(e.Error), MaxErrorLen)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{})
	copy(s.entries[1:], s.entries)
	s.entries[0] = e
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[:MaxEntries]
	}
	return e
}

// List returns a snapshot of the trail, newest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear empties the trail. The id counter is not reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// Len reports the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Truncate shortens s to at most max bytes, cutting on a rune boundary and
// marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len("…")
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
