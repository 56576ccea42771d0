package session

import (
	"strings"
	"time"
)

// Status of a session's lifecycle
type Status string

const (
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded" // fatal backend failure seen
	StatusEnded    Status = "ended"
)

// DedupWindow is a bounded ring of normalized finalized strings used to
// detect repeated output. Oldest entries are evicted first.
type DedupWindow struct {
	Capacity int      `json:"capacity"`
	Entries  []string `json:"entries"`
}

// NewDedupWindow creates a window with the given capacity
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = 16
	}
	return &DedupWindow{
		Capacity: capacity,
		Entries:  make([]string, 0, capacity),
	}
}

// Add inserts a normalized string, trimming the oldest entry when full
func (w *DedupWindow) Add(normalized string) {
	if len(w.Entries) >= w.Capacity {
		w.Entries = w.Entries[1:]
	}
	w.Entries = append(w.Entries, normalized)
}

// Recent returns the window contents, oldest first
func (w *DedupWindow) Recent() []string {
	return w.Entries
}

// Len returns the number of entries held
func (w *DedupWindow) Len() int {
	return len(w.Entries)
}

// State is the persistable core of a session: everything a rejoin within
// the TTL needs to continue where it left off.
type State struct {
	SessionID  string       `json:"session_id"`
	Sequence   uint64       `json:"sequence"`
	Dedup      *DedupWindow `json:"dedup"`
	Transcript []string     `json:"transcript"`
	Status     Status       `json:"status"`

	// Repetition tracking across consecutive accepted results
	LastNormalized string `json:"last_normalized"`
	RepeatRun      int    `json:"repeat_run"`
}

// NewState creates a fresh session state with sequence zero
func NewState(sessionID string, dedupCapacity int) *State {
	return &State{
		SessionID: sessionID,
		Dedup:     NewDedupWindow(dedupCapacity),
		Status:    StatusActive,
	}
}

// NextSequence advances and returns the per-session sequence counter
func (s *State) NextSequence() uint64 {
	s.Sequence++
	return s.Sequence
}

// AppendTranscript records an accepted finalized text
func (s *State) AppendTranscript(text string) {
	s.Transcript = append(s.Transcript, text)
}

// FullTranscript joins the accumulated finalized segments
func (s *State) FullTranscript() string {
	return strings.Join(s.Transcript, " ")
}

// Connection is one transport binding to a session
type Connection struct {
	ID           string
	SessionID    string
	RegisteredAt time.Time
}

// Age returns how long the connection has been registered
func (c *Connection) Age() time.Duration {
	return time.Since(c.RegisteredAt)
}
