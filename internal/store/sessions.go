package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Turn is one role-tagged entry of conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type sessionState struct {
	mu      sync.Mutex
	history []Turn
	greeted bool
}

// Sessions retains per-session conversation context for continuity. It is
// LRU-bounded: a long-running process must not grow without limit as
// browser sessions come and go.
type Sessions struct {
	cache *lru.Cache[string, *sessionState]
}

// maxHistoryTurns caps the history replayed to the gateway per session.
const maxHistoryTurns = 40

func NewSessions(capacity int) (*Sessions, error) {
	c, err := lru.New[string, *sessionState](capacity)
	if err != nil {
		return nil, err
	}
	return &Sessions{cache: c}, nil
}

func (s *Sessions) state(sessionID string) *sessionState {
	if st, ok := s.cache.Get(sessionID); ok {
		return st
	}
	st := &sessionState{}
	if prev, ok, _ := s.cache.PeekOrAdd(sessionID, st); ok {
		return prev
	}
	return st
}

// History returns a copy of the stored turns for a session.
func (s *Sessions) History(sessionID string) []Turn {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Turn, len(st.history))
	copy(out, st.history)
	return out
}

// Append records one turn, trimming the oldest entries past the cap.
func (s *Sessions) Append(sessionID string, t Turn) {
	st := s.state(sessionID)
	st.mu.Lock()
	st.history = append(st.history, t)
	if len(st.history) > maxHistoryTurns {
		st.history = st.history[len(st.history)-maxHistoryTurns:]
	}
	st.mu.Unlock()
}

// MarkGreeted records that the greeting narration fired for this session.
// It returns false if the session was already greeted, so the greeting runs
// exactly once per session id no matter how often the widget remounts.
func (s *Sessions) MarkGreeted(sessionID string) bool {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.greeted {
		return false
	}
	st.greeted = true
	return true
}

// Len reports how many sessions are currently retained.
func (s *Sessions) Len() int { return s.cache.Len() }
