package card

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the card payloads the widget can render.
type Type string

const (
	TypeVideo        Type = "video"
	TypeMap          Type = "interactive_map"
	TypeLeadForm     Type = "lead_form"
	TypeConfirmation Type = "confirmation"
	TypeError        Type = "error"
)

// Card is the single-slot transient visual surface content.
type Card struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Title   string `json:"title"`
	Payload any    `json:"payload,omitempty"`
}

// Reason explains why a card left the surface.
type Reason string

const (
	ReasonAutoExit Reason = "auto_exit"
	ReasonClosed   Reason = "closed"
	ReasonReplaced Reason = "replaced"
)

// Surface holds at most one card. A new card replaces the old one and
// cancels its pending auto-exit timer, so a stale timer can never hide
// newer content.
type Surface struct {
	mu       sync.Mutex
	current  *Card
	timer    *time.Timer
	onShow   func(Card)
	onClosed func(Card, Reason)
}

func NewSurface(onShow func(Card), onClosed func(Card, Reason)) *Surface {
	return &Surface{onShow: onShow, onClosed: onClosed}
}

// Show places a card on the surface. If autoExit is positive, the card is
// removed automatically after that duration. Returns the card with its
// assigned id.
func (s *Surface) Show(c Card, autoExit time.Duration) Card {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	prev := s.current
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.current = &c
	if autoExit > 0 {
		id := c.ID
		s.timer = time.AfterFunc(autoExit, func() { s.expire(id) })
	}
	s.mu.Unlock()

	if prev != nil && s.onClosed != nil {
		s.onClosed(*prev, ReasonReplaced)
	}
	if s.onShow != nil {
		s.onShow(c)
	}
	return c
}

// expire removes the card with the given id if it is still on the surface.
// The id check guards against a timer firing after its card was replaced.
func (s *Surface) expire(id string) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return
	}
	c := *s.current
	s.current = nil
	s.timer = nil
	s.mu.Unlock()

	if s.onClosed != nil {
		s.onClosed(c, ReasonAutoExit)
	}
}

// Close removes the current card explicitly.
func (s *Surface) Close() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	c := *s.current
	s.current = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if s.onClosed != nil {
		s.onClosed(c, ReasonClosed)
	}
}

// Current returns the card on the surface, if any.
func (s *Surface) Current() (Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Card{}, false
	}
	return *s.current, true
}
