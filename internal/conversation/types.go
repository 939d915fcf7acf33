package conversation

import (
	"context"
	"time"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/chat"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the visible conversation. A streaming assistant
// message keeps its identity while its text grows; the UI re-renders it in
// place, never re-inserts it.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming,omitempty"`
}

// Transport is the chat gateway boundary.
type Transport interface {
	Send(ctx context.Context, req chat.Request) (string, error)
	Stream(ctx context.Context, req chat.Request, onDelta func(string)) (string, error)
}

// Voice receives sentence chunks for speech output and can halt playback.
// The widget wiring points it at the avatar scheduler when video is
// available, or at the local audio player otherwise.
type Voice interface {
	// Enqueue hands one sentence chunk to the speech/avatar pipeline.
	Enqueue(text string)
	// Interrupt synchronously stops any in-progress local playback.
	Interrupt()
}

// Capture is the speech input source.
type Capture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// History persists turns for context continuity across widget remounts.
type History interface {
	History(sessionID string) []HistoryTurn
	Append(sessionID string, role, content string)
	MarkGreeted(sessionID string) bool
}

// HistoryTurn mirrors the stored role-tagged form.
type HistoryTurn struct {
	Role    string
	Content string
}

// Events surfaces session activity to the hosting UI. All callbacks are
// optional.
type Events struct {
	OnMessage   func(Message)     // new message, or in-place update of a streaming one
	OnThinking  func(bool)        // gateway round trip in progress
	OnListening func(bool)        // speech capture active
	OnNotice    func(text string) // transient, dismissible; never a fake assistant reply
}
