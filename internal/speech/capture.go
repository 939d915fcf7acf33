package speech

import (
	"context"
	"fmt"
	"sync"
)

// liveStream is the continuous-recognition surface Capture wraps.
// *Live satisfies it; tests substitute fakes.
type liveStream interface {
	Connect() error
	SendAudio(pcm []byte) error
	Close() error
}

// recordTranscriber transcribes a complete recording.
type recordTranscriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Capture adapts between continuous live recognition and a push-to-record
// fallback behind one interface. The orchestrator checks SupportsLive to
// decide which mode the platform gets.
type Capture struct {
	live     liveStream
	fallback recordTranscriber
	handlers Handlers

	mu        sync.Mutex
	listening bool
	recording []byte
}

// NewCapture builds the adapter. live may be nil when the platform lacks a
// realtime recognition credential; fallback must then be set.
func NewCapture(live liveStream, fallback recordTranscriber, handlers Handlers) *Capture {
	return &Capture{live: live, fallback: fallback, handlers: handlers}
}

// SupportsLive reports whether continuous recognition is available.
func (c *Capture) SupportsLive() bool { return c.live != nil }

// Start begins a listening session. In live mode it connects the stream;
// in fallback mode it starts buffering a recording.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = true
	c.recording = nil
	c.mu.Unlock()

	if c.live != nil {
		if err := c.live.Connect(); err != nil {
			c.mu.Lock()
			c.listening = false
			c.mu.Unlock()
			return err
		}
		return nil
	}
	if c.fallback == nil {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		return fmt.Errorf("speech: no capture backend configured")
	}
	return nil
}

// Feed pushes one audio buffer into the active session.
func (c *Capture) Feed(pcm []byte) error {
	c.mu.Lock()
	listening := c.listening
	c.mu.Unlock()
	if !listening {
		return fmt.Errorf("speech: not listening")
	}
	if c.live != nil {
		return c.live.SendAudio(pcm)
	}
	c.mu.Lock()
	c.recording = append(c.recording, pcm...)
	c.mu.Unlock()
	return nil
}

// Stop ends the listening session synchronously. In fallback mode the
// buffered recording is transcribed and delivered as a single final result;
// an empty recording is the benign no-speech case and is swallowed.
func (c *Capture) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = false
	rec := c.recording
	c.recording = nil
	c.mu.Unlock()

	if c.live != nil {
		return c.live.Close()
	}

	if len(rec) == 0 {
		return nil
	}
	text, err := c.fallback.Transcribe(ctx, rec)
	if err != nil {
		if c.handlers.OnError != nil {
			c.handlers.OnError(&RecognitionError{Code: "recognition-failed", Message: err.Error()})
		}
		return err
	}
	if text == "" {
		// no speech in the recording: expected, not an error
		return nil
	}
	if c.handlers.OnFinal != nil {
		c.handlers.OnFinal(text)
	}
	return nil
}

// Listening reports whether a session is active.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}
