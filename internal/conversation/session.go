package conversation

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/chat"
)

// dedupWindow guards against double submission from overlapping UI
// triggers, e.g. a voice-final and a manual send firing together.
const dedupWindow = 3 * time.Second

// Greeting is the system-generated opening line. It is narrated as
// assistant output only; no user message is ever recorded for it.
const Greeting = "Hi, I'm Isabella, your SolarClip ambassador. Would you like a quick tour of how SolarClip works?"

// Session is the top-level conversational orchestrator for one widget
// instance. It owns the message history and the processing, thinking, mic,
// speaker and listening flags, and coordinates speech capture, the chat
// transport and the speech/avatar pipeline.
type Session struct {
	id        string
	transport Transport
	voice     Voice
	capture   Capture
	history   History
	events    Events
	persona   map[string]string
	streaming bool
	now       func() time.Time

	mu             sync.Mutex
	messages       []Message
	processing     bool
	thinking       bool
	micEnabled     bool
	speakerEnabled bool
	listening      bool
	lastSent       string
	lastSentAt     time.Time
}

// Options configures a Session.
type Options struct {
	SessionID string
	Streaming bool
	// Context is persona/tone/length metadata forwarded verbatim to the
	// gateway on every turn.
	Context map[string]string
	Now     func() time.Time
}

func NewSession(transport Transport, voice Voice, capture Capture, history History, events Events, opts Options) *Session {
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		id:             id,
		transport:      transport,
		voice:          voice,
		capture:        capture,
		history:        history,
		events:         events,
		persona:        opts.Context,
		streaming:      opts.Streaming,
		now:            now,
		micEnabled:     true,
		speakerEnabled: true,
	}
}

// ID returns the stable session id used as the gateway correlation key.
func (s *Session) ID() string { return s.id }

// Greet narrates the opening line exactly once per session id, no matter
// how many times the hosting widget mounts.
func (s *Session) Greet(ctx context.Context) {
	if s.history != nil && !s.history.MarkGreeted(s.id) {
		return
	}
	s.Narrate(ctx, Greeting)
}

// Narrate emits scripted assistant output (journey beats, greeting) without
// a gateway round trip and without recording any user message.
func (s *Session) Narrate(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.appendMessage(Message{Text: text, Sender: SenderAssistant})
	if s.history != nil {
		s.history.Append(s.id, "assistant", text)
	}
	s.speak(text)
}

// SendMessage runs one conversational turn. It is a no-op when the text is
// blank, when a turn is already in flight (rejected, not queued), or when
// the same text was submitted within the dedup window.
func (s *Session) SendMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		log.Printf("conversation: turn in flight, rejecting %q", text)
		return
	}
	now := s.now()
	if text == s.lastSent && now.Sub(s.lastSentAt) < dedupWindow {
		s.mu.Unlock()
		log.Printf("conversation: duplicate submission dropped: %q", text)
		return
	}
	s.lastSent = text
	s.lastSentAt = now
	s.processing = true
	s.mu.Unlock()

	// processing must clear on every exit path, including transport panics
	// surfacing as errors below.
	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
		s.setThinking(false)
	}()

	req := chat.Request{
		Message:   text,
		SessionID: s.id,
		Messages:  s.priorTurns(),
		Context:   s.persona,
	}

	s.appendMessage(Message{Text: text, Sender: SenderUser})
	if s.history != nil {
		s.history.Append(s.id, "user", text)
	}
	s.setThinking(true)

	if s.streaming {
		s.runStreamingTurn(ctx, req)
		return
	}
	s.runSingleShotTurn(ctx, req)
}

func (s *Session) runSingleShotTurn(ctx context.Context, req chat.Request) {
	reply, err := s.transport.Send(ctx, req)
	if err != nil {
		s.reportTurnFailure(err)
		return
	}
	s.setThinking(false)
	s.appendMessage(Message{Text: reply, Sender: SenderAssistant})
	if s.history != nil {
		s.history.Append(s.id, "assistant", reply)
	}
	s.speak(reply)
}

func (s *Session) runStreamingTurn(ctx context.Context, req chat.Request) {
	var (
		msgMu sync.Mutex
		msg   *Message
		seg   *chat.Segmenter
	)
	if s.speakerOn() && s.voice != nil {
		seg = chat.NewSegmenter(s.voice.Enqueue)
	}

	full, err := s.transport.Stream(ctx, req, func(delta string) {
		s.setThinking(false)
		msgMu.Lock()
		if msg == nil {
			m := s.appendMessage(Message{Text: delta, Sender: SenderAssistant, Streaming: true})
			msg = &m
		} else {
			msg.Text += delta
			s.updateMessage(*msg)
		}
		msgMu.Unlock()
		if seg != nil {
			seg.Write(delta)
		}
	})
	if err != nil {
		// Deltas already shown stay visible; the turn just ends without a
		// fabricated assistant reply.
		s.reportTurnFailure(err)
		if seg != nil {
			seg.Flush()
		}
		s.finishStreamingMessage(&msgMu, msg)
		return
	}
	if seg != nil {
		seg.Flush()
	}
	s.finishStreamingMessage(&msgMu, msg)
	if s.history != nil && full != "" {
		s.history.Append(s.id, "assistant", full)
	}
}

func (s *Session) finishStreamingMessage(msgMu *sync.Mutex, msg *Message) {
	msgMu.Lock()
	defer msgMu.Unlock()
	if msg == nil {
		return
	}
	msg.Streaming = false
	s.updateMessage(*msg)
}

// reportTurnFailure surfaces a transport failure as a transient notice.
// Nothing is injected into the conversation that could be mistaken for a
// real assistant answer.
func (s *Session) reportTurnFailure(err error) {
	log.Printf("conversation: turn failed: %v", err)
	if s.events.OnNotice != nil {
		s.events.OnNotice("Isabella couldn't respond just now. Please try again.")
	}
}

// speak feeds assistant text to the speech pipeline in sentence chunks.
func (s *Session) speak(text string) {
	if !s.speakerOn() || s.voice == nil {
		return
	}
	seg := chat.NewSegmenter(s.voice.Enqueue)
	seg.Write(text)
	seg.Flush()
}

// StartListening begins speech capture. No-op while the mic is disabled.
func (s *Session) StartListening(ctx context.Context) {
	s.mu.Lock()
	if !s.micEnabled || s.listening || s.capture == nil {
		s.mu.Unlock()
		return
	}
	s.listening = true
	s.mu.Unlock()

	if err := s.capture.Start(ctx); err != nil {
		log.Printf("conversation: start listening: %v", err)
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		return
	}
	s.notifyListening(true)
}

// StopListening ends speech capture. No-op while the mic is disabled.
func (s *Session) StopListening(ctx context.Context) {
	s.mu.Lock()
	if !s.micEnabled || !s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = false
	s.mu.Unlock()

	if s.capture != nil {
		if err := s.capture.Stop(ctx); err != nil {
			log.Printf("conversation: stop listening: %v", err)
		}
	}
	s.notifyListening(false)
}

// ToggleMic flips the mic flag. Disabling it stops any active capture
// before returning.
func (s *Session) ToggleMic(ctx context.Context) bool {
	s.mu.Lock()
	s.micEnabled = !s.micEnabled
	enabled := s.micEnabled
	wasListening := s.listening
	if !enabled {
		s.listening = false
	}
	s.mu.Unlock()

	if !enabled && wasListening && s.capture != nil {
		if err := s.capture.Stop(ctx); err != nil {
			log.Printf("conversation: mic off capture stop: %v", err)
		}
		s.notifyListening(false)
	}
	return enabled
}

// ToggleSpeaker flips the speaker flag. Disabling it halts in-progress
// playback synchronously; it does not merely suppress future audio.
func (s *Session) ToggleSpeaker() bool {
	s.mu.Lock()
	s.speakerEnabled = !s.speakerEnabled
	enabled := s.speakerEnabled
	s.mu.Unlock()

	if !enabled && s.voice != nil {
		s.voice.Interrupt()
	}
	return enabled
}

// Messages returns a copy of the conversation in insertion order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Processing reports whether a turn is in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Listening reports whether speech capture is active.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// SpeakerEnabled reports the speaker flag.
func (s *Session) SpeakerEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerEnabled
}

// MicEnabled reports the mic flag.
func (s *Session) MicEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micEnabled
}

func (s *Session) speakerOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerEnabled
}

func (s *Session) priorTurns() []chat.HistoryMessage {
	if s.history == nil {
		return nil
	}
	turns := s.history.History(s.id)
	out := make([]chat.HistoryMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, chat.HistoryMessage{Role: t.Role, Content: t.Content})
	}
	return out
}

func (s *Session) appendMessage(m Message) Message {
	m.ID = uuid.NewString()
	m.Timestamp = s.now()
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	if s.events.OnMessage != nil {
		s.events.OnMessage(m)
	}
	return m
}

func (s *Session) updateMessage(m Message) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == m.ID {
			s.messages[i] = m
			break
		}
	}
	s.mu.Unlock()
	if s.events.OnMessage != nil {
		s.events.OnMessage(m)
	}
}

func (s *Session) setThinking(v bool) {
	s.mu.Lock()
	changed := s.thinking != v
	s.thinking = v
	s.mu.Unlock()
	if changed && s.events.OnThinking != nil {
		s.events.OnThinking(v)
	}
}

func (s *Session) notifyListening(v bool) {
	if s.events.OnListening != nil {
		s.events.OnListening(v)
	}
}
