package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/audio"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/avatar"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/card"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/conversation"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/journey"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/speech"
	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/store"
)

// frame is the single message format on the widget WebSocket, both
// directions. Types in: start, user_text, audio, listen_start, listen_stop,
// toggle_mic, toggle_speaker, card_action, bye.
// Types out: message, thinking, listening, interim, notice, card,
// card_closed, avatar, audio, audio_end, audio_reset, mic, speaker, journey.
type frame struct {
	Type     string                `json:"type"`
	Text     string                `json:"text,omitempty"`
	Data     string                `json:"data,omitempty"` // base64 audio
	Action   string                `json:"action,omitempty"`
	Enabled  *bool                 `json:"enabled,omitempty"`
	State    string                `json:"state,omitempty"`
	Reason   string                `json:"reason,omitempty"`
	URL      string                `json:"url,omitempty"`
	Duration float64               `json:"duration,omitempty"`
	Message  *conversation.Message `json:"message,omitempty"`
	Card     *card.Card            `json:"card,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// The widget is embedded on the marketing site; origins are enforced
		// at the edge.
		return true
	},
}

// Deps carries the shared collaborators every connection is wired from.
// Avatar, Synth, Transcriber and AssemblyAIKey are optional; absent ones
// degrade the matching capability instead of failing the connection.
type Deps struct {
	Transport     conversation.Transport
	Store         *store.Sessions
	Avatar        avatar.Generator
	Synth         audio.Synthesizer
	AssemblyAIKey string
	Transcriber   *speech.Transcriber
	Solar         journey.Analyzer
	Streaming     bool
	Persona       map[string]string
}

// Handler serves the widget WebSocket endpoint.
type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// ServeWS upgrades the request and runs one widget connection to completion.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: ws upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c := newConnection(conn, sessionID, h.deps)
	c.run(r.Context())
}

// connection is the per-widget wiring: one conversation session, one
// journey, one card surface and one speech pipeline sharing a WebSocket.
type connection struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	sessionID string
	deps      Deps

	sess      *conversation.Session
	journ     *journey.Machine
	cards     *card.Surface
	scheduler *avatar.Scheduler
	player    *audio.Player
	capture   *speech.Capture

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(conn *websocket.Conn, sessionID string, deps Deps) *connection {
	c := &connection{conn: conn, sessionID: sessionID, deps: deps}

	c.cards = card.NewSurface(c.onCardShown, c.onCardClosed)

	if deps.Avatar != nil {
		c.scheduler = avatar.NewScheduler(deps.Avatar, c.onClipReady, nil)
	}
	if deps.Synth != nil {
		c.player = audio.NewPlayer(deps.Synth, wsSink{c})
	}

	handlers := speech.Handlers{
		OnInterim: func(text string) { c.write(frame{Type: "interim", Text: text}) },
		OnFinal:   func(text string) { go c.dispatch(text) },
		OnError: func(e *speech.RecognitionError) {
			if e.Benign() {
				return
			}
			c.write(frame{Type: "notice", Text: "I couldn't hear that. Please try again."})
		},
	}
	if deps.AssemblyAIKey != "" {
		c.capture = speech.NewCapture(speech.NewLive(deps.AssemblyAIKey, handlers), deps.Transcriber, handlers)
	} else if deps.Transcriber != nil {
		c.capture = speech.NewCapture(nil, deps.Transcriber, handlers)
	}

	var capture conversation.Capture
	if c.capture != nil {
		capture = c.capture
	}
	c.sess = conversation.NewSession(deps.Transport, connVoice{c}, capture, historyStore{deps.Store}, conversation.Events{
		OnMessage:   func(m conversation.Message) { c.write(frame{Type: "message", Message: &m}) },
		OnThinking:  func(v bool) { c.write(frame{Type: "thinking", Enabled: &v}) },
		OnListening: func(v bool) { c.write(frame{Type: "listening", Enabled: &v}) },
		OnNotice:    func(text string) { c.write(frame{Type: "notice", Text: text}) },
	}, conversation.Options{
		SessionID: sessionID,
		Streaming: deps.Streaming,
		Context:   deps.Persona,
	})

	c.journ = journey.NewMachine(c.sess, c.cards, deps.Solar, journey.DefaultScript())
	return c
}

// run drives the inbound read loop until the peer disconnects.
func (c *connection) run(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)
	defer c.cancel()

	if c.scheduler != nil {
		c.scheduler.Start(c.ctx)
	}

	c.sess.Greet(c.ctx)

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("live: [%s] read: %v", c.sessionID, err)
			c.shutdown()
			return
		}
		if mt == websocket.BinaryMessage {
			c.feedAudio(data)
			continue
		}
		var f frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		if !c.handle(f) {
			c.shutdown()
			return
		}
	}
}

// handle processes one inbound frame; false ends the connection.
func (c *connection) handle(f frame) bool {
	switch strings.ToLower(f.Type) {
	case "start":
		c.journ.Start(c.ctx)
		c.writeJourneyState()
	case "user_text":
		go c.dispatch(f.Text)
	case "audio":
		raw, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return true
		}
		c.feedAudio(raw)
	case "listen_start":
		c.sess.StartListening(c.ctx)
	case "listen_stop":
		c.sess.StopListening(c.ctx)
	case "toggle_mic":
		enabled := c.sess.ToggleMic(c.ctx)
		c.write(frame{Type: "mic", Enabled: &enabled})
	case "toggle_speaker":
		enabled := c.sess.ToggleSpeaker()
		c.write(frame{Type: "speaker", Enabled: &enabled})
	case "card_action":
		if f.Action == "close" {
			c.cards.Close()
			return true
		}
		c.journ.OnCardAction(c.ctx, f.Action)
		c.writeJourneyState()
	case "bye":
		return false
	}
	return true
}

// dispatch routes one piece of user input: the journey may consume it;
// otherwise it becomes a conversational turn.
func (c *connection) dispatch(text string) {
	if c.journ.HandleUserInput(c.ctx, text) {
		c.writeJourneyState()
		return
	}
	c.sess.SendMessage(c.ctx, text)
}

func (c *connection) feedAudio(pcm []byte) {
	if c.capture == nil || !c.sess.Listening() {
		return
	}
	if err := c.capture.Feed(pcm); err != nil {
		log.Printf("live: [%s] audio feed: %v", c.sessionID, err)
	}
}

func (c *connection) shutdown() {
	if c.capture != nil {
		_ = c.capture.Stop(context.Background())
	}
	if c.player != nil {
		c.player.Stop()
	}
	c.cancel()
}

// onClipReady surfaces a finished avatar clip. Clips arrive in enqueue
// order because the scheduler is single-worker.
func (c *connection) onClipReady(job avatar.Job, res avatar.Result) {
	c.write(frame{Type: "avatar", Text: job.Text, URL: res.URL, Duration: res.Duration})
}

func (c *connection) onCardShown(cd card.Card) {
	c.write(frame{Type: "card", Card: &cd})
}

func (c *connection) onCardClosed(cd card.Card, reason card.Reason) {
	c.write(frame{Type: "card_closed", Card: &cd, Reason: string(reason)})
	if reason == card.ReasonAutoExit {
		c.journ.OnCardAction(c.ctx, journey.ActionFinished)
		c.writeJourneyState()
	}
}

func (c *connection) writeJourneyState() {
	c.write(frame{Type: "journey", State: string(c.journ.State())})
}

func (c *connection) write(f frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		log.Printf("live: [%s] write %s: %v", c.sessionID, f.Type, err)
	}
}

// connVoice routes sentence chunks to the avatar pipeline when available,
// falling back to local speech synthesis.
type connVoice struct{ c *connection }

func (v connVoice) Enqueue(text string) {
	if v.c.scheduler != nil {
		v.c.scheduler.Enqueue(text)
		return
	}
	if v.c.player != nil {
		v.c.player.Enqueue(v.c.ctx, text)
	}
}

func (v connVoice) Interrupt() {
	if v.c.player != nil {
		v.c.player.Stop()
	}
}

// wsSink delivers synthesized audio frames over the WebSocket.
type wsSink struct{ c *connection }

func (s wsSink) WriteAudio(pcm []byte) {
	s.c.write(frame{Type: "audio", Data: base64.StdEncoding.EncodeToString(pcm)})
}

func (s wsSink) FlushTail() { s.c.write(frame{Type: "audio_end"}) }
func (s wsSink) Reset()     { s.c.write(frame{Type: "audio_reset"}) }

// historyStore adapts the LRU session store to the conversation history
// boundary.
type historyStore struct{ s *store.Sessions }

func (h historyStore) History(sessionID string) []conversation.HistoryTurn {
	turns := h.s.History(sessionID)
	out := make([]conversation.HistoryTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, conversation.HistoryTurn{Role: t.Role, Content: t.Content})
	}
	return out
}

func (h historyStore) Append(sessionID, role, content string) {
	h.s.Append(sessionID, store.Turn{Role: role, Content: content})
}

func (h historyStore) MarkGreeted(sessionID string) bool {
	return h.s.MarkGreeted(sessionID)
}
