package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LydiaD-source/solarclip-isabella-showcase-sub000/internal/chat"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	reply   string
	deltas  []string
	err     error
	delay   time.Duration
	lastReq chat.Request
}

func (f *fakeTransport) Send(ctx context.Context, req chat.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.reply, f.err
}

func (f *fakeTransport) Stream(ctx context.Context, req chat.Request, onDelta func(string)) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	deltas := f.deltas
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	var full string
	for _, d := range deltas {
		full += d
		onDelta(d)
	}
	return full, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVoice struct {
	mu         sync.Mutex
	chunks     []string
	interrupts int32
}

func (v *fakeVoice) Enqueue(text string) {
	v.mu.Lock()
	v.chunks = append(v.chunks, text)
	v.mu.Unlock()
}
func (v *fakeVoice) Interrupt() { atomic.AddInt32(&v.interrupts, 1) }

type fakeCapture struct {
	started int32
	stopped int32
}

func (c *fakeCapture) Start(ctx context.Context) error { atomic.AddInt32(&c.started, 1); return nil }
func (c *fakeCapture) Stop(ctx context.Context) error  { atomic.AddInt32(&c.stopped, 1); return nil }

type memHistory struct {
	mu      sync.Mutex
	turns   map[string][]HistoryTurn
	greeted map[string]bool
}

func newMemHistory() *memHistory {
	return &memHistory{turns: map[string][]HistoryTurn{}, greeted: map[string]bool{}}
}

func (h *memHistory) History(id string) []HistoryTurn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryTurn(nil), h.turns[id]...)
}

func (h *memHistory) Append(id, role, content string) {
	h.mu.Lock()
	h.turns[id] = append(h.turns[id], HistoryTurn{Role: role, Content: content})
	h.mu.Unlock()
}

func (h *memHistory) MarkGreeted(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.greeted[id] {
		return false
	}
	h.greeted[id] = true
	return true
}

func newTestSession(tr Transport, v Voice, c Capture, h History, ev Events, streaming bool) *Session {
	return NewSession(tr, v, c, h, ev, Options{SessionID: "tab-1", Streaming: streaming})
}

func countBySender(msgs []Message, s Sender) int {
	n := 0
	for _, m := range msgs {
		if m.Sender == s {
			n++
		}
	}
	return n
}

func TestSendMessage_DuplicateWithinWindowDropped(t *testing.T) {
	tr := &fakeTransport{reply: "hello"}
	sess := newTestSession(tr, nil, nil, newMemHistory(), Events{}, false)

	sess.SendMessage(context.Background(), "show me a video")
	sess.SendMessage(context.Background(), "show me a video")

	if tr.callCount() != 1 {
		t.Fatalf("transport calls = %d, want 1", tr.callCount())
	}
	if n := countBySender(sess.Messages(), SenderUser); n != 1 {
		t.Fatalf("user messages = %d, want 1", n)
	}
}

func TestSendMessage_SameTextAfterWindowAllowed(t *testing.T) {
	current := time.Now()
	tr := &fakeTransport{reply: "hello"}
	sess := NewSession(tr, nil, nil, newMemHistory(), Events{}, Options{
		SessionID: "tab-1",
		Now:       func() time.Time { return current },
	})

	sess.SendMessage(context.Background(), "again")
	current = current.Add(dedupWindow + time.Second)
	sess.SendMessage(context.Background(), "again")
	if tr.callCount() != 2 {
		t.Fatalf("transport calls = %d, want 2", tr.callCount())
	}
}

func TestSendMessage_RejectedWhileProcessing(t *testing.T) {
	tr := &fakeTransport{reply: "slow answer", delay: 80 * time.Millisecond}
	sess := newTestSession(tr, nil, nil, newMemHistory(), Events{}, false)

	done := make(chan struct{})
	go func() {
		sess.SendMessage(context.Background(), "first")
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !sess.Processing() {
		time.Sleep(time.Millisecond)
	}
	if !sess.Processing() {
		t.Fatalf("expected in-flight turn")
	}
	sess.SendMessage(context.Background(), "second")
	<-done

	if tr.callCount() != 1 {
		t.Fatalf("transport calls = %d, want 1 (second send must be rejected, not queued)", tr.callCount())
	}
	if n := countBySender(sess.Messages(), SenderUser); n != 1 {
		t.Fatalf("user messages = %d, want 1", n)
	}
	if sess.Processing() {
		t.Fatalf("processing flag must clear after the turn")
	}
}

func TestSendMessage_EmptyAndWhitespaceRejected(t *testing.T) {
	tr := &fakeTransport{reply: "x"}
	sess := newTestSession(tr, nil, nil, newMemHistory(), Events{}, false)
	sess.SendMessage(context.Background(), "")
	sess.SendMessage(context.Background(), "   \n\t")
	if tr.callCount() != 0 {
		t.Fatalf("transport must not be called for blank input")
	}
}

func TestSendMessage_TransportErrorLeavesRetryableState(t *testing.T) {
	var notices []string
	tr := &fakeTransport{err: errors.New("gateway down")}
	sess := newTestSession(tr, nil, nil, newMemHistory(), Events{
		OnNotice: func(s string) { notices = append(notices, s) },
	}, false)

	sess.SendMessage(context.Background(), "hello")

	if sess.Processing() {
		t.Fatalf("processing must clear on failure")
	}
	if n := countBySender(sess.Messages(), SenderAssistant); n != 0 {
		t.Fatalf("no assistant message may be fabricated on failure, got %d", n)
	}
	if len(notices) != 1 {
		t.Fatalf("expected one transient notice, got %v", notices)
	}

	// The conversation stays usable: a later distinct turn succeeds.
	tr.mu.Lock()
	tr.err = nil
	tr.reply = "recovered"
	tr.mu.Unlock()
	sess.SendMessage(context.Background(), "hello again")
	if n := countBySender(sess.Messages(), SenderAssistant); n != 1 {
		t.Fatalf("assistant messages after retry = %d, want 1", n)
	}
}

func TestStreamingTurn_GrowsOneMessageInPlace(t *testing.T) {
	var mu sync.Mutex
	var updates []Message
	tr := &fakeTransport{deltas: []string{"Sure! ", "Check this ", "out."}}
	voice := &fakeVoice{}
	sess := newTestSession(tr, voice, nil, newMemHistory(), Events{
		OnMessage: func(m Message) {
			mu.Lock()
			updates = append(updates, m)
			mu.Unlock()
		},
	}, true)

	sess.SendMessage(context.Background(), "show me a video")

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Text != "Sure! Check this out." || assistant.Streaming {
		t.Fatalf("assistant = %+v", assistant)
	}

	mu.Lock()
	defer mu.Unlock()
	var assistantID string
	for _, u := range updates {
		if u.Sender != SenderAssistant {
			continue
		}
		if assistantID == "" {
			assistantID = u.ID
		} else if u.ID != assistantID {
			t.Fatalf("streaming updates must reuse one message identity")
		}
	}

	voice.mu.Lock()
	defer voice.mu.Unlock()
	if len(voice.chunks) != 1 || voice.chunks[0] != "Sure! Check this out." {
		t.Fatalf("voice chunks = %v", voice.chunks)
	}
}

func TestToggleSpeaker_OffInterruptsPlaybackSynchronously(t *testing.T) {
	voice := &fakeVoice{}
	sess := newTestSession(&fakeTransport{reply: "x"}, voice, nil, newMemHistory(), Events{}, false)

	if on := sess.ToggleSpeaker(); on {
		t.Fatalf("expected speaker off after toggle")
	}
	if atomic.LoadInt32(&voice.interrupts) != 1 {
		t.Fatalf("speaker off must interrupt playback before returning")
	}

	// With the speaker off, assistant replies produce no speech chunks.
	sess.SendMessage(context.Background(), "talk to me")
	voice.mu.Lock()
	defer voice.mu.Unlock()
	if len(voice.chunks) != 0 {
		t.Fatalf("no chunks expected while speaker off, got %v", voice.chunks)
	}
}

func TestListening_NoopWhileMicDisabled(t *testing.T) {
	cap := &fakeCapture{}
	sess := newTestSession(&fakeTransport{}, nil, cap, newMemHistory(), Events{}, false)

	if on := sess.ToggleMic(context.Background()); on {
		t.Fatalf("expected mic off")
	}
	sess.StartListening(context.Background())
	if atomic.LoadInt32(&cap.started) != 0 {
		t.Fatalf("start listening must be a no-op with mic disabled")
	}
}

func TestToggleMic_OffStopsActiveCapture(t *testing.T) {
	cap := &fakeCapture{}
	sess := newTestSession(&fakeTransport{}, nil, cap, newMemHistory(), Events{}, false)
	sess.StartListening(context.Background())
	if !sess.Listening() {
		t.Fatalf("expected listening")
	}
	sess.ToggleMic(context.Background())
	if atomic.LoadInt32(&cap.stopped) != 1 {
		t.Fatalf("mic off must stop capture synchronously")
	}
	if sess.Listening() {
		t.Fatalf("listening flag must clear")
	}
}

func TestGreet_FiresOncePerSession(t *testing.T) {
	h := newMemHistory()
	voice := &fakeVoice{}
	sess := newTestSession(&fakeTransport{}, voice, nil, h, Events{}, false)

	sess.Greet(context.Background())
	sess.Greet(context.Background())

	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Sender != SenderAssistant {
		t.Fatalf("greeting must appear once as assistant-only, got %+v", msgs)
	}
	if n := countBySender(msgs, SenderUser); n != 0 {
		t.Fatalf("greeting must never be recorded as a user message")
	}

	// A remounted widget with the same session id stays silent.
	remount := newTestSession(&fakeTransport{}, voice, nil, h, Events{}, false)
	remount.Greet(context.Background())
	if len(remount.Messages()) != 0 {
		t.Fatalf("remount must not re-greet")
	}
}

func TestSendMessage_HistoryForwardedToTransport(t *testing.T) {
	h := newMemHistory()
	tr := &fakeTransport{reply: "second answer"}
	sess := newTestSession(tr, nil, nil, h, Events{}, false)

	sess.SendMessage(context.Background(), "first question")
	sess.SendMessage(context.Background(), "second question")

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.lastReq.Messages) != 2 {
		t.Fatalf("prior turns = %d, want 2 (first user + first assistant)", len(tr.lastReq.Messages))
	}
	if tr.lastReq.Messages[0].Role != "user" || tr.lastReq.Messages[1].Role != "assistant" {
		t.Fatalf("history roles = %+v", tr.lastReq.Messages)
	}
	if tr.lastReq.SessionID != "tab-1" {
		t.Fatalf("session id = %q", tr.lastReq.SessionID)
	}
}
