package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestRecognitionError_Classification(t *testing.T) {
	cases := []struct {
		msg    string
		benign bool
	}{
		{"No speech detected in audio", true},
		{"no audio received before timeout", true},
		{"Unauthorized: bad token", false},
		{"internal decoder failure", false},
	}
	for _, tc := range cases {
		e := &RecognitionError{Code: classifyProviderError(tc.msg), Message: tc.msg}
		if e.Benign() != tc.benign {
			t.Fatalf("%q: benign = %v, want %v (code %s)", tc.msg, e.Benign(), tc.benign, e.Code)
		}
	}
}

func TestLive_FinalDeliveredOnce(t *testing.T) {
	var mu sync.Mutex
	var finals []string
	l := NewLive("key", Handlers{OnFinal: func(s string) {
		mu.Lock()
		finals = append(finals, s)
		mu.Unlock()
	}})

	// Interim growth then an end-of-turn; a later duplicate finalize (idle
	// timer or Close racing end-of-turn) must not re-deliver.
	l.onTurn(liveMessage{Type: "Turn", Transcript: "show me"})
	l.onTurn(liveMessage{Type: "Turn", Transcript: "show me the video", EndOfTurn: true})
	l.finalize()
	l.finalize()

	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 || finals[0] != "show me the video" {
		t.Fatalf("finals = %v", finals)
	}
}

func TestLive_NextUtteranceEmitsOnlyDelta(t *testing.T) {
	var finals []string
	l := NewLive("key", Handlers{OnFinal: func(s string) { finals = append(finals, s) }})
	l.onTurn(liveMessage{Type: "Turn", Transcript: "first question", EndOfTurn: true})
	l.onTurn(liveMessage{Type: "Turn", Transcript: "first question second one", EndOfTurn: true})
	if len(finals) != 2 || finals[0] != "first question" || finals[1] != "second one" {
		t.Fatalf("finals = %v", finals)
	}
}

func TestLive_FreshStreamEmitsFullTranscript(t *testing.T) {
	var finals []string
	l := NewLive("key", Handlers{OnFinal: func(s string) { finals = append(finals, s) }})

	// A new connection must not diff against what an earlier one committed,
	// even when the new transcript starts with the same words. Connect
	// performs this reset before starting its loops.
	l.onTurn(liveMessage{Type: "Turn", Transcript: "show me the video", EndOfTurn: true})
	l.resetTranscript()
	l.onTurn(liveMessage{Type: "Turn", Transcript: "show me the video again", EndOfTurn: true})

	if len(finals) != 2 || finals[0] != "show me the video" || finals[1] != "show me the video again" {
		t.Fatalf("finals = %v", finals)
	}
}

func TestLive_BenignErrorNotSurfaced(t *testing.T) {
	var surfaced []*RecognitionError
	l := NewLive("key", Handlers{OnError: func(e *RecognitionError) { surfaced = append(surfaced, e) }})
	l.handleMessage([]byte(`{"type":"Error","error":"No speech detected"}`))
	if len(surfaced) != 0 {
		t.Fatalf("benign error surfaced: %v", surfaced)
	}
	l.handleMessage([]byte(`{"type":"Error","error":"Unauthorized"}`))
	if len(surfaced) != 1 || surfaced[0].Code != "auth" {
		t.Fatalf("expected auth error surfaced, got %v", surfaced)
	}
}

type fakeLive struct {
	connected bool
	fed       int
	closed    bool
}

func (f *fakeLive) Connect() error             { f.connected = true; return nil }
func (f *fakeLive) SendAudio(pcm []byte) error { f.fed++; return nil }
func (f *fakeLive) Close() error               { f.closed = true; return nil }

func TestCapture_LiveModeDelegates(t *testing.T) {
	fl := &fakeLive{}
	c := NewCapture(fl, nil, Handlers{})
	if !c.SupportsLive() {
		t.Fatalf("expected live support")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Feed([]byte{1, 2}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !fl.connected || fl.fed != 1 || !fl.closed {
		t.Fatalf("live not driven: %+v", fl)
	}
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty")
	}
	return f.text, nil
}

func TestCapture_FallbackRecordsThenTranscribes(t *testing.T) {
	var finals []string
	c := NewCapture(nil, fakeTranscriber{text: "recorded words"}, Handlers{
		OnFinal: func(s string) { finals = append(finals, s) },
	})
	if c.SupportsLive() {
		t.Fatalf("expected fallback mode")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = c.Feed([]byte("abc"))
	_ = c.Feed([]byte("def"))
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(finals) != 1 || finals[0] != "recorded words" {
		t.Fatalf("finals = %v", finals)
	}
}

func TestCapture_EmptyRecordingIsSilentNoop(t *testing.T) {
	var finals []string
	var errored bool
	c := NewCapture(nil, fakeTranscriber{text: "x"}, Handlers{
		OnFinal: func(s string) { finals = append(finals, s) },
		OnError: func(*RecognitionError) { errored = true },
	})
	_ = c.Start(context.Background())
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(finals) != 0 || errored {
		t.Fatalf("empty recording must be swallowed (finals=%v errored=%v)", finals, errored)
	}
}

func TestTranscriber_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AudioBase64 string `json:"audio_base64"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AudioBase64 == "" {
			t.Errorf("missing audio payload")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello roof"})
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, "key")
	text, err := tr.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello roof" {
		t.Fatalf("text = %q", text)
	}
}
