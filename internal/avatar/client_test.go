package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastPollClient(baseURL string) *Client {
	c := NewClient(baseURL, "key", "https://img/isabella.png")
	c.PollInitial = time.Millisecond
	c.PollMax = 2 * time.Millisecond
	c.PollAttempts = 5
	return c
}

func TestWaitForResult_PollsUntilReady(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/talks":
			_ = json.NewEncoder(w).Encode(map[string]string{"talk_id": "abc", "status": "created"})
		case r.Method == http.MethodGet && r.URL.Path == "/talks/abc":
			n := atomic.AddInt32(&polls, 1)
			if n <= 2 {
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "started"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "done", "result_url": "https://x/video.mp4", "duration": 4,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := fastPollClient(srv.URL)
	talkID, err := c.CreateFromText(context.Background(), "Sure! Check this out.")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if talkID != "abc" {
		t.Fatalf("talk id = %q", talkID)
	}
	res, err := c.WaitForResult(context.Background(), talkID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.URL != "https://x/video.mp4" || res.Duration != 4 {
		t.Fatalf("result = %+v", res)
	}
	if atomic.LoadInt32(&polls) != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
}

func TestWaitForResult_NeverReadyTimesOut(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	}))
	defer srv.Close()

	c := fastPollClient(srv.URL)
	_, err := c.WaitForResult(context.Background(), "stuck")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if n := atomic.LoadInt32(&polls); n != 5 {
		t.Fatalf("polls = %d, want attempt ceiling 5", n)
	}
}

func TestWaitForResult_ServiceFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error"})
	}))
	defer srv.Close()
	c := fastPollClient(srv.URL)
	_, err := c.WaitForResult(context.Background(), "doomed")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestCreate_FailsFastOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad source image", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := fastPollClient(srv.URL)
	_, err := c.CreateFromText(context.Background(), "hello")
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %T %v", err, err)
	}
}

func TestCreateFromAudio_EncodesBase64(t *testing.T) {
	var req createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"talk_id": "t1"})
	}))
	defer srv.Close()
	c := fastPollClient(srv.URL)
	if _, err := c.CreateFromAudio(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("create from audio: %v", err)
	}
	if req.AudioBase64 == "" || req.Text != "" {
		t.Fatalf("expected audio payload only, got %+v", req)
	}
	if req.SourceURL != "https://img/isabella.png" {
		t.Fatalf("source url not forwarded: %q", req.SourceURL)
	}
}
