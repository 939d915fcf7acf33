package avatar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServiceError means the avatar service received the request and rejected it.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("avatar service error: status=%d body=%s", e.Status, e.Body)
}

// ErrGenerationFailed is returned when the service reports a failed clip.
var ErrGenerationFailed = errors.New("avatar: generation failed")

// ErrTimedOut is returned when polling exhausts its attempt budget.
var ErrTimedOut = errors.New("avatar: polling timed out")

// Result is a playable clip. Duration lets callers schedule the automatic
// hide of the transient video surface.
type Result struct {
	URL      string
	Duration float64 // seconds
}

// PollResult is one poll response from the talk service.
type PollResult struct {
	Status    string  `json:"status"`
	ResultURL string  `json:"result_url"`
	Duration  float64 `json:"duration"`
}

type createRequest struct {
	Text        string `json:"text,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

type createResponse struct {
	TalkID string `json:"talk_id"`
	Status string `json:"status"`
}

// Client submits talking-head clip generation jobs and polls for completion.
// Polling starts fast and backs off, with a hard attempt ceiling.
type Client struct {
	HTTPClient  *http.Client
	BaseURL     string
	APIKey      string
	SourceImage string

	// polling schedule; zero values take the defaults below
	PollInitial  time.Duration
	PollMax      time.Duration
	PollBackoff  float64
	PollAttempts int
}

const (
	defaultPollInitial  = 500 * time.Millisecond
	defaultPollMax      = 4 * time.Second
	defaultPollBackoff  = 1.5
	defaultPollAttempts = 20
)

func NewClient(baseURL, apiKey, sourceImage string) *Client {
	return &Client{
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		BaseURL:     baseURL,
		APIKey:      apiKey,
		SourceImage: sourceImage,
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if c.BaseURL == "" {
		return fmt.Errorf("avatar: base url missing")
	}
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Basic "+c.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &ServiceError{Status: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("avatar: decode response: %w", err)
		}
	}
	return nil
}

// CreateFromText submits a clip driven by service-side speech synthesis.
func (c *Client) CreateFromText(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("avatar: empty utterance")
	}
	var cr createResponse
	err := c.doJSON(ctx, http.MethodPost, "/talks", createRequest{Text: text, SourceURL: c.SourceImage}, &cr)
	if err != nil {
		return "", err
	}
	if cr.TalkID == "" {
		return "", fmt.Errorf("avatar: create response missing talk_id")
	}
	return cr.TalkID, nil
}

// CreateFromAudio submits a clip driven by pre-synthesized audio.
func (c *Client) CreateFromAudio(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("avatar: empty audio")
	}
	var cr createResponse
	req := createRequest{AudioBase64: base64.StdEncoding.EncodeToString(audio), SourceURL: c.SourceImage}
	if err := c.doJSON(ctx, http.MethodPost, "/talks", req, &cr); err != nil {
		return "", err
	}
	if cr.TalkID == "" {
		return "", fmt.Errorf("avatar: create response missing talk_id")
	}
	return cr.TalkID, nil
}

// Poll fetches the current status of one talk job.
func (c *Client) Poll(ctx context.Context, talkID string) (PollResult, error) {
	var pr PollResult
	err := c.doJSON(ctx, http.MethodGet, "/talks/"+talkID, nil, &pr)
	return pr, err
}

// WaitForResult polls until the clip is ready, the service reports failure,
// or the attempt ceiling is hit. Open-ended polling is deliberately not
// possible here.
func (c *Client) WaitForResult(ctx context.Context, talkID string) (Result, error) {
	interval := c.PollInitial
	if interval <= 0 {
		interval = defaultPollInitial
	}
	maxInterval := c.PollMax
	if maxInterval <= 0 {
		maxInterval = defaultPollMax
	}
	backoff := c.PollBackoff
	if backoff <= 1 {
		backoff = defaultPollBackoff
	}
	attempts := c.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(interval):
		}

		pr, err := c.Poll(ctx, talkID)
		if err != nil {
			// transient poll failures count against the budget but do not abort
			var se *ServiceError
			if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
				return Result{}, err
			}
		} else {
			switch pr.Status {
			case "done", "ready":
				if pr.ResultURL == "" {
					return Result{}, fmt.Errorf("avatar: ready without result_url")
				}
				return Result{URL: pr.ResultURL, Duration: pr.Duration}, nil
			case "error", "rejected":
				return Result{}, ErrGenerationFailed
			}
		}

		interval = time.Duration(float64(interval) * backoff)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
	return Result{}, ErrTimedOut
}
