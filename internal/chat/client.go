package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HistoryMessage is a prior turn mapped to the gateway's role-tagged form.
type HistoryMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request carries one user utterance plus conversation state to the gateway.
// Context is forwarded verbatim; the transport never interprets it.
type Request struct {
	Message   string            `json:"message"`
	SessionID string            `json:"session_id"`
	ClientID  string            `json:"client_id,omitempty"`
	PersonaID string            `json:"persona_id,omitempty"`
	Messages  []HistoryMessage  `json:"messages,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Stream    bool              `json:"stream,omitempty"`
}

type singleShotResponse struct {
	Response string `json:"response"`
	Text     string `json:"text"`
}

// Client talks to the conversational AI gateway. It supports single-shot
// JSON responses and incrementally streamed token deltas behind one interface.
type Client struct {
	HTTPClient *http.Client
	GatewayURL string
	APIKey     string
	ClientID   string
	PersonaID  string
}

func NewClient(gatewayURL, apiKey, clientID, personaID string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		GatewayURL: gatewayURL,
		APIKey:     apiKey,
		ClientID:   clientID,
		PersonaID:  personaID,
	}
}

func (c *Client) post(ctx context.Context, req Request) (*http.Response, error) {
	if c.GatewayURL == "" {
		return nil, &TransportError{Op: "send", Err: fmt.Errorf("gateway url missing")}
	}
	req.ClientID = c.ClientID
	req.PersonaID = c.PersonaID
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

// Send performs a single-shot exchange and returns the complete reply text.
// An empty text field in a 2xx response is a hard failure for the turn.
func (c *Client) Send(ctx context.Context, req Request) (string, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sr singleShotResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &TransportError{Op: "decode", Err: err}
	}
	text := sr.Response
	if text == "" {
		text = sr.Text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &TransportError{Op: "decode", Err: fmt.Errorf("gateway returned empty reply")}
	}
	return text, nil
}

// Stream performs a streaming exchange, invoking onDelta for each text delta
// in arrival order, and returns the assembled reply once the stream ends.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = readDeltas(resp.Body, func(delta string) {
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})
	if err != nil {
		return "", &TransportError{Op: "stream", Err: err}
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", &TransportError{Op: "stream", Err: fmt.Errorf("stream ended with no content")}
	}
	return text, nil
}
