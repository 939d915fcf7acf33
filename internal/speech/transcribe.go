package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transcriber sends a complete recorded audio buffer to the remote
// speech-to-text service. Used only when live recognition is unavailable.
type Transcriber struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

func NewTranscriber(baseURL, apiKey string) *Transcriber {
	return &Transcriber{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    baseURL,
		APIKey:     apiKey,
	}
}

// Transcribe uploads the audio buffer and returns the recognized text.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("speech: empty recording")
	}
	if t.BaseURL == "" {
		return "", fmt.Errorf("speech: transcription url missing")
	}

	body, _ := json.Marshal(map[string]string{
		"audio_base64": base64.StdEncoding.EncodeToString(audio),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech: transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("speech: transcription status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("speech: decode transcription: %w", err)
	}
	return out.Text, nil
}
