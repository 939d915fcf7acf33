package leads

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

// Lead carries the contact fields captured from the lead form card.
type Lead struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	Notes     string `json:"notes,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Confirmation is the collaborator's acknowledgement payload.
type Confirmation struct {
	LeadID  string `json:"lead_id"`
	Message string `json:"message"`
}

// Notifier publishes a lead-captured event after a successful capture.
type Notifier interface {
	LeadCaptured(ctx context.Context, lead Lead, conf Confirmation) error
}

// Client forwards captured leads to the lead-capture collaborator.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	notifier   Notifier
}

func NewClient(baseURL string, notifier Notifier) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    baseURL,
		notifier:   notifier,
	}
}

// Capture validates and forwards a lead. Notification failures are reported
// by the caller's logger, not surfaced to the visitor; the capture itself
// already succeeded.
func (c *Client) Capture(ctx context.Context, lead Lead) (Confirmation, error) {
	if strings.TrimSpace(lead.Email) == "" {
		return Confirmation{}, fmt.Errorf("leads: email is required")
	}
	if c.BaseURL == "" {
		return Confirmation{}, fmt.Errorf("leads: base url missing")
	}

	body, _ := json.Marshal(lead)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/leads", bytes.NewReader(body))
	if err != nil {
		return Confirmation{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Confirmation{}, fmt.Errorf("leads: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Confirmation{}, fmt.Errorf("leads: status=%d body=%s", resp.StatusCode, string(b))
	}

	var conf Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return Confirmation{}, fmt.Errorf("leads: decode response: %w", err)
	}

	if c.notifier != nil {
		if nerr := c.notifier.LeadCaptured(ctx, lead, conf); nerr != nil {
			return conf, fmt.Errorf("leads: captured but notification failed: %w", nerr)
		}
	}
	return conf, nil
}
