package solar

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

// Summary is the opaque numeric result of a solar-potential analysis.
// Values are forwarded into a presentation card, never interpreted here.
type Summary struct {
	AnnualKWh   float64 `json:"annual_kwh"`
	PanelCount  int     `json:"panel_count"`
	AreaM2      float64 `json:"area_m2"`
	CO2OffsetKg float64 `json:"co2_offset_kg"`
	ImageURL    string  `json:"image_url"`
	Address     string  `json:"address"`
}

// Client calls the solar-analysis collaborator.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 20 * time.Second}, BaseURL: baseURL}
}

// Analyze requests a rooftop analysis for the given address.
func (c *Client) Analyze(ctx context.Context, address string) (Summary, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Summary{}, fmt.Errorf("solar: empty address")
	}
	if c.BaseURL == "" {
		return Summary{}, fmt.Errorf("solar: base url missing")
	}

	body, _ := json.Marshal(map[string]string{"address": address})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return Summary{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("solar: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Summary{}, fmt.Errorf("solar: status=%d body=%s", resp.StatusCode, string(b))
	}

	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Summary{}, fmt.Errorf("solar: decode response: %w", err)
	}
	s.Address = address
	return s, nil
}
