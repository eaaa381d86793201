package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oremus-labs/imagegen-bridge/internal/generation"
	"github.com/oremus-labs/imagegen-bridge/internal/sse"
)

// EventEnvelope mirrors the SSE payload emitted by /events.
type EventEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client talks to a running bridge.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

type apiError struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// Generate posts a prompt to /generate.
func (c *Client) Generate(ctx context.Context, prompt string, materialize *bool) (*generation.Response, error) {
	payload := map[string]interface{}{"text": prompt}
	if materialize != nil {
		payload["materialize"] = *materialize
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.ErrorType != "" {
				return nil, fmt.Errorf("POST /generate failed: %s (%s)", apiErr.Error, apiErr.ErrorType)
			}
			return nil, fmt.Errorf("POST /generate failed: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("POST /generate failed: %s", resp.Status)
	}

	var out generation.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// StreamEvents opens the SSE feed and invokes handler for each event.
// Returning false stops the stream.
func (c *Client) StreamEvents(ctx context.Context, handler func(EventEnvelope) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("GET /events failed: %s", resp.Status)
	}

	scanner := sse.NewScanner(resp.Body)
	for {
		frame, err := scanner.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		envelope, ok := parseEventFrame(frame)
		if !ok {
			continue
		}
		if handler != nil && !handler(envelope) {
			return nil
		}
	}
}

func parseEventFrame(frame string) (EventEnvelope, bool) {
	var (
		eventType string
		eventID   string
		dataLines []string
	)
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if len(dataLines) == 0 {
		return EventEnvelope{}, false
	}

	var envelope EventEnvelope
	if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &envelope); err != nil {
		return EventEnvelope{}, false
	}
	if envelope.Type == "" {
		envelope.Type = eventType
	}
	if envelope.ID == "" {
		envelope.ID = eventID
	}
	return envelope, true
}
