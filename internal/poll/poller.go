// Package poll resolves a generation by repeatedly querying the upstream
// status endpoint with the stream's correlation id.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/logutil"
	"github.com/oremus-labs/imagegen-bridge/internal/metrics"
	"github.com/oremus-labs/imagegen-bridge/internal/protocol"
)

// Fetcher performs one status request and returns the raw response body.
type Fetcher interface {
	FetchNodeInfo(ctx context.Context, nodeID string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, nodeID string) ([]byte, error)

// FetchNodeInfo calls f.
func (f FetcherFunc) FetchNodeInfo(ctx context.Context, nodeID string) ([]byte, error) {
	return f(ctx, nodeID)
}

// Options configure a Poller.
type Options struct {
	Fetcher  Fetcher
	Schedule Schedule
	Shapes   []Shape
}

// Poller drives the bounded retry loop. It keeps no state between calls.
type Poller struct {
	fetcher  Fetcher
	schedule Schedule
	shapes   []Shape
}

// New creates a Poller. A zero MaxAttempts falls back to DefaultMaxAttempts
// and a nil Sleeper to TimerSleeper.
func New(opts Options) *Poller {
	shapes := opts.Shapes
	if len(shapes) == 0 {
		shapes = DefaultShapes()
	}
	return &Poller{
		fetcher:  opts.Fetcher,
		schedule: opts.Schedule.normalized(),
		shapes:   shapes,
	}
}

// Attempt errors that are logged and retried, never returned directly.
var (
	errUpstreamCode = errors.New("upstream returned non-zero code")
	errNoCandidate  = errors.New("no complete candidate yet")
)

type statusResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Match is the outcome of interpreting one status response.
type Match struct {
	Shape  string
	Result *protocol.Result
}

// Poll queries the status endpoint until a shape yields a complete candidate
// or the schedule runs out. Every per-attempt failure is retried; exhausting
// the schedule returns PollExhaustedError wrapping the last attempt error.
func (p *Poller) Poll(ctx context.Context, nodeID string) (*protocol.Result, error) {
	if p.fetcher == nil {
		return nil, fmt.Errorf("poller not configured")
	}
	start := time.Now()
	attempts := 0
	var lastErr error

	for attempt := range p.schedule.Attempts(ctx) {
		attempts = attempt
		logutil.Info("poll_attempt", map[string]interface{}{
			"nodeId":      nodeID,
			"attempt":     attempt,
			"maxAttempts": p.schedule.MaxAttempts,
		})

		body, err := p.fetcher.FetchNodeInfo(ctx, nodeID)
		if err != nil {
			lastErr = err
			logutil.Warn("poll_attempt_failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}

		match, err := p.Interpret(body)
		if err != nil {
			lastErr = err
			logutil.Debug("poll_attempt_unresolved", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}

		logutil.Info("poll_resolved", map[string]interface{}{
			"nodeId": nodeID,
			"shape":  match.Shape,
			"urls":   len(match.Result.AllURLs),
		})
		metrics.ObservePoll("resolved", attempt, time.Since(start))
		return match.Result, nil
	}

	if err := ctx.Err(); err != nil {
		metrics.ObservePoll("cancelled", attempts, time.Since(start))
		return nil, bridgeerr.Transport("poll", err)
	}
	metrics.ObservePoll("exhausted", attempts, time.Since(start))
	return nil, bridgeerr.PollExhausted(attempts, lastErr)
}

// Interpret decodes one status response and runs the shapes in order. The
// first shape producing at least one URL wins.
func (p *Poller) Interpret(body []byte) (*Match, error) {
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, bridgeerr.MalformedFrame("status", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: %d %s", errUpstreamCode, resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, errNoCandidate
	}

	for _, shape := range p.shapes {
		urls, err := shape.Match(resp.Data)
		if err != nil {
			logutil.Debug("poll_shape_error", map[string]interface{}{"shape": shape.Name, "error": err.Error()})
			continue
		}
		if len(urls) > 0 {
			return &Match{Shape: shape.Name, Result: protocol.ResultOf(urls...)}, nil
		}
	}

	var progress struct {
		Status any `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &progress); err == nil && progress.Status == "progress" {
		logutil.Debug("poll_in_progress", nil)
	}
	return nil, errNoCandidate
}
