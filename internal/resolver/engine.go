// Package resolver consumes a generation event stream and resolves it to
// image URLs and, failing that, a correlation id for polling.
package resolver

import (
	"context"
	"errors"
	"io"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/logutil"
	"github.com/oremus-labs/imagegen-bridge/internal/protocol"
	"github.com/oremus-labs/imagegen-bridge/internal/sse"
)

// State is the position of a resolution in its state machine.
type State int

const (
	StateListening State = iota
	StateResolved
	StateStreamEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateResolved:
		return "resolved"
	case StateStreamEnded:
		return "stream_ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further frames will be consumed.
func (s State) Terminal() bool {
	return s != StateListening
}

// Observer receives resolution milestones. Implementations must not block.
type Observer interface {
	Progress(step float64)
	NodeCaptured(id string)
	Candidate(url string)
}

type nopObserver struct{}

func (nopObserver) Progress(float64)    {}
func (nopObserver) NodeCaptured(string) {}
func (nopObserver) Candidate(string)    {}

// Outcome is the terminal snapshot of one resolution. It is returned even
// when Resolve also returns an error, so callers can keep URLs found before a
// failure.
type Outcome struct {
	State           State
	Result          protocol.Result
	NodeID          string
	Frames          int
	MalformedFrames int
	EndMarker       bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the read size used on the stream body.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		e.chunkSize = n
	}
}

// Engine holds resolution settings. It keeps no per-stream state, so one
// Engine may serve many concurrent requests.
type Engine struct {
	chunkSize int
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve reads body until a frame yields at least one complete image, the
// stream-end event arrives, the body is exhausted, or a failure occurs.
//
// The returned error is non-nil only in StateFailed. A gateway error frame is
// acted on only once it is complete, after every frame ahead of it, so a
// result found earlier in the same chunk wins. Gateway errors are returned
// as-is; read failures become TransportError. Cancelling ctx while
// nothing has been found is a failure, not a stream end.
func (e *Engine) Resolve(ctx context.Context, body io.Reader, obs Observer) (*Outcome, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	s := &session{obs: obs, out: &Outcome{State: StateListening}}
	scanner := sse.NewScanner(body,
		sse.WithChunkSize(e.chunkSize),
		sse.WithInspect(protocol.DetectGatewayError),
	)

	for {
		if err := ctx.Err(); err != nil {
			return s.interrupted(err)
		}
		frame, err := scanner.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.out.State = StateStreamEnded
				return s.out, nil
			}
			if ctx.Err() != nil {
				return s.interrupted(ctx.Err())
			}
			return s.fail(err)
		}
		s.out.Frames++
		s.handleFrame(frame)
		if s.out.State.Terminal() {
			return s.out, nil
		}
	}
}

type session struct {
	obs Observer
	out *Outcome
}

func (s *session) interrupted(err error) (*Outcome, error) {
	if s.out.Result.Found() {
		s.out.State = StateResolved
		return s.out, nil
	}
	return s.fail(err)
}

func (s *session) fail(err error) (*Outcome, error) {
	s.out.State = StateFailed
	if bridgeerr.KindOf(err) == "" {
		err = bridgeerr.Transport("stream", err)
	}
	return s.out, err
}

func (s *session) handleFrame(frame string) {
	env, err := protocol.DecodeFrame(frame)
	if err != nil {
		if !errors.Is(err, protocol.ErrNoPayload) {
			s.out.MalformedFrames++
			logutil.Debug("frame_skipped", map[string]interface{}{"stage": "envelope", "error": err.Error()})
		}
		return
	}

	switch env.EventType {
	case protocol.EventPayload:
		s.handlePayload(env)
	case protocol.EventStreamEnd:
		s.out.EndMarker = true
		s.out.State = StateStreamEnded
	default:
		logutil.Debug("event_ignored", map[string]interface{}{"eventType": env.EventType.String()})
	}
}

func (s *session) handlePayload(env *protocol.EventEnvelope) {
	inner, err := protocol.DecodeInner(env)
	if err != nil {
		s.out.MalformedFrames++
		logutil.Debug("frame_skipped", map[string]interface{}{"stage": "inner", "error": err.Error()})
		return
	}

	if s.out.NodeID == "" {
		if id := inner.CorrelationID(); id != "" {
			s.out.NodeID = id
			s.obs.NodeCaptured(id)
		}
	}

	if inner.Message.IsImageCarrier() {
		content, err := protocol.DecodeContent(inner.Message)
		if err != nil {
			s.out.MalformedFrames++
			logutil.Debug("frame_skipped", map[string]interface{}{"stage": "content", "error": err.Error()})
			return
		}
		urls := content.CompleteURLs()
		logutil.Debug("image_carrier", map[string]interface{}{
			"creations": len(content.Creations),
			"statuses":  content.Statuses(),
		})
		for _, url := range urls {
			s.out.Result.Add(url)
			s.obs.Candidate(url)
		}
		if len(urls) > 0 {
			s.out.State = StateResolved
		}
		return
	}

	if inner.Step != nil {
		s.obs.Progress(*inner.Step)
	}
}
