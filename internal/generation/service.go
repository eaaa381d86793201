// Package generation turns a prompt into resolved image URLs by submitting
// it upstream, resolving the event stream and falling back to polling.
package generation

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/oremus-labs/imagegen-bridge/internal/artifact"
	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/events"
	"github.com/oremus-labs/imagegen-bridge/internal/logutil"
	"github.com/oremus-labs/imagegen-bridge/internal/metrics"
	"github.com/oremus-labs/imagegen-bridge/internal/protocol"
	"github.com/oremus-labs/imagegen-bridge/internal/resolver"
	"github.com/oremus-labs/imagegen-bridge/internal/store"
)

// Result sources.
const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// Submitter opens the upstream event stream for a request.
type Submitter interface {
	Submit(ctx context.Context, req *protocol.GenerationRequest) (io.ReadCloser, error)
}

// Poller resolves a correlation id through the status endpoint.
type Poller interface {
	Poll(ctx context.Context, nodeID string) (*protocol.Result, error)
}

// Materializer writes a resolved image to storage.
type Materializer interface {
	Materialize(ctx context.Context, url string) (*artifact.Artifact, error)
}

// ArtifactRecorder persists the latest artifact reference.
type ArtifactRecorder interface {
	SaveArtifact(ctx context.Context, rec *store.ArtifactRecord) error
}

// Options wire a Service. Materializer, Recorder and Events are optional.
type Options struct {
	Submitter    Submitter
	Engine       *resolver.Engine
	Poller       Poller
	Materializer Materializer
	Recorder     ArtifactRecorder
	Events       events.Publisher

	// MaterializeByDefault applies when a Request does not choose.
	MaterializeByDefault bool
}

// Service runs generations. All per-request state lives in Generate, so one
// Service serves concurrent callers.
type Service struct {
	submitter    Submitter
	engine       *resolver.Engine
	poller       Poller
	materializer Materializer
	recorder     ArtifactRecorder
	events       events.Publisher

	// materializeDefault applies when a Request leaves Materialize nil.
	materializeDefault bool
}

// NewService validates the wiring.
func NewService(opts Options) (*Service, error) {
	if opts.Submitter == nil {
		return nil, errors.New("generation submitter is required")
	}
	if opts.Poller == nil {
		return nil, errors.New("generation poller is required")
	}
	engine := opts.Engine
	if engine == nil {
		engine = resolver.New()
	}
	return &Service{
		submitter:          opts.Submitter,
		engine:             engine,
		poller:             opts.Poller,
		materializer:       opts.Materializer,
		recorder:           opts.Recorder,
		events:             opts.Events,
		materializeDefault: opts.MaterializeByDefault,
	}, nil
}

// Request is one generation call.
type Request struct {
	Prompt    string
	RequestID string
	// Materialize overrides the service default when non-nil.
	Materialize *bool
}

// Response is the resolved result of a generation.
type Response struct {
	URL           string             `json:"url"`
	URLs          []string           `json:"urls"`
	Source        string             `json:"source"`
	NodeID        string             `json:"nodeId,omitempty"`
	Artifact      *artifact.Artifact `json:"artifact,omitempty"`
	ArtifactError string             `json:"artifactError,omitempty"`
}

// MaterializeEnabled reports whether requests materialize unless they opt out.
func (s *Service) MaterializeEnabled() bool {
	return s.materializer != nil && s.materializeDefault
}

// Generate resolves req to image URLs. A result holding at least one URL is
// returned even when the stream later failed.
func (s *Service) Generate(ctx context.Context, req Request) (resp *Response, err error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, bridgeerr.InvalidRequest("text must not be empty")
	}

	start := time.Now()
	source := ""
	defer func() {
		status := "success"
		if err != nil {
			status = string(bridgeerr.KindOf(err))
			s.publish(ctx, req.RequestID, events.TypeFailed, map[string]interface{}{
				"error":     err.Error(),
				"errorType": status,
			})
		}
		metrics.ObserveGeneration(source, status, time.Since(start))
	}()

	genReq := protocol.NewGenerationRequest(prompt)
	logutil.Info("generation_submitted", map[string]interface{}{
		"requestId":      req.RequestID,
		"localMessageId": genReq.LocalMessageID,
		"promptLength":   len(prompt),
	})
	s.publish(ctx, req.RequestID, events.TypeSubmitted, map[string]interface{}{"localMessageId": genReq.LocalMessageID})

	body, err := s.submitter.Submit(ctx, genReq)
	if err != nil {
		return nil, err
	}
	outcome, streamErr := s.resolveStream(ctx, body, req.RequestID)

	switch {
	case outcome.Result.Found():
		if streamErr != nil {
			logutil.Warn("generation_degraded_success", map[string]interface{}{
				"requestId": req.RequestID,
				"error":     streamErr.Error(),
			})
		}
		source = SourceStream
		resp = &Response{URL: outcome.Result.PrimaryURL, URLs: outcome.Result.AllURLs, Source: source, NodeID: outcome.NodeID}
	case streamErr != nil:
		return nil, streamErr
	case outcome.NodeID == "":
		return nil, bridgeerr.NoImageFound("stream ended without images or a node id to poll")
	default:
		logutil.Info("generation_poll_fallback", map[string]interface{}{
			"requestId": req.RequestID,
			"nodeId":    outcome.NodeID,
		})
		s.publish(ctx, req.RequestID, events.TypePollStarted, map[string]interface{}{"nodeId": outcome.NodeID})
		result, err := s.poller.Poll(ctx, outcome.NodeID)
		if err != nil {
			return nil, err
		}
		source = SourcePoll
		resp = &Response{URL: result.PrimaryURL, URLs: result.AllURLs, Source: source, NodeID: outcome.NodeID}
	}

	s.publish(ctx, req.RequestID, events.TypeCompleted, map[string]interface{}{
		"url":    resp.URL,
		"urls":   resp.URLs,
		"source": resp.Source,
	})

	persist := s.MaterializeEnabled()
	if req.Materialize != nil {
		persist = *req.Materialize && s.materializer != nil
	}
	if persist {
		s.materializeResult(ctx, req, prompt, resp)
	}
	return resp, nil
}

func (s *Service) resolveStream(ctx context.Context, body io.ReadCloser, requestID string) (*resolver.Outcome, error) {
	defer body.Close()
	outcome, err := s.engine.Resolve(ctx, body, &observer{svc: s, ctx: ctx, requestID: requestID})
	metrics.ObserveStream(outcome.State.String(), outcome.MalformedFrames)
	logutil.Info("stream_resolved", map[string]interface{}{
		"requestId":       requestID,
		"state":           outcome.State.String(),
		"frames":          outcome.Frames,
		"malformedFrames": outcome.MalformedFrames,
		"urls":            len(outcome.Result.AllURLs),
		"nodeId":          outcome.NodeID,
		"endMarker":       outcome.EndMarker,
	})
	return outcome, err
}

// materializeResult stores the primary image. Failures are reported on the
// response rather than discarding resolved URLs.
func (s *Service) materializeResult(ctx context.Context, req Request, prompt string, resp *Response) {
	art, err := s.materializer.Materialize(ctx, resp.URL)
	if err != nil {
		logutil.Error("artifact_materialize_failed", err, map[string]interface{}{
			"requestId": req.RequestID,
			"url":       resp.URL,
		})
		resp.ArtifactError = err.Error()
		return
	}
	resp.Artifact = art
	s.publish(ctx, req.RequestID, events.TypeMaterialized, art)

	if s.recorder == nil {
		return
	}
	rec := &store.ArtifactRecord{
		Ref:         art.Ref,
		SourceURL:   art.SourceURL,
		ContentType: art.ContentType,
		Size:        art.Size,
		Normalized:  art.Normalized,
		Prompt:      prompt,
	}
	if err := s.recorder.SaveArtifact(ctx, rec); err != nil {
		logutil.Error("artifact_record_failed", err, map[string]interface{}{"ref": art.Ref})
	}
}

func (s *Service) publish(ctx context.Context, requestID, typ string, data interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, events.Event{Type: typ, RequestID: requestID, Data: data}); err != nil {
		logutil.Warn("event_publish_failed", map[string]interface{}{"type": typ, "error": err.Error()})
	}
}

// observer relays resolver milestones to logs and the event bus.
type observer struct {
	svc       *Service
	ctx       context.Context
	requestID string
}

func (o *observer) Progress(step float64) {
	percent := int(math.Round(step * 100))
	logutil.Info("generation_progress", map[string]interface{}{"requestId": o.requestID, "percent": percent})
	o.svc.publish(o.ctx, o.requestID, events.TypeProgress, map[string]interface{}{"percent": percent})
}

func (o *observer) NodeCaptured(id string) {
	logutil.Info("node_captured", map[string]interface{}{"requestId": o.requestID, "nodeId": id})
	o.svc.publish(o.ctx, o.requestID, events.TypeNodeCaptured, map[string]interface{}{"nodeId": id})
}

func (o *observer) Candidate(url string) {
	logutil.Info("image_candidate", map[string]interface{}{"requestId": o.requestID, "url": url})
	o.svc.publish(o.ctx, o.requestID, events.TypeCandidate, map[string]interface{}{"url": url})
}
