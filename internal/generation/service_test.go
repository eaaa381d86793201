package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/oremus-labs/imagegen-bridge/internal/artifact"
	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/events"
	"github.com/oremus-labs/imagegen-bridge/internal/protocol"
	"github.com/oremus-labs/imagegen-bridge/internal/store"
)

type fakeSubmitter struct {
	body    io.Reader
	err     error
	prompts []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, req *protocol.GenerationRequest) (io.ReadCloser, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(f.body), nil
}

type fakePoller struct {
	result *protocol.Result
	err    error
	nodes  []string
}

func (f *fakePoller) Poll(ctx context.Context, nodeID string) (*protocol.Result, error) {
	f.nodes = append(f.nodes, nodeID)
	return f.result, f.err
}

type fakeMaterializer struct {
	err  error
	urls []string
}

func (f *fakeMaterializer) Materialize(ctx context.Context, url string) (*artifact.Artifact, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Artifact{Ref: "/pic.png", SourceURL: url, Normalized: true, Size: 3}, nil
}

type fakeRecorder struct {
	records []*store.ArtifactRecord
}

func (f *fakeRecorder) SaveArtifact(ctx context.Context, rec *store.ArtifactRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (f *fakePublisher) Publish(ctx context.Context, evt events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, evt.Type)
	return nil
}

func (f *fakePublisher) has(typ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.types {
		if t == typ {
			return true
		}
	}
	return false
}

func frame(t *testing.T, inner map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	env, err := json.Marshal(map[string]interface{}{"event_type": 2001, "event_data": string(data)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return "data: " + string(env) + "\n\n"
}

func imageFrame(t *testing.T, url string) string {
	t.Helper()
	content, _ := json.Marshal(map[string]interface{}{
		"creations": []map[string]interface{}{
			{"image": map[string]interface{}{"status": 2, "image_ori": map[string]string{"url": url}}},
		},
	})
	return frame(t, map[string]interface{}{
		"node_id": "N1",
		"message": map[string]interface{}{"id": "m1", "content_type": 2074, "content": string(content)},
	})
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestGenerateFromStream(t *testing.T) {
	pub := &fakePublisher{}
	poller := &fakePoller{}
	sub := &fakeSubmitter{body: strings.NewReader(frame(t, map[string]interface{}{"step": 0.4}) + imageFrame(t, "https://img/s.png"))}
	svc := newService(t, Options{Submitter: sub, Poller: poller, Events: pub})

	resp, err := svc.Generate(context.Background(), Request{Prompt: "  a fox  ", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.URL != "https://img/s.png" || resp.Source != SourceStream || resp.NodeID != "N1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if sub.prompts[0] != "a fox" {
		t.Fatalf("prompt should be trimmed, got %q", sub.prompts[0])
	}
	if len(poller.nodes) != 0 {
		t.Fatal("poller must not run when the stream resolved")
	}
	for _, typ := range []string{events.TypeSubmitted, events.TypeProgress, events.TypeNodeCaptured, events.TypeCandidate, events.TypeCompleted} {
		if !pub.has(typ) {
			t.Fatalf("expected %s event, got %v", typ, pub.types)
		}
	}
}

func TestGenerateFallsBackToPoll(t *testing.T) {
	poller := &fakePoller{result: protocol.ResultOf("https://img/p1", "https://img/p2")}
	sub := &fakeSubmitter{body: strings.NewReader(frame(t, map[string]interface{}{"node_id": "N9"}) + "data: {\"event_type\":2003,\"event_data\":\"{}\"}\n\n")}
	svc := newService(t, Options{Submitter: sub, Poller: poller})

	resp, err := svc.Generate(context.Background(), Request{Prompt: "fox"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Source != SourcePoll || resp.URL != "https://img/p1" || len(resp.URLs) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(poller.nodes) != 1 || poller.nodes[0] != "N9" {
		t.Fatalf("expected poll with N9, got %v", poller.nodes)
	}
}

func TestGenerateNoNodeIDIsNoImageFound(t *testing.T) {
	poller := &fakePoller{}
	sub := &fakeSubmitter{body: strings.NewReader(": keep-alive\n\n")}
	svc := newService(t, Options{Submitter: sub, Poller: poller})

	_, err := svc.Generate(context.Background(), Request{Prompt: "fox"})
	if !errors.Is(err, bridgeerr.ErrNoImageFound) {
		t.Fatalf("expected NoImageFound, got %v", err)
	}
	if len(poller.nodes) != 0 {
		t.Fatal("poller must not run without a node id")
	}
}

func TestGeneratePropagatesPollExhausted(t *testing.T) {
	poller := &fakePoller{err: bridgeerr.PollExhausted(5, nil)}
	sub := &fakeSubmitter{body: strings.NewReader(frame(t, map[string]interface{}{"node_id": "N1"}))}
	pub := &fakePublisher{}
	svc := newService(t, Options{Submitter: sub, Poller: poller, Events: pub})

	_, err := svc.Generate(context.Background(), Request{Prompt: "fox"})
	if !errors.Is(err, bridgeerr.ErrPollExhausted) {
		t.Fatalf("expected PollExhausted, got %v", err)
	}
	if !pub.has(events.TypeFailed) {
		t.Fatalf("expected failure event, got %v", pub.types)
	}
}

func TestGenerateStreamFailureWithoutURLs(t *testing.T) {
	poller := &fakePoller{}
	body := io.MultiReader(
		strings.NewReader(frame(t, map[string]interface{}{"node_id": "N1"})),
		iotest.ErrReader(errors.New("connection reset")),
	)
	svc := newService(t, Options{Submitter: &fakeSubmitter{body: body}, Poller: poller})

	_, err := svc.Generate(context.Background(), Request{Prompt: "fox"})
	if !errors.Is(err, bridgeerr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(poller.nodes) != 0 {
		t.Fatal("a failed stream must not fall back to polling")
	}
}

func TestGenerateGatewayError(t *testing.T) {
	body := strings.NewReader("event: gateway-error\ndata: {\"code\":500,\"message\":\"boom\"}\n\n")
	svc := newService(t, Options{Submitter: &fakeSubmitter{body: body}, Poller: &fakePoller{}})

	_, err := svc.Generate(context.Background(), Request{Prompt: "fox"})
	if bridgeerr.KindOf(err) != bridgeerr.KindUpstreamGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := newService(t, Options{Submitter: sub, Poller: &fakePoller{}})

	_, err := svc.Generate(context.Background(), Request{Prompt: "   "})
	if !errors.Is(err, bridgeerr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if len(sub.prompts) != 0 {
		t.Fatal("empty prompt must not reach the upstream")
	}
}

func TestGenerateSubmitError(t *testing.T) {
	sub := &fakeSubmitter{err: bridgeerr.TransportStatus("submit", 401, "401 Unauthorized")}
	svc := newService(t, Options{Submitter: sub, Poller: &fakePoller{}})

	if _, err := svc.Generate(context.Background(), Request{Prompt: "fox"}); !errors.Is(err, bridgeerr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestGenerateMaterializesAndRecords(t *testing.T) {
	mat := &fakeMaterializer{}
	rec := &fakeRecorder{}
	sub := &fakeSubmitter{body: strings.NewReader(imageFrame(t, "https://img/m.png"))}
	svc := newService(t, Options{Submitter: sub, Poller: &fakePoller{}, Materializer: mat, Recorder: rec, MaterializeByDefault: true})

	resp, err := svc.Generate(context.Background(), Request{Prompt: "fox"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Artifact == nil || resp.Artifact.Ref != "/pic.png" {
		t.Fatalf("expected artifact, got %+v", resp)
	}
	if len(rec.records) != 1 || rec.records[0].SourceURL != "https://img/m.png" || rec.records[0].Prompt != "fox" {
		t.Fatalf("unexpected recorded artifact %+v", rec.records)
	}
}

func TestGenerateMaterializeOverrideAndFailure(t *testing.T) {
	mat := &fakeMaterializer{err: bridgeerr.TransportStatus("download", 404, "404 Not Found")}
	off := false
	svc := newService(t, Options{
		Submitter:            &fakeSubmitter{body: strings.NewReader(imageFrame(t, "https://img/a.png"))},
		Poller:               &fakePoller{},
		Materializer:         mat,
		MaterializeByDefault: true,
	})

	resp, err := svc.Generate(context.Background(), Request{Prompt: "fox", Materialize: &off})
	if err != nil || resp.Artifact != nil || len(mat.urls) != 0 {
		t.Fatalf("materialization should be skipped: %+v %v", resp, err)
	}

	svc.submitter = &fakeSubmitter{body: strings.NewReader(imageFrame(t, "https://img/b.png"))}
	resp, err = svc.Generate(context.Background(), Request{Prompt: "fox"})
	if err != nil {
		t.Fatalf("URLs must survive a materialization failure: %v", err)
	}
	if resp.URL != "https://img/b.png" || resp.ArtifactError == "" {
		t.Fatalf("expected artifact error on response, got %+v", resp)
	}
}

func TestGenerateMaterializeOptIn(t *testing.T) {
	mat := &fakeMaterializer{}
	on := true
	svc := newService(t, Options{
		Submitter:    &fakeSubmitter{body: strings.NewReader(imageFrame(t, "https://img/c.png"))},
		Poller:       &fakePoller{},
		Materializer: mat,
	})
	if svc.MaterializeEnabled() {
		t.Fatal("materialization should be off by default")
	}

	resp, err := svc.Generate(context.Background(), Request{Prompt: "fox", Materialize: &on})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Artifact == nil || len(mat.urls) != 1 || mat.urls[0] != "https://img/c.png" {
		t.Fatalf("expected opt-in materialization, got %+v", resp)
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(Options{Poller: &fakePoller{}}); err == nil {
		t.Fatal("expected submitter error")
	}
	if _, err := NewService(Options{Submitter: &fakeSubmitter{}}); err == nil {
		t.Fatal("expected poller error")
	}
}
