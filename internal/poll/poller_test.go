package poll

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
)

type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return ctx.Err()
}

type fakeFetcher struct {
	responses []fetchResult
	calls     int
}

type fetchResult struct {
	body []byte
	err  error
}

func (f *fakeFetcher) FetchNodeInfo(ctx context.Context, nodeID string) ([]byte, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.body, r.err
}

func messagesBody(t *testing.T, status int, url string) []byte {
	t.Helper()
	content, err := json.Marshal(map[string]interface{}{
		"creations": []map[string]interface{}{
			{"image": map[string]interface{}{"status": status, "image_raw": map[string]string{"url": url}}},
		},
	})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"code": 0,
		"data": map[string]interface{}{
			"messages": []map[string]interface{}{{"content_type": 2074, "content": string(content)}},
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func newTestPoller(f Fetcher, s *fakeSleeper) *Poller {
	return New(Options{
		Fetcher:  f,
		Schedule: Schedule{MaxAttempts: 5, Delay: 1500 * time.Millisecond, Sleeper: s},
	})
}

func TestPollFirstAttemptSuccessDoesNotSleep(t *testing.T) {
	sleeper := &fakeSleeper{}
	fetcher := &fakeFetcher{responses: []fetchResult{{body: messagesBody(t, 2, "https://img/p.png")}}}

	res, err := newTestPoller(fetcher, sleeper).Poll(context.Background(), "N1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.PrimaryURL != "https://img/p.png" {
		t.Fatalf("unexpected result %+v", res)
	}
	if fetcher.calls != 1 || len(sleeper.delays) != 0 {
		t.Fatalf("expected 1 call and no sleep, got %d calls %v", fetcher.calls, sleeper.delays)
	}
}

func TestPollExhaustsAfterMaxAttempts(t *testing.T) {
	sleeper := &fakeSleeper{}
	fetcher := &fakeFetcher{responses: []fetchResult{{body: []byte(`{"code":0,"data":{"status":"progress"}}`)}}}

	_, err := newTestPoller(fetcher, sleeper).Poll(context.Background(), "N1")
	if !errors.Is(err, bridgeerr.ErrPollExhausted) {
		t.Fatalf("expected PollExhausted, got %v", err)
	}
	if fetcher.calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", fetcher.calls)
	}
	want := []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond}
	if !reflect.DeepEqual(sleeper.delays, want) {
		t.Fatalf("expected four delays between five attempts, got %v", sleeper.delays)
	}
}

func TestPollRetriesEveryAttemptFailure(t *testing.T) {
	sleeper := &fakeSleeper{}
	fetcher := &fakeFetcher{responses: []fetchResult{
		{err: bridgeerr.TransportStatus("poll", 502, "502 Bad Gateway")},
		{body: []byte(`not json`)},
		{body: []byte(`{"code":1001,"msg":"busy"}`)},
		{body: messagesBody(t, 1, "https://img/pending.png")},
		{body: messagesBody(t, 2, "https://img/done.png")},
	}}

	res, err := newTestPoller(fetcher, sleeper).Poll(context.Background(), "N1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.PrimaryURL != "https://img/done.png" || fetcher.calls != 5 || len(sleeper.delays) != 4 {
		t.Fatalf("unexpected run: %+v calls=%d sleeps=%d", res, fetcher.calls, len(sleeper.delays))
	}
}

func TestPollExhaustedWrapsLastError(t *testing.T) {
	sleeper := &fakeSleeper{}
	last := bridgeerr.Transport("poll", errors.New("dial tcp: refused"))
	fetcher := &fakeFetcher{responses: []fetchResult{{err: last}}}

	_, err := newTestPoller(fetcher, sleeper).Poll(context.Background(), "N1")
	if !errors.Is(err, bridgeerr.ErrPollExhausted) || !errors.Is(err, bridgeerr.ErrTransport) {
		t.Fatalf("expected exhausted wrapping transport, got %v", err)
	}
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &fakeSleeper{}
	fetcher := &fakeFetcher{responses: []fetchResult{{body: []byte(`{"code":0,"data":null}`)}}}
	p := New(Options{
		Fetcher: FetcherFunc(func(ctx context.Context, nodeID string) ([]byte, error) {
			cancel()
			return fetcher.FetchNodeInfo(ctx, nodeID)
		}),
		Schedule: Schedule{MaxAttempts: 5, Sleeper: sleeper},
	})

	_, err := p.Poll(ctx, "N1")
	if !errors.Is(err, bridgeerr.ErrTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected polling to stop after cancel, got %d calls", fetcher.calls)
	}
}

func TestInterpretShapes(t *testing.T) {
	p := New(Options{Fetcher: &fakeFetcher{}})
	cases := []struct {
		name  string
		body  string
		shape string
		url   string
	}{
		{"elements", `{"code":0,"data":{"elements":[{"type":"image","url":"https://img/e"}]}}`, "elements", "https://img/e"},
		{"message.elements", `{"code":0,"data":{"message":{"elements":[{"type":"image","url":"https://img/me"}]}}}`, "message.elements", "https://img/me"},
		{"attachments", `{"code":0,"data":{"messages":[{"attachments":[{"type":"image","url":"https://img/att"}]}]}}`, "messages.attachments", "https://img/att"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := p.Interpret([]byte(tc.body))
			if err != nil {
				t.Fatalf("Interpret: %v", err)
			}
			if m.Shape != tc.shape || m.Result.PrimaryURL != tc.url {
				t.Fatalf("unexpected match %s %+v", m.Shape, m.Result)
			}
		})
	}

	m, err := p.Interpret(messagesBody(t, 2, "https://img/m"))
	if err != nil || m.Shape != "messages" || m.Result.PrimaryURL != "https://img/m" {
		t.Fatalf("unexpected messages match %+v %v", m, err)
	}
}

func TestInterpretRejectsNonImageRecords(t *testing.T) {
	p := New(Options{Fetcher: &fakeFetcher{}})
	for _, body := range []string{
		`{"code":0,"data":{"elements":[{"type":"text","url":"https://img/x"}]}}`,
		`{"code":0,"data":{"messages":[{"attachments":[{"type":"image","url":""}]}]}}`,
		`{"code":0,"data":{"messages":[{"content_type":2001,"content":"{}"}]}}`,
		`{"code":0,"data":{}}`,
	} {
		if _, err := p.Interpret([]byte(body)); !errors.Is(err, errNoCandidate) {
			t.Fatalf("%s: expected no candidate, got %v", body, err)
		}
	}
}

func TestInterpretErrors(t *testing.T) {
	p := New(Options{Fetcher: &fakeFetcher{}})
	if _, err := p.Interpret([]byte(`{`)); !errors.Is(err, bridgeerr.ErrMalformedFrame) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := p.Interpret([]byte(`{"code":7,"msg":"nope"}`)); !errors.Is(err, errUpstreamCode) {
		t.Fatalf("expected upstream code error, got %v", err)
	}
}

func TestScheduleAttemptsStopsOnBreak(t *testing.T) {
	sleeper := &fakeSleeper{}
	s := Schedule{MaxAttempts: 5, Delay: time.Second, Sleeper: sleeper}
	var seen []int
	for attempt := range s.Attempts(context.Background()) {
		seen = append(seen, attempt)
		if attempt == 2 {
			break
		}
	}
	if !reflect.DeepEqual(seen, []int{1, 2}) || len(sleeper.delays) != 1 {
		t.Fatalf("unexpected attempts %v sleeps %v", seen, sleeper.delays)
	}
}

func TestScheduleDefaults(t *testing.T) {
	s := Schedule{}.normalized()
	if s.MaxAttempts != DefaultMaxAttempts || s.Sleeper == nil {
		t.Fatalf("unexpected normalized schedule %+v", s)
	}
	if d := DefaultSchedule(); d.MaxAttempts != 5 || d.Delay != 1500*time.Millisecond {
		t.Fatalf("unexpected default schedule %+v", d)
	}
}
