package sse

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

const stream = "data: {\"a\":1}\n\n" +
	"data: {\"text\":\"生成图片\"}\n\n" +
	": keep-alive\n\n" +
	"data: {\"nested\":{\"k\":[1,2,3]}}\n\n" +
	"data: trailing-without-delimiter"

func collect(t *testing.T, r io.Reader, opts ...Option) []string {
	t.Helper()
	sc := NewScanner(r, opts...)
	var frames []string
	for {
		frame, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, frame)
	}
}

func TestScannerChunkBoundaryEquivalence(t *testing.T) {
	want := collect(t, strings.NewReader(stream))
	if len(want) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(want), want)
	}

	// Every chunk size splits the stream at a different offset, including
	// inside the multi-byte characters and inside JSON tokens.
	for size := 1; size <= len(stream); size++ {
		got := collect(t, strings.NewReader(stream), WithChunkSize(size))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: got %q want %q", size, got, want)
		}
	}

	got := collect(t, iotest.OneByteReader(strings.NewReader(stream)))
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("one byte reader: got %q want %q", got, want)
	}
}

func TestScannerDropsUnterminatedRemainder(t *testing.T) {
	frames := collect(t, strings.NewReader("data: 1\n\ndata: 2"))
	if len(frames) != 1 || frames[0] != "data: 1" {
		t.Fatalf("unexpected frames %q", frames)
	}
}

func TestScannerInspectSeesCompleteFrames(t *testing.T) {
	boom := errors.New("boom")
	input := "data: 1\n\nevent: bad\ndata: 2\n\ndata: 3\n\n"
	for size := 1; size <= len(input); size++ {
		var seen []string
		sc := NewScanner(strings.NewReader(input),
			WithChunkSize(size),
			WithInspect(func(frame string) error {
				seen = append(seen, frame)
				if strings.Contains(frame, "event: bad") {
					return boom
				}
				return nil
			}),
		)

		frame, err := sc.Next()
		if err != nil || frame != "data: 1" {
			t.Fatalf("chunk %d: first frame %q %v", size, frame, err)
		}
		if _, err := sc.Next(); !errors.Is(err, boom) {
			t.Fatalf("chunk %d: expected inspect error, got %v", size, err)
		}
		if _, err := sc.Next(); !errors.Is(err, boom) {
			t.Fatalf("chunk %d: inspect error should be sticky, got %v", size, err)
		}
		want := []string{"data: 1", "event: bad\ndata: 2"}
		if !reflect.DeepEqual(seen, want) {
			t.Fatalf("chunk %d: inspect saw %q want %q", size, seen, want)
		}
	}
}

func TestScannerInspectsRemainderAtEOF(t *testing.T) {
	boom := errors.New("boom")
	var seen []string
	sc := NewScanner(strings.NewReader("data: 1\n\nevent: bad\n"),
		WithInspect(func(text string) error {
			seen = append(seen, text)
			if strings.Contains(text, "event: bad") {
				return boom
			}
			return nil
		}),
	)
	if frame, err := sc.Next(); err != nil || frame != "data: 1" {
		t.Fatalf("first frame: %q %v", frame, err)
	}
	if _, err := sc.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected inspect error on remainder, got %v", err)
	}
	if len(seen) != 2 || seen[1] != "event: bad\n" {
		t.Fatalf("unexpected inspected text %q", seen)
	}

	clean := NewScanner(strings.NewReader("data: 1"), WithInspect(func(string) error { return nil }))
	if _, err := clean.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after clean remainder, got %v", err)
	}
}

func TestScannerReturnsFramesBeforeReadError(t *testing.T) {
	failure := errors.New("connection reset")
	sc := NewScanner(io.MultiReader(strings.NewReader("data: 1\n\n"), iotest.ErrReader(failure)))
	if frame, err := sc.Next(); err != nil || frame != "data: 1" {
		t.Fatalf("first frame: %q %v", frame, err)
	}
	if _, err := sc.Next(); !errors.Is(err, failure) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestScannerPropagatesReadErrors(t *testing.T) {
	failure := errors.New("connection reset")
	sc := NewScanner(iotest.ErrReader(failure))
	if _, err := sc.Next(); !errors.Is(err, failure) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestSplitterKeepsRemainder(t *testing.T) {
	var s Splitter
	s.Append([]byte("a\n\nb\n"))
	if got := s.Frames(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("unexpected frames %q", got)
	}
	if s.Buffered() != "b\n" {
		t.Fatalf("unexpected remainder %q", s.Buffered())
	}
	s.Append([]byte("\nc"))
	if got := s.Frames(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("unexpected frames %q", got)
	}
	s.Discard()
	if s.Buffered() != "" {
		t.Fatalf("expected empty buffer after discard")
	}
}
