// Package sse splits an incrementally delivered event stream into
// blank-line delimited frames.
package sse

import (
	"bytes"
	"errors"
	"io"
)

// Delimiter separates frames on the wire.
const Delimiter = "\n\n"

const defaultChunkSize = 4 << 10

var delimiter = []byte(Delimiter)

// Splitter buffers raw bytes and yields complete frames. Bytes are kept
// undecoded until a frame is complete, so a chunk ending in the middle of a
// multi-byte character is harmless: the delimiter never occurs inside a
// UTF-8 sequence.
type Splitter struct {
	buf []byte
}

// Append adds a chunk to the buffer.
func (s *Splitter) Append(chunk []byte) {
	s.buf = append(s.buf, chunk...)
}

// Buffered returns the text currently held, complete frames included.
func (s *Splitter) Buffered() string {
	return string(s.buf)
}

// Frames removes and returns every complete frame in arrival order. The
// trailing, possibly incomplete, remainder stays buffered.
func (s *Splitter) Frames() []string {
	var frames []string
	for {
		idx := bytes.Index(s.buf, delimiter)
		if idx < 0 {
			break
		}
		frames = append(frames, string(s.buf[:idx]))
		s.buf = s.buf[idx+len(delimiter):]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return frames
}

// Discard drops any buffered remainder.
func (s *Splitter) Discard() {
	s.buf = nil
}

// InspectFunc examines each complete frame before it is returned, and the
// unterminated remainder once the source stops. A non-nil error aborts the
// scan. Frames ahead of the failing one have already been returned, so the
// outcome does not depend on how the source was chunked.
type InspectFunc func(frame string) error

// Option configures a Scanner.
type Option func(*Scanner)

// WithInspect installs a hook run on every frame.
func WithInspect(fn InspectFunc) Option {
	return func(s *Scanner) {
		s.inspect = fn
	}
}

// WithChunkSize sets the size of each read from the underlying source.
func WithChunkSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.chunk = make([]byte, n)
		}
	}
}

// Scanner reads chunks from a byte source and hands out frames one at a time.
type Scanner struct {
	r       io.Reader
	split   Splitter
	pending []string
	chunk   []byte
	inspect InspectFunc
	err     error
}

// NewScanner wraps r.
func NewScanner(r io.Reader, opts ...Option) *Scanner {
	s := &Scanner{r: r}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunk == nil {
		s.chunk = make([]byte, defaultChunkSize)
	}
	return s
}

// Next returns the next complete frame. It returns io.EOF once the source is
// exhausted; an unterminated remainder is inspected but never emitted. Other
// read errors are returned unchanged after the frames completed before them.
func (s *Scanner) Next() (string, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return "", s.finish()
		}
		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.split.Append(s.chunk[:n])
			s.pending = s.split.Frames()
		}
		if err != nil {
			s.err = err
		}
	}

	frame := s.pending[0]
	s.pending = s.pending[1:]
	if s.inspect != nil {
		if err := s.inspect(frame); err != nil {
			s.pending = nil
			s.split.Discard()
			s.err = err
			return "", err
		}
	}
	return frame, nil
}

// finish inspects whatever the source left unterminated, once, and returns
// the sticky stop error.
func (s *Scanner) finish() error {
	rest := s.split.Buffered()
	s.split.Discard()
	if rest != "" && s.inspect != nil {
		if err := s.inspect(rest); err != nil {
			s.err = err
		}
	}
	if errors.Is(s.err, io.EOF) {
		return io.EOF
	}
	return s.err
}
