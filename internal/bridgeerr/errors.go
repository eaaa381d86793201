// Package bridgeerr defines the error taxonomy shared by the generation
// pipeline. Every failure surfaced to a caller is an *Error carrying a Kind,
// and each Kind has a sentinel so callers can test with errors.Is.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind names a class of pipeline failure. The string value is returned to
// HTTP clients as errorType.
type Kind string

const (
	KindTransport       Kind = "TransportError"
	KindUpstreamGateway Kind = "UpstreamGatewayError"
	KindMalformedFrame  Kind = "MalformedFrameError"
	KindPollExhausted   Kind = "PollExhaustedError"
	KindNoImageFound    Kind = "NoImageFoundError"
	KindCodec           Kind = "CodecError"
	KindInvalidRequest  Kind = "InvalidRequestError"
)

// Sentinel errors, one per Kind.
var (
	ErrTransport       = errors.New("transport failure")
	ErrUpstreamGateway = errors.New("upstream gateway error")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrPollExhausted   = errors.New("poll attempts exhausted")
	ErrNoImageFound    = errors.New("no image found")
	ErrCodec           = errors.New("codec rejected input")
	ErrInvalidRequest  = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindTransport:       ErrTransport,
	KindUpstreamGateway: ErrUpstreamGateway,
	KindMalformedFrame:  ErrMalformedFrame,
	KindPollExhausted:   ErrPollExhausted,
	KindNoImageFound:    ErrNoImageFound,
	KindCodec:           ErrCodec,
	KindInvalidRequest:  ErrInvalidRequest,
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "submit", "poll", "download"
	Status  int    // HTTP status when the failure came from a response
	Code    int    // upstream error code when one was parsed
	Message string
	Err     error // underlying cause
}

func (e *Error) Error() string {
	var prefix string
	if e.Op != "" {
		prefix = e.Op + ": "
	}
	switch {
	case e.Kind == KindUpstreamGateway && e.Code != 0:
		return fmt.Sprintf("%s%s: %d - %s", prefix, e.Kind, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s%s (status %d): %s", prefix, e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s%s: %s", prefix, e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s%s: %v", prefix, e.Kind, e.Err)
	default:
		return prefix + string(e.Kind)
	}
}

// Unwrap exposes the cause so errors.Is can reach wrapped transport errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's Kind.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	return false
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Transport wraps a connection or HTTP failure.
func Transport(op string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindTransport, Op: op, Message: msg, Err: err}
}

// TransportStatus reports a non-success HTTP response.
func TransportStatus(op string, status int, body string) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Message: body}
}

// Gateway reports an explicit in-stream gateway error.
func Gateway(code int, message string) *Error {
	return &Error{Kind: KindUpstreamGateway, Op: "stream", Code: code, Message: message}
}

// MalformedFrame reports a frame that failed one of the decode stages.
func MalformedFrame(stage string, err error) *Error {
	return &Error{Kind: KindMalformedFrame, Op: stage, Err: err}
}

// PollExhausted reports that every poll attempt concluded without a result.
func PollExhausted(attempts int, last error) *Error {
	return &Error{
		Kind:    KindPollExhausted,
		Op:      "poll",
		Message: fmt.Sprintf("no image after %d attempts", attempts),
		Err:     last,
	}
}

// NoImageFound reports a stream that ended with nothing to poll for.
func NoImageFound(message string) *Error {
	return &Error{Kind: KindNoImageFound, Message: message}
}

// Codec reports a raster normalization failure.
func Codec(err error) *Error {
	return &Error{Kind: KindCodec, Op: "normalize", Err: err}
}

// InvalidRequest reports a caller error detected before any I/O.
func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}
