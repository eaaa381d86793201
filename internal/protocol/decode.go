package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
)

// PayloadPrefix starts the line that carries a frame's envelope.
const PayloadPrefix = "data: "

// ErrNoPayload is returned for frames without a data line. Such frames are
// comments, keep-alives or event-name-only blocks.
var ErrNoPayload = errors.New("frame has no payload line")

// PayloadLine returns the text after PayloadPrefix on the first matching
// line of frame.
func PayloadLine(frame string) (string, bool) {
	for _, line := range strings.Split(strings.TrimSpace(frame), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, PayloadPrefix) {
			return line[len(PayloadPrefix):], true
		}
	}
	return "", false
}

// DecodeFrame is the first decode stage. Frames without a payload line yield
// ErrNoPayload; undecodable payloads yield a MalformedFrameError.
func DecodeFrame(frame string) (*EventEnvelope, error) {
	payload, ok := PayloadLine(frame)
	if !ok {
		return nil, ErrNoPayload
	}
	var env EventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, bridgeerr.MalformedFrame("envelope", err)
	}
	return &env, nil
}

// DecodeInner is the second decode stage, applied to event_data.
func DecodeInner(env *EventEnvelope) (*InnerEnvelope, error) {
	if env == nil || env.EventData == "" {
		return nil, bridgeerr.MalformedFrame("inner", errors.New("empty event_data"))
	}
	var inner InnerEnvelope
	if err := json.Unmarshal([]byte(env.EventData), &inner); err != nil {
		return nil, bridgeerr.MalformedFrame("inner", err)
	}
	return &inner, nil
}

// DecodeContent is the third decode stage, applied to an image carrier's
// content string.
func DecodeContent(msg *Message) (*Content, error) {
	if msg == nil || msg.Content == "" {
		return nil, bridgeerr.MalformedFrame("content", errors.New("empty content"))
	}
	var content Content
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		return nil, bridgeerr.MalformedFrame("content", err)
	}
	return &content, nil
}
