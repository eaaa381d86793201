package protocol

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
)

// GatewayMarker is the event line the upstream gateway emits on failure.
// It is not framed as an envelope.
const GatewayMarker = "event: gateway-error"

var gatewayData = regexp.MustCompile(`data:\s*({.*})`)

type gatewayPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DetectGatewayError scans one complete frame, or the unterminated tail of
// a finished stream, for GatewayMarker. It returns nil when the marker is
// absent and an UpstreamGatewayError otherwise. The code and message come
// from the first data object after the marker; when that object is missing
// or undecodable the whole text becomes the message.
func DetectGatewayError(text string) error {
	idx := strings.Index(text, GatewayMarker)
	if idx < 0 {
		return nil
	}
	m := gatewayData.FindStringSubmatch(text[idx:])
	if m == nil {
		return bridgeerr.Gateway(0, text)
	}
	var payload gatewayPayload
	if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
		return bridgeerr.Gateway(0, text)
	}
	return bridgeerr.Gateway(payload.Code, payload.Message)
}
