// Package upstream talks to the remote generation service: it submits
// completions, fetches node status for polling and downloads image bytes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/protocol"
)

const (
	completionPath = "/samantha/chat/completion"
	nodeInfoPath   = "/samantha/aispace/message_node_info"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// errorBodyLimit caps how much of a failed response is kept for the error.
	errorBodyLimit = 1 << 10
)

// Credentials are the session values the upstream requires on every call.
type Credentials struct {
	Cookie   string `json:"cookie"`
	XMSToken string `json:"xMsToken"`
	DeviceID string `json:"deviceId"`
	TeaUUID  string `json:"teaUuid"`
	WebID    string `json:"webId"`
	MSToken  string `json:"msToken"`
	ABogus   string `json:"aBogus"`
	RoomID   string `json:"roomId"`
}

// Missing lists the names of empty credential fields.
func (c Credentials) Missing() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("COOKIE", c.Cookie)
	check("X_MS_TOKEN", c.XMSToken)
	check("DEVICE_ID", c.DeviceID)
	check("TEA_UUID", c.TeaUUID)
	check("WEB_ID", c.WebID)
	check("MS_TOKEN", c.MSToken)
	check("A_BOGUS", c.ABogus)
	check("ROOM_ID", c.RoomID)
	return missing
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	Credentials Credentials
	UserAgent   string
	// RequestTimeout bounds status and download calls. The completion stream
	// is bounded only by the caller's context.
	RequestTimeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client is safe for concurrent use.
type Client struct {
	base      string
	creds     Credentials
	userAgent string
	stream    *http.Client
	http      *http.Client
}

// New returns a client for the given base URL.
func New(opts Options) *Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		creds:     opts.Credentials,
		userAgent: ua,
		stream:    &http.Client{Transport: opts.Transport},
		http:      &http.Client{Transport: opts.Transport, Timeout: timeout},
	}
}

// Query returns the query string attached to every upstream call.
func (c *Client) Query() url.Values {
	q := url.Values{}
	q.Set("aid", "497858")
	q.Set("device_id", c.creds.DeviceID)
	q.Set("device_platform", "web")
	q.Set("language", "zh")
	q.Set("pc_version", "2.16.7")
	q.Set("pkg_type", "release_version")
	q.Set("real_aid", "497858")
	q.Set("region", "CN")
	q.Set("samantha_web", "1")
	q.Set("sys_region", "CN")
	q.Set("tea_uuid", c.creds.TeaUUID)
	q.Set("use-olympus-account", "1")
	q.Set("version_code", "20800")
	q.Set("web_id", c.creds.WebID)
	q.Set("msToken", c.creds.MSToken)
	q.Set("a_bogus", c.creds.ABogus)
	return q
}

// Submit posts a generation request and returns the open event-stream body.
// The caller must close it.
func (c *Client) Submit(ctx context.Context, req *protocol.GenerationRequest) (io.ReadCloser, error) {
	body, err := req.Body()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, completionPath, payload)
	if err != nil {
		return nil, bridgeerr.Transport("submit", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Agw-Js-Conv", "str")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, bridgeerr.Transport("submit", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, bridgeerr.TransportStatus("submit", resp.StatusCode, statusText(resp))
	}
	return resp.Body, nil
}

// FetchNodeInfo queries the status endpoint for one correlation id and
// returns the raw body for interpretation by the poller.
func (c *Client) FetchNodeInfo(ctx context.Context, nodeID string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"node_id": nodeID})
	if err != nil {
		return nil, fmt.Errorf("encode node info request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, nodeInfoPath, payload)
	if err != nil {
		return nil, bridgeerr.Transport("poll", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, bridgeerr.Transport("poll", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, bridgeerr.TransportStatus("poll", resp.StatusCode, statusText(resp))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bridgeerr.Transport("poll", err)
	}
	return body, nil
}

// Download fetches raw image bytes and the reported content type.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", bridgeerr.Transport("download", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", bridgeerr.Transport("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", bridgeerr.TransportStatus("download", resp.StatusCode, statusText(resp))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", bridgeerr.Transport("download", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	endpoint := c.base + path + "?" + c.Query().Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", c.creds.Cookie)
	req.Header.Set("X-Ms-Token", c.creds.XMSToken)
	req.Header.Set("Origin", c.base)
	req.Header.Set("Referer", c.base+"/chat/"+c.creds.RoomID)
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func statusText(resp *http.Response) string {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	text := strings.TrimSpace(string(excerpt))
	if text == "" {
		return resp.Status
	}
	return resp.Status + ": " + text
}
