// Package protocol holds the wire types of the upstream generation service
// and the three decode stages applied to each stream frame: envelope, inner
// envelope and message content.
package protocol

import "fmt"

// EventType tags an outer stream envelope.
type EventType int

const (
	// EventPayload carries an inner envelope in event_data.
	EventPayload EventType = 2001
	// EventStreamEnd marks the end of the generation stream.
	EventStreamEnd EventType = 2003
)

// KnownEventTypes lists every tag the resolver dispatches on.
var KnownEventTypes = []EventType{EventPayload, EventStreamEnd}

func (t EventType) String() string {
	switch t {
	case EventPayload:
		return "payload"
	case EventStreamEnd:
		return "stream_end"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Known reports whether t is one of KnownEventTypes.
func (t EventType) Known() bool {
	switch t {
	case EventPayload, EventStreamEnd:
		return true
	}
	return false
}

// ContentType tags a message body.
type ContentType int

const (
	// ContentTypeText is a plain {text} message, used for submissions.
	ContentTypeText ContentType = 2001
	// ContentTypeImage carries a JSON document with a creations array.
	ContentTypeImage ContentType = 2074
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeText:
		return "text"
	case ContentTypeImage:
		return "image"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ImageStatus is the generation state of a single creation.
type ImageStatus int

// StatusComplete is the only status that yields a usable URL. Other values
// mean pending or failed and are not told apart.
const StatusComplete ImageStatus = 2

// EventEnvelope is the JSON object on a frame's data line.
type EventEnvelope struct {
	EventType EventType `json:"event_type"`
	EventData string    `json:"event_data"`
}

// InnerEnvelope is the decoded event_data of a payload envelope.
type InnerEnvelope struct {
	NodeID  string   `json:"node_id,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// CorrelationID returns node_id, falling back to message.id.
func (in *InnerEnvelope) CorrelationID() string {
	if in == nil {
		return ""
	}
	if in.NodeID != "" {
		return in.NodeID
	}
	if in.Message != nil {
		return in.Message.ID
	}
	return ""
}

// Message is an upstream chat message. Content is itself JSON text.
type Message struct {
	ID          string      `json:"id,omitempty"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
}

// IsImageCarrier reports whether the message holds creations.
func (m *Message) IsImageCarrier() bool {
	return m != nil && m.ContentType == ContentTypeImage
}

// Content is the decoded body of an image carrier message.
type Content struct {
	Creations []Creation `json:"creations"`
}

// Creation is one candidate generated image.
type Creation struct {
	Image *Image `json:"image,omitempty"`
}

// Image carries the status and up to three URL variants of a creation.
type Image struct {
	Status   ImageStatus `json:"status"`
	Original *ImageRef   `json:"image_ori,omitempty"`
	Raw      *ImageRef   `json:"image_raw,omitempty"`
	Thumb    *ImageRef   `json:"image_thumb,omitempty"`
}

// ImageRef points at one rendition of an image.
type ImageRef struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// PreferredURL returns the first present URL in the order original, raw,
// thumbnail, or "" when none is set.
func (img *Image) PreferredURL() string {
	if img == nil {
		return ""
	}
	for _, ref := range []*ImageRef{img.Original, img.Raw, img.Thumb} {
		if ref != nil && ref.URL != "" {
			return ref.URL
		}
	}
	return ""
}

// CompleteURLs returns the preferred URL of every complete creation that has
// one, in source order.
func (c *Content) CompleteURLs() []string {
	if c == nil {
		return nil
	}
	var urls []string
	for _, creation := range c.Creations {
		img := creation.Image
		if img == nil || img.Status != StatusComplete {
			continue
		}
		if url := img.PreferredURL(); url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

// Statuses summarises creation states for logging.
func (c *Content) Statuses() []int {
	if c == nil {
		return nil
	}
	out := make([]int, 0, len(c.Creations))
	for _, creation := range c.Creations {
		if creation.Image == nil {
			out = append(out, -1)
			continue
		}
		out = append(out, int(creation.Image.Status))
	}
	return out
}
