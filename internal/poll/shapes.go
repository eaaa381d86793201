package poll

import (
	"encoding/json"
	"fmt"

	"github.com/oremus-labs/imagegen-bridge/internal/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Shape is one known layout of a status response's data object. Schema
// gates the layout; Extract pulls complete candidate URLs out of a matching
// document.
type Shape struct {
	Name    string
	schema  *gojsonschema.Schema
	extract func(data []byte) ([]string, error)
}

// Match validates data against the shape and extracts URLs. A document that
// does not fit the schema yields no URLs and no error.
func (s Shape) Match(data []byte) ([]string, error) {
	res, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: validate: %w", s.Name, err)
	}
	if !res.Valid() {
		return nil, nil
	}
	return s.extract(data)
}

// imageRecordSchema describes a legacy {type: "image", url} record.
const imageRecordSchema = `{
	"type": "object",
	"required": ["type", "url"],
	"properties": {
		"type": {"enum": ["image"]},
		"url": {"type": "string", "minLength": 1}
	}
}`

const messagesSchema = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": [{
				"type": "object",
				"required": ["content_type", "content"],
				"properties": {
					"content_type": {"enum": [2074]},
					"content": {"type": "string", "minLength": 1}
				}
			}]
		}
	}
}`

const elementsSchema = `{
	"type": "object",
	"required": ["elements"],
	"properties": {
		"elements": {"type": "array", "minItems": 1, "items": [` + imageRecordSchema + `]}
	}
}`

const messageElementsSchema = `{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {
			"type": "object",
			"required": ["elements"],
			"properties": {
				"elements": {"type": "array", "minItems": 1, "items": [` + imageRecordSchema + `]}
			}
		}
	}
}`

const attachmentsSchema = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": [{
				"type": "object",
				"required": ["attachments"],
				"properties": {
					"attachments": {"type": "array", "minItems": 1, "items": [` + imageRecordSchema + `]}
				}
			}]
		}
	}
}`

type imageRecord struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func mustShape(name, schema string, extract func([]byte) ([]string, error)) Shape {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("poll: invalid %s schema: %v", name, err))
	}
	return Shape{Name: name, schema: compiled, extract: extract}
}

// DefaultShapes returns the supported layouts, current first.
func DefaultShapes() []Shape {
	return append([]Shape(nil), defaultShapes...)
}

var defaultShapes = []Shape{
	mustShape("messages", messagesSchema, extractMessages),
	mustShape("elements", elementsSchema, extractElements),
	mustShape("message.elements", messageElementsSchema, extractMessageElements),
	mustShape("messages.attachments", attachmentsSchema, extractAttachments),
}

func extractMessages(data []byte) ([]string, error) {
	var doc struct {
		Messages []struct {
			ContentType protocol.ContentType `json:"content_type"`
			Content     string               `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	first := doc.Messages[0]
	content, err := protocol.DecodeContent(&protocol.Message{ContentType: first.ContentType, Content: first.Content})
	if err != nil {
		return nil, err
	}
	return content.CompleteURLs(), nil
}

func extractElements(data []byte) ([]string, error) {
	var doc struct {
		Elements []imageRecord `json:"elements"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return []string{doc.Elements[0].URL}, nil
}

func extractMessageElements(data []byte) ([]string, error) {
	var doc struct {
		Message struct {
			Elements []imageRecord `json:"elements"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return []string{doc.Message.Elements[0].URL}, nil
}

func extractAttachments(data []byte) ([]string, error) {
	var doc struct {
		Messages []struct {
			Attachments []imageRecord `json:"attachments"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return []string{doc.Messages[0].Attachments[0].URL}, nil
}
