package protocol

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// PlaceholderConversationID asks the upstream to create a new conversation.
const PlaceholderConversationID = "0"

// GenerationRequest is the per-prompt identity sent with a submission. It is
// built once and not mutated afterwards.
type GenerationRequest struct {
	Prompt              string
	LocalMessageID      string
	LocalConversationID string
	ConversationID      string
}

// NewGenerationRequest assigns fresh local identifiers to prompt.
func NewGenerationRequest(prompt string) *GenerationRequest {
	return &GenerationRequest{
		Prompt:              prompt,
		LocalMessageID:      uuid.NewString(),
		LocalConversationID: fmt.Sprintf("local_%d", rand.Int64N(1e16)),
		ConversationID:      PlaceholderConversationID,
	}
}

// CompletionOption toggles upstream conversation behavior.
type CompletionOption struct {
	IsRegen                bool   `json:"is_regen"`
	WithSuggest            bool   `json:"with_suggest"`
	NeedCreateConversation bool   `json:"need_create_conversation"`
	LaunchStage            int    `json:"launch_stage"`
	ReplyID                string `json:"reply_id"`
}

// OutboundMessage is a single message of a submission.
type OutboundMessage struct {
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type"`
	Attachments []json.RawMessage `json:"attachments"`
	References  []json.RawMessage `json:"references"`
}

// CompletionRequest is the JSON body of a submission.
type CompletionRequest struct {
	CompletionOption    CompletionOption  `json:"completion_option"`
	ConversationID      string            `json:"conversation_id"`
	LocalConversationID string            `json:"local_conversation_id"`
	LocalMessageID      string            `json:"local_message_id"`
	Messages            []OutboundMessage `json:"messages"`
}

type textContent struct {
	Text string `json:"text"`
}

// Body renders the submission body for r.
func (r *GenerationRequest) Body() (*CompletionRequest, error) {
	text, err := json.Marshal(textContent{Text: r.Prompt})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	return &CompletionRequest{
		CompletionOption: CompletionOption{
			IsRegen:                false,
			WithSuggest:            true,
			NeedCreateConversation: true,
			LaunchStage:            1,
			ReplyID:                "0",
		},
		ConversationID:      r.ConversationID,
		LocalConversationID: r.LocalConversationID,
		LocalMessageID:      r.LocalMessageID,
		Messages: []OutboundMessage{{
			Content:     string(text),
			ContentType: ContentTypeText,
			Attachments: []json.RawMessage{},
			References:  []json.RawMessage{},
		}},
	}, nil
}
