package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

var ErrInvalidFrame = errors.New("invalid push frame")

// frameSchema only constrains structure. Missing sender metadata and other
// optional fields are defaulted during normalisation instead of rejected.
const frameSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["NEW_CONVERSATION", "CONVERSATION_UPDATED", "NEW_MESSAGE", "CONVERSATION_CLOSED"]},
		"conversationId": {"type": ["string", "integer"]},
		"conversation": {"$ref": "#/$defs/conversation"},
		"conversations": {"type": "array", "items": {"$ref": "#/$defs/conversation"}},
		"message": {"$ref": "#/$defs/message"},
		"messages": {"type": "array", "items": {"$ref": "#/$defs/message"}}
	},
	"$defs": {
		"id": {"type": ["string", "integer", "null"]},
		"conversation": {
			"type": "object",
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"conversationId": {"$ref": "#/$defs/id"},
				"status": {"type": ["string", "null"]},
				"lastMessageAt": {"type": ["string", "null"]}
			}
		},
		"message": {
			"type": "object",
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"conversationId": {"$ref": "#/$defs/id"},
				"content": {"type": "string"},
				"senderType": {"type": ["string", "null"]},
				"createdAt": {"type": ["string", "null"]}
			}
		}
	}
}`

var compileFrameSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(frameSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("supportdesk-frame.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("supportdesk-frame.json")
})

type frame struct {
	Type           string                    `json:"type"`
	ConversationID chat.FlexID               `json:"conversationId,omitempty"`
	Conversation   *chat.ConversationRecord  `json:"conversation,omitempty"`
	Conversations  []chat.ConversationRecord `json:"conversations,omitempty"`
	Message        *chat.MessageRecord       `json:"message,omitempty"`
	Messages       []chat.MessageRecord      `json:"messages,omitempty"`
}

// DecodeFrame validates and converts one push payload into an Event. Origin,
// Source and ReceivedAt are left to the caller.
func DecodeFrame(data []byte) (Event, error) {
	schema, err := compileFrameSchema()
	if err != nil {
		return Event{}, fmt.Errorf("compile frame schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if obj, ok := instance.(map[string]any); ok {
		if raw, ok := obj["type"].(string); ok {
			obj["type"] = strings.ToUpper(strings.TrimSpace(raw))
		}
	}
	if err := schema.Validate(instance); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	eventType, ok := ParseEventType(f.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, f.Type)
	}

	ev := Event{
		Type:           eventType,
		ConversationID: strings.TrimSpace(f.ConversationID.String()),
	}
	records := f.Conversations
	if f.Conversation != nil {
		records = append([]chat.ConversationRecord{*f.Conversation}, records...)
	}
	ev.Conversations = chat.NormalizeConversations(records)
	if ev.ConversationID == "" && len(ev.Conversations) > 0 {
		ev.ConversationID = ev.Conversations[0].ID
	}

	messages := f.Messages
	if f.Message != nil {
		messages = append([]chat.MessageRecord{*f.Message}, messages...)
	}
	ev.Messages = chat.NormalizeMessages(ev.ConversationID, messages)
	if ev.ConversationID == "" && len(ev.Messages) > 0 {
		ev.ConversationID = ev.Messages[0].ConversationID
	}

	if ev.ConversationID == "" {
		return Event{}, fmt.Errorf("%w: %s frame without conversation", ErrInvalidFrame, eventType)
	}
	return ev, nil
}
