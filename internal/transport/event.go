// Package transport merges the polling and push deliveries of the support
// chat backend into one stream of typed events.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

type EventType string

const (
	EventNewConversation     EventType = "NEW_CONVERSATION"
	EventConversationUpdated EventType = "CONVERSATION_UPDATED"
	EventNewMessage          EventType = "NEW_MESSAGE"
	EventConversationClosed  EventType = "CONVERSATION_CLOSED"
)

func ParseEventType(raw string) (EventType, bool) {
	switch EventType(strings.ToUpper(strings.TrimSpace(raw))) {
	case EventNewConversation:
		return EventNewConversation, true
	case EventConversationUpdated:
		return EventConversationUpdated, true
	case EventNewMessage:
		return EventNewMessage, true
	case EventConversationClosed:
		return EventConversationClosed, true
	default:
		return "", false
	}
}

type Origin string

const (
	OriginPoll Origin = "poll"
	OriginPush Origin = "push"
)

// Event is one delivery from any source. Snapshot marks a full re-fetch: a
// complete conversation list, or the complete message list of
// ConversationID.
type Event struct {
	Type           EventType
	Origin         Origin
	Source         string
	Snapshot       bool
	ConversationID string
	Conversations  []chat.Conversation
	Messages       []chat.Message
	ReceivedAt     time.Time
}

// ConversationEventSource produces events until ctx is done or the source
// fails. Implementations never close out.
type ConversationEventSource interface {
	Name() string
	Run(ctx context.Context, out chan<- Event) error
}

func emit(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
