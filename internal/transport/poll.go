package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/chat"
)

const (
	DefaultConversationInterval = 5 * time.Second
	DefaultPendingInterval      = 10 * time.Second
	DefaultMessageInterval      = 3 * time.Second
)

// Every runs fn immediately and then on a fixed interval until ctx is done.
// A slow fn delays the next run; there is no backoff.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

type PollFunc func(ctx context.Context) (Event, error)

type PollingSource struct {
	name     string
	interval time.Duration
	poll     PollFunc
	logger   *slog.Logger
	now      func() time.Time
}

func NewPollingSource(name string, interval time.Duration, poll PollFunc, logger *slog.Logger) *PollingSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingSource{
		name:     name,
		interval: interval,
		poll:     poll,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *PollingSource) Name() string {
	return p.name
}

// Run never returns a poll error: failures are logged and the next tick
// retries.
func (p *PollingSource) Run(ctx context.Context, out chan<- Event) error {
	Every(ctx, p.interval, func(ctx context.Context) {
		ev, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("poll failed", slog.String("source", p.name), slog.Any("error", err))
			}
			return
		}
		ev.Origin = OriginPoll
		ev.Source = p.name
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = p.now()
		}
		_ = emit(ctx, out, ev)
	})
	return ctx.Err()
}

type MessageLister interface {
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// NewConversationListSource re-fetches every page of the conversation list.
func NewConversationListSource(api adminapi.ConversationLister, interval time.Duration, logger *slog.Logger) *PollingSource {
	if interval <= 0 {
		interval = DefaultConversationInterval
	}
	return NewPollingSource("conversation-list-poll", interval, func(ctx context.Context) (Event, error) {
		list, err := adminapi.ListAllConversations(ctx, api, adminapi.ListConversationsParams{})
		if err != nil {
			return Event{}, err
		}
		return Event{
			Type:          EventConversationUpdated,
			Snapshot:      true,
			Conversations: list,
		}, nil
	}, logger)
}

// NewMessageSource re-fetches the full message list of one conversation.
func NewMessageSource(api MessageLister, conversationID string, interval time.Duration, logger *slog.Logger) *PollingSource {
	if interval <= 0 {
		interval = DefaultMessageInterval
	}
	return NewPollingSource("message-poll:"+conversationID, interval, func(ctx context.Context) (Event, error) {
		messages, err := api.ListMessages(ctx, conversationID)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Type:           EventNewMessage,
			Snapshot:       true,
			ConversationID: conversationID,
			Messages:       messages,
		}, nil
	}, logger)
}
