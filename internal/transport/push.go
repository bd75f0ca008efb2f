package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

const pushReadLimit = 1 << 20

// PushSource subscribes to a websocket endpoint. A failed dial or a dropped
// connection ends this source only; it is not retried.
type PushSource struct {
	name   string
	url    string
	header http.Header
	logger *slog.Logger
	now    func() time.Time
}

func NewPushSource(name, endpoint, token string, logger *slog.Logger) *PushSource {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if token = strings.TrimSpace(token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &PushSource{
		name:   name,
		url:    endpoint,
		header: header,
		logger: logger,
		now:    time.Now,
	}
}

// AdminPushURL is the session-scoped, conversation-level subscription.
func AdminPushURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/admin"
}

// ConversationPushURL is the message-level subscription of one conversation.
func ConversationPushURL(base, conversationID string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/conversations/" + url.PathEscape(conversationID)
}

func (p *PushSource) Name() string {
	return p.name
}

func (p *PushSource) Run(ctx context.Context, out chan<- Event) error {
	conn, _, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{HTTPHeader: p.header})
	if err != nil {
		return fmt.Errorf("dial push %s: %w", p.name, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(pushReadLimit)
	p.logger.Info("push subscription open", slog.String("source", p.name))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read push %s: %w", p.name, err)
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := DecodeFrame(data)
		if err != nil {
			if errors.Is(err, ErrInvalidFrame) {
				p.logger.Warn("dropping push frame", slog.String("source", p.name), slog.Any("error", err))
				continue
			}
			return err
		}
		ev.Origin = OriginPush
		ev.Source = p.name
		ev.ReceivedAt = p.now()
		if err := emit(ctx, out, ev); err != nil {
			return err
		}
	}
}
