package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultAMQPExchange = "support.chat"
	AdminBindingKey     = "chat.admin.#"
)

func ConversationBindingKey(conversationID string) string {
	return "chat.conversation." + strings.TrimSpace(conversationID) + ".#"
}

type AMQPDialer func(ctx context.Context, url string) (*amqp.Connection, error)

// AMQPSource consumes the same frames as PushSource from a RabbitMQ topic
// exchange through an exclusive, auto-deleted queue.
type AMQPSource struct {
	name       string
	url        string
	exchange   string
	bindingKey string
	dial       AMQPDialer
	logger     *slog.Logger
	now        func() time.Time
}

type AMQPSourceOptions struct {
	Name       string
	URL        string
	Exchange   string
	BindingKey string
	Dialer     AMQPDialer
	Logger     *slog.Logger
}

func NewAMQPSource(opts AMQPSourceOptions) *AMQPSource {
	exchange := strings.TrimSpace(opts.Exchange)
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}
	bindingKey := strings.TrimSpace(opts.BindingKey)
	if bindingKey == "" {
		bindingKey = AdminBindingKey
	}
	dial := opts.Dialer
	if dial == nil {
		dial = func(_ context.Context, u string) (*amqp.Connection, error) { return amqp.Dial(u) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "amqp:" + bindingKey
	}
	return &AMQPSource{
		name:       name,
		url:        opts.URL,
		exchange:   exchange,
		bindingKey: bindingKey,
		dial:       dial,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *AMQPSource) Name() string {
	return s.name
}

func (s *AMQPSource) Run(ctx context.Context, out chan<- Event) error {
	const op = "transport.AMQPSource.Run"
	if strings.TrimSpace(s.url) == "" {
		return fmt.Errorf("%s: amqp url is required", op)
	}
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", op, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%s: open channel: %w", op, err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: declare exchange %q: %w", op, s.exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("%s: declare queue: %w", op, err)
	}
	if err := ch.QueueBind(q.Name, s.bindingKey, s.exchange, false, nil); err != nil {
		return fmt.Errorf("%s: bind %q: %w", op, s.bindingKey, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: consume: %w", op, err)
	}
	s.logger.With("op", op).Info("amqp subscription open", slog.String("binding", s.bindingKey))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			ev, err := s.decode(d)
			if err != nil {
				s.logger.With("op", op).Warn("dropping amqp delivery", slog.String("routing_key", d.RoutingKey), slog.Any("error", err))
				continue
			}
			if err := emit(ctx, out, ev); err != nil {
				return err
			}
		}
	}
}

func (s *AMQPSource) decode(d amqp.Delivery) (Event, error) {
	if ct := strings.TrimSpace(d.ContentType); ct != "" && !strings.Contains(ct, "json") {
		return Event{}, fmt.Errorf("%w: content type %q", ErrInvalidFrame, ct)
	}
	ev, err := DecodeFrame(d.Body)
	if err != nil {
		if errors.Is(err, ErrInvalidFrame) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	ev.Origin = OriginPush
	ev.Source = s.name
	ev.ReceivedAt = s.now()
	return ev, nil
}
