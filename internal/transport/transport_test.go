package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/chat"
)

func TestDecodeFrameNewMessage(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"new_message","conversationId":12,"message":{"id":"m1","content":"Xin chào","createdAt":"2026-10-18T08:00:00Z"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Type != EventNewMessage {
		t.Fatalf("expected NEW_MESSAGE, got %s", ev.Type)
	}
	if ev.ConversationID != "12" {
		t.Fatalf("expected conversation 12, got %q", ev.ConversationID)
	}
	if len(ev.Messages) != 1 || ev.Messages[0].ConversationID != "12" {
		t.Fatalf("expected one message bound to conversation 12, got %+v", ev.Messages)
	}
	if ev.Messages[0].Sender != chat.SenderUnknown {
		t.Fatalf("expected missing sender type to default to unknown, got %s", ev.Messages[0].Sender)
	}
}

func TestDecodeFrameConversationUpdated(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"CONVERSATION_UPDATED","conversation":{"conversationId":"u-1","status":"IN_PROGRESS","assignedAdminId":3}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.ConversationID != "u-1" || len(ev.Conversations) != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Conversations[0].Status != chat.StatusInProgress || ev.Conversations[0].AssignedAdminID != "3" {
		t.Fatalf("unexpected conversation %+v", ev.Conversations[0])
	}
}

func TestDecodeFrameRejectsInvalidPayloads(t *testing.T) {
	cases := []string{
		`not json`,
		`{"conversationId":"1"}`,
		`{"type":"SOMETHING_ELSE","conversationId":"1"}`,
		`{"type":"NEW_MESSAGE","message":{"content":42}}`,
		`{"type":"CONVERSATION_CLOSED"}`,
	}
	for _, payload := range cases {
		if _, err := DecodeFrame([]byte(payload)); !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("expected invalid frame for %s, got %v", payload, err)
		}
	}
}

func TestPollingSourceKeepsTickingAfterFailures(t *testing.T) {
	var calls int32
	source := NewPollingSource("test-poll", 5*time.Millisecond, func(ctx context.Context) (Event, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return Event{}, errors.New("network down")
		}
		return Event{Type: EventConversationUpdated, Snapshot: true}, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 4)
	go func() { _ = source.Run(ctx, out) }()

	select {
	case ev := <-out:
		if ev.Origin != OriginPoll || ev.Source != "test-poll" || !ev.Snapshot {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.ReceivedAt.IsZero() {
			t.Fatalf("expected receive time to be stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected poll to recover on the next tick")
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected at least two poll attempts, got %d", calls)
	}
}

type fakeLister struct {
	pages map[int]adminapi.ConversationPage
}

func (f *fakeLister) ListConversations(ctx context.Context, params adminapi.ListConversationsParams) (adminapi.ConversationPage, error) {
	return f.pages[params.Page], nil
}

func TestConversationListSourceEmitsFullSnapshot(t *testing.T) {
	lister := &fakeLister{pages: map[int]adminapi.ConversationPage{
		1: {Conversations: []chat.Conversation{{ID: "a"}}, Page: 1, TotalPages: 2},
		2: {Conversations: []chat.Conversation{{ID: "b"}}, Page: 2, TotalPages: 2},
	}}
	source := NewConversationListSource(lister, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 1)
	go func() { _ = source.Run(ctx, out) }()

	select {
	case ev := <-out:
		if !ev.Snapshot || len(ev.Conversations) != 2 {
			t.Fatalf("expected a two-conversation snapshot, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an immediate first poll")
	}
}

func TestPushSourceDeliversValidFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"bogus"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"NEW_MESSAGE","conversationId":"7","message":{"id":"m1","content":"hi","senderType":"CUSTOMER"}}`))
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	source := NewPushSource("push-test", endpoint, "token", nil)
	out := make(chan Event, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := source.Run(ctx, out); err != nil {
		t.Fatalf("expected normal closure to end the source cleanly, got %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one valid event, got %d", len(out))
	}
	ev := <-out
	if ev.Origin != OriginPush || ev.Type != EventNewMessage || ev.ConversationID != "7" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestFanInIsolatesPushFailure(t *testing.T) {
	failing := NewPushSource("broken-push", "ws://127.0.0.1:1/admin", "", nil)
	poll := NewPollingSource("poll", time.Hour, func(ctx context.Context) (Event, error) {
		return Event{Type: EventConversationUpdated, Snapshot: true}, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 2)
	done := FanIn(ctx, out, nil, failing, poll)

	select {
	case ev := <-out:
		if ev.Source != "poll" {
			t.Fatalf("expected poll event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected poll source to keep running despite push failure")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected fan-in to finish after cancel")
	}
}

func TestPushURLs(t *testing.T) {
	if got := AdminPushURL("ws://host/ws/"); got != "ws://host/ws/admin" {
		t.Fatalf("unexpected admin url %q", got)
	}
	if got := ConversationPushURL("ws://host/ws", "a b"); got != "ws://host/ws/conversations/a%20b" {
		t.Fatalf("unexpected conversation url %q", got)
	}
	if got := ConversationBindingKey("42"); got != "chat.conversation.42.#" {
		t.Fatalf("unexpected binding key %q", got)
	}
}

func TestAMQPSourceDecodesDeliveries(t *testing.T) {
	source := NewAMQPSource(AMQPSourceOptions{URL: "amqp://localhost", BindingKey: ConversationBindingKey("9")})
	ev, err := source.decode(amqp.Delivery{
		ContentType: "application/json",
		Body:        []byte(`{"type":"CONVERSATION_CLOSED","conversationId":"9"}`),
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Type != EventConversationClosed || ev.Origin != OriginPush || ev.Source != "amqp:chat.conversation.9.#" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, err := source.decode(amqp.Delivery{ContentType: "text/plain", Body: []byte(`x`)}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected non-json delivery to be rejected, got %v", err)
	}
}

func TestAMQPSourceRequiresURL(t *testing.T) {
	source := NewAMQPSource(AMQPSourceOptions{})
	if err := source.Run(context.Background(), make(chan Event)); err == nil {
		t.Fatalf("expected missing url to fail")
	}
}
