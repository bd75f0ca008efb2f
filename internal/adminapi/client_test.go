package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

func TestHTTPClientListConversationsNormalizesRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/chat/conversations" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("status") != "PENDING" {
			t.Errorf("expected status filter to be forwarded, got %q", r.URL.Query().Get("status"))
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":5,"conversationId":"u-5","status":"PENDING","guestName":"Lan","lastMessage":{"content":"Xin chào","senderType":"guest"},"lastMessageAt":"2026-10-18T08:00:00Z"},{"status":"PENDING"}],"page":1,"totalPages":1}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client()})
	page, err := client.ListConversations(context.Background(), ListConversationsParams{Status: chat.StatusPending})
	if err != nil {
		t.Fatalf("list conversations failed: %v", err)
	}
	if len(page.Conversations) != 1 {
		t.Fatalf("expected records without an id to be dropped, got %d", len(page.Conversations))
	}
	conv := page.Conversations[0]
	if conv.ID != "5" || conv.AltID != "u-5" {
		t.Fatalf("unexpected identifiers %q/%q", conv.ID, conv.AltID)
	}
	if conv.Customer.DisplayName != "Lan" || !conv.Customer.Guest {
		t.Fatalf("unexpected customer %+v", conv.Customer)
	}
	if conv.LastSender() != chat.SenderGuest {
		t.Fatalf("expected guest sender, got %s", conv.LastSender())
	}
}

func TestListAllConversationsFollowsPages(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "1":
			_, _ = w.Write([]byte(`{"items":[{"id":"a"}],"page":1,"totalPages":2}`))
		case "2":
			_, _ = w.Write([]byte(`{"items":[{"id":"b"}],"page":2,"totalPages":2}`))
		default:
			t.Errorf("unexpected page %q", page)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client()})
	all, err := ListAllConversations(context.Background(), client, ListConversationsParams{Limit: 1})
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("unexpected conversations %+v", all)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestHTTPClientClaimConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/admin/chat/conversations/7/claim" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"already_claimed","message":"claimed by another admin"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client()})
	_, err := client.ClaimConversation(context.Background(), "7")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !strings.Contains(conflict.Message, "another admin") {
		t.Fatalf("expected conflict message to be preserved, got %v", err)
	}
}

func TestHTTPClientSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/admin/chat/conversations/7/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Content != "Chào bạn" {
			t.Errorf("expected content to be forwarded verbatim, got %q", body.Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":900,"senderType":"ADMIN","senderId":"admin-1","content":"Chào bạn","createdAt":"2026-10-18T08:01:00Z"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client()})
	msg, err := client.SendMessage(context.Background(), "7", "Chào bạn")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.ID != "900" || msg.ConversationID != "7" || msg.Sender != chat.SenderAdmin {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Delivery != chat.DeliveryConfirmed {
		t.Fatalf("expected confirmed delivery, got %s", msg.Delivery)
	}
}

func TestHTTPClientDoesNotRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client()})
	_, err := client.PendingCount(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 http error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestHTTPClientRetriesTransientFailureWhenConfigured(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":3}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client(), MaxRetries: 2, BaseDelay: 1})
	count, err := client.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestHTTPClientNeverRepeatsSend(t *testing.T) {
	var posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if atomic.AddInt32(&posts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m2","content":"hello","senderType":"ADMIN"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", ClientOptions{HTTPClient: server.Client(), MaxRetries: 2, BaseDelay: 1})
	_, err := client.SendMessage(context.Background(), "7", "hello")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 to surface to the caller, got %v", err)
	}
	if got := atomic.LoadInt32(&posts); got != 1 {
		t.Fatalf("expected exactly one POST, got %d", got)
	}
}

func TestRetryDelayIsFixedAndHonoursRetryAfter(t *testing.T) {
	client := NewHTTPClient("http://example.test", "", ClientOptions{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second})
	if got := client.retryDelay(""); got != 50*time.Millisecond {
		t.Fatalf("expected fixed base delay, got %s", got)
	}
	if got := client.retryDelay("5"); got != time.Second {
		t.Fatalf("expected Retry-After capped at max delay, got %s", got)
	}
}

func TestHTTPClientOrderHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/chat/conversations/7/orders" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"o1","code":"DH001","status":"DELIVERED","total":250000,"currency":"VND","createdAt":"2026-10-01T00:00:00Z"}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", ClientOptions{HTTPClient: server.Client()})
	orders, err := client.OrderHistory(context.Background(), "7")
	if err != nil {
		t.Fatalf("order history failed: %v", err)
	}
	if len(orders) != 1 || orders[0].Code != "DH001" || orders[0].Total != 250000 {
		t.Fatalf("unexpected orders %+v", orders)
	}
}
