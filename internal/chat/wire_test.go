package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConversationRecordCanonicalIDPrefersID(t *testing.T) {
	var record ConversationRecord
	if err := json.Unmarshal([]byte(`{"id":42,"conversationId":"9b1c-uuid","status":"pending"}`), &record); err != nil {
		t.Fatalf("unmarshal conversation failed: %v", err)
	}
	conv := record.Normalize()
	if conv.ID != "42" {
		t.Fatalf("expected canonical id 42, got %q", conv.ID)
	}
	if conv.AltID != "9b1c-uuid" {
		t.Fatalf("expected alt id 9b1c-uuid, got %q", conv.AltID)
	}
	if !conv.Matches("9b1c-uuid") || !conv.Matches("42") {
		t.Fatalf("expected conversation to match both identifiers")
	}
}

func TestConversationRecordFallsBackToConversationID(t *testing.T) {
	var record ConversationRecord
	if err := json.Unmarshal([]byte(`{"conversationId":"abc","status":"IN_PROGRESS","assignedAdminId":7}`), &record); err != nil {
		t.Fatalf("unmarshal conversation failed: %v", err)
	}
	conv := record.Normalize()
	if conv.ID != "abc" || conv.AltID != "" {
		t.Fatalf("expected id abc with no alt id, got %q/%q", conv.ID, conv.AltID)
	}
	if conv.AssignedAdminID != "7" {
		t.Fatalf("expected assigned admin 7, got %q", conv.AssignedAdminID)
	}
}

func TestNormalizeDropsAssignmentOutsideInProgress(t *testing.T) {
	record := ConversationRecord{ID: "1", Status: "COMPLETED", AssignedAdminID: "7"}
	conv := record.Normalize()
	if conv.AssignedAdminID != "" {
		t.Fatalf("expected completed conversation to carry no assignee, got %q", conv.AssignedAdminID)
	}
}

func TestDisplayNamePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		record ConversationRecord
		want   string
	}{
		{"full name", ConversationRecord{ID: "1", User: &UserRecord{FullName: "Nguyen Van A", Name: "a"}, GuestName: "g"}, "Nguyen Van A"},
		{"user name", ConversationRecord{ID: "1", User: &UserRecord{Name: "anh"}, CustomerName: "c"}, "anh"},
		{"customer name", ConversationRecord{ID: "1", CustomerName: "Lan", GuestName: "g"}, "Lan"},
		{"guest name", ConversationRecord{ID: "1", GuestName: "Khach", GuestEmail: "k@example.com"}, "Khach"},
		{"user email", ConversationRecord{ID: "1", User: &UserRecord{Email: "u@example.com"}, GuestEmail: "g@example.com"}, "u@example.com"},
		{"guest email", ConversationRecord{ID: "1", GuestEmail: "g@example.com", GuestPhone: "0900"}, "g@example.com"},
		{"guest phone", ConversationRecord{ID: "1", GuestPhone: "0900"}, "0900"},
		{"fallback", ConversationRecord{ID: "12"}, "Guest #12"},
	}
	for _, tc := range cases {
		if got := tc.record.DisplayName(); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestResolveSenderTypeIsCaseInsensitive(t *testing.T) {
	if ResolveSenderType("admin") != SenderAdmin {
		t.Fatalf("expected admin")
	}
	if ResolveSenderType(" System ") != SenderSystem {
		t.Fatalf("expected system")
	}
	if ResolveSenderType("guest") != SenderGuest {
		t.Fatalf("expected guest")
	}
	if got := ResolveSenderType("robot-overlord"); got != SenderUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
	if SenderUnknown.IsStaff() {
		t.Fatalf("unknown sender must not be treated as staff")
	}
}

func TestLastMessageSenderFallsBackToSenderRole(t *testing.T) {
	record := ConversationRecord{
		ID:            "1",
		LastMessage:   &LastMessageRecord{Content: "hi", Sender: &SenderRecord{Role: "ADMIN"}},
		LastMessageAt: "2026-10-18T08:00:00Z",
	}
	conv := record.Normalize()
	if conv.LastSender() != SenderAdmin {
		t.Fatalf("expected admin sender from role, got %s", conv.LastSender())
	}
	if !conv.LastMessageAt.Equal(time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected lastMessageAt %s", conv.LastMessageAt)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2026-10-18T08:00:00Z", "2026-10-18T08:00:00.000Z", "2026-10-18T08:00:00", "1792310400000"} {
		if got := ParseTimestamp(raw); !got.Equal(want) {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	if !ParseTimestamp("yesterday").IsZero() {
		t.Fatalf("expected zero time for garbage input")
	}
}

func TestTempIDsAreNamespaced(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Fatalf("expected %q to be a temp id", id)
	}
	if IsTempID("1234") {
		t.Fatalf("server id must not look temporary")
	}
}
