package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FlexID accepts both numeric and string identifiers on the wire.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string {
	return string(f)
}

type UserRecord struct {
	ID       FlexID `json:"id,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type SenderRecord struct {
	ID   FlexID `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
	Type string `json:"type,omitempty"`
}

type LastMessageRecord struct {
	Content    string        `json:"content"`
	SenderType string        `json:"senderType,omitempty"`
	Sender     *SenderRecord `json:"sender,omitempty"`
	CreatedAt  string        `json:"createdAt,omitempty"`
}

// ConversationRecord is the conversation shape delivered by both the REST
// API and the push transports.
type ConversationRecord struct {
	ID              FlexID             `json:"id,omitempty"`
	ConversationID  FlexID             `json:"conversationId,omitempty"`
	Status          string             `json:"status,omitempty"`
	AssignedAdminID FlexID             `json:"assignedAdminId,omitempty"`
	UserID          FlexID             `json:"userId,omitempty"`
	User            *UserRecord        `json:"user,omitempty"`
	CustomerName    string             `json:"customerName,omitempty"`
	GuestName       string             `json:"guestName,omitempty"`
	GuestEmail      string             `json:"guestEmail,omitempty"`
	GuestPhone      string             `json:"guestPhone,omitempty"`
	LastMessage     *LastMessageRecord `json:"lastMessage,omitempty"`
	LastMessageAt   string             `json:"lastMessageAt,omitempty"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
	HasUnread       bool               `json:"hasUnread,omitempty"`
}

type MessageRecord struct {
	ID             FlexID        `json:"id,omitempty"`
	ConversationID FlexID        `json:"conversationId,omitempty"`
	SenderType     string        `json:"senderType,omitempty"`
	SenderID       FlexID        `json:"senderId,omitempty"`
	Sender         *SenderRecord `json:"sender,omitempty"`
	Content        string        `json:"content"`
	CreatedAt      string        `json:"createdAt,omitempty"`
}

// CanonicalID applies the documented precedence: id, then conversationId.
// The remaining value is returned as the alternate id.
func (r ConversationRecord) CanonicalID() (id, alt string) {
	primary := strings.TrimSpace(string(r.ID))
	secondary := strings.TrimSpace(string(r.ConversationID))
	if primary == "" {
		return secondary, ""
	}
	if secondary == primary {
		secondary = ""
	}
	return primary, secondary
}

// DisplayName resolves the customer label using one fixed field order.
func (r ConversationRecord) DisplayName() string {
	candidates := []string{}
	if r.User != nil {
		candidates = append(candidates, r.User.FullName, r.User.Name)
	}
	candidates = append(candidates, r.CustomerName, r.GuestName)
	if r.User != nil {
		candidates = append(candidates, r.User.Email)
	}
	candidates = append(candidates, r.GuestEmail, r.GuestPhone)
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	id, _ := r.CanonicalID()
	return "Guest #" + id
}

func (r ConversationRecord) Normalize() Conversation {
	id, alt := r.CanonicalID()
	conv := Conversation{
		ID:     id,
		AltID:  alt,
		Status: ParseStatus(r.Status),
		Unread: r.HasUnread,
	}
	if conv.Status == StatusInProgress {
		conv.AssignedAdminID = strings.TrimSpace(string(r.AssignedAdminID))
	}

	customer := CustomerRef{
		UserID:      strings.TrimSpace(string(r.UserID)),
		DisplayName: r.DisplayName(),
		Email:       strings.TrimSpace(r.GuestEmail),
		Phone:       strings.TrimSpace(r.GuestPhone),
	}
	if r.User != nil {
		if customer.UserID == "" {
			customer.UserID = strings.TrimSpace(string(r.User.ID))
		}
		if email := strings.TrimSpace(r.User.Email); email != "" {
			customer.Email = email
		}
		if phone := strings.TrimSpace(r.User.Phone); phone != "" {
			customer.Phone = phone
		}
	}
	customer.Guest = customer.UserID == ""
	conv.Customer = customer

	if r.LastMessage != nil {
		conv.LastMessage = &MessageSnapshot{
			Content: r.LastMessage.Content,
			Sender:  resolveSender(r.LastMessage.SenderType, r.LastMessage.Sender),
		}
	}
	conv.LastMessageAt = firstTimestamp(r.LastMessageAt, lastMessageCreatedAt(r.LastMessage), r.UpdatedAt)
	return conv
}

func (r MessageRecord) Normalize() Message {
	senderID := strings.TrimSpace(string(r.SenderID))
	if senderID == "" && r.Sender != nil {
		senderID = strings.TrimSpace(string(r.Sender.ID))
	}
	return Message{
		ID:             strings.TrimSpace(string(r.ID)),
		ConversationID: strings.TrimSpace(string(r.ConversationID)),
		Sender:         resolveSender(r.SenderType, r.Sender),
		SenderID:       senderID,
		Content:        r.Content,
		CreatedAt:      ParseTimestamp(r.CreatedAt),
		Delivery:       DeliveryConfirmed,
	}
}

func NormalizeConversations(records []ConversationRecord) []Conversation {
	out := make([]Conversation, 0, len(records))
	for _, record := range records {
		conv := record.Normalize()
		if conv.ID == "" {
			continue
		}
		out = append(out, conv)
	}
	return out
}

func NormalizeMessages(conversationID string, records []MessageRecord) []Message {
	out := make([]Message, 0, len(records))
	for _, record := range records {
		msg := record.Normalize()
		if msg.ID == "" {
			continue
		}
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		out = append(out, msg)
	}
	return out
}

func resolveSender(senderType string, sender *SenderRecord) SenderType {
	if resolved := ResolveSenderType(senderType); resolved != SenderUnknown {
		return resolved
	}
	if sender != nil {
		if resolved := ResolveSenderType(sender.Role); resolved != SenderUnknown {
			return resolved
		}
		return ResolveSenderType(sender.Type)
	}
	return SenderUnknown
}

func lastMessageCreatedAt(r *LastMessageRecord) string {
	if r == nil {
		return ""
	}
	return r.CreatedAt
}

func firstTimestamp(values ...string) time.Time {
	for _, value := range values {
		if ts := ParseTimestamp(value); !ts.IsZero() {
			return ts
		}
	}
	return time.Time{}
}

// ParseTimestamp accepts RFC3339 (with or without fractional seconds) and
// unix milliseconds. Unparseable input yields the zero time.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC()
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", raw); err == nil {
		return ts.UTC()
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
