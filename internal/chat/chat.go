// Package chat holds the support-chat domain types shared by the stores,
// the transport adapters and the session engine.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// ParseStatus maps a wire value onto Status. Unrecognised values are treated
// as PENDING so the conversation stays visible to the admin.
func ParseStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN_PROGRESS", "INPROGRESS", "ACTIVE", "CLAIMED":
		return StatusInProgress
	case "COMPLETED", "CLOSED", "FINISHED", "DONE":
		return StatusCompleted
	default:
		return StatusPending
	}
}

// Rank orders statuses along the only allowed direction of travel.
func (s Status) Rank() int {
	switch s {
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	default:
		return 0
	}
}

func (s Status) String() string {
	if s == "" {
		return string(StatusPending)
	}
	return string(s)
}

type SenderType int

const (
	SenderUnknown SenderType = iota
	SenderAdmin
	SenderCustomer
	SenderGuest
	SenderSystem
)

// ResolveSenderType is the only place sender metadata is interpreted.
func ResolveSenderType(raw string) SenderType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ADMIN", "STAFF", "AGENT", "SUPPORT":
		return SenderAdmin
	case "CUSTOMER", "USER", "CLIENT":
		return SenderCustomer
	case "GUEST", "VISITOR", "ANONYMOUS":
		return SenderGuest
	case "SYSTEM", "BOT":
		return SenderSystem
	default:
		return SenderUnknown
	}
}

// IsStaff reports whether messages from this sender never alert the admin.
// Unknown senders are not staff: under-alerting is worse than over-alerting.
func (s SenderType) IsStaff() bool {
	return s == SenderAdmin || s == SenderSystem
}

func (s SenderType) String() string {
	switch s {
	case SenderAdmin:
		return "ADMIN"
	case SenderCustomer:
		return "CUSTOMER"
	case SenderGuest:
		return "GUEST"
	case SenderSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryConfirmed DeliveryState = "CONFIRMED"
	DeliveryFailed    DeliveryState = "FAILED"
)

type CustomerRef struct {
	UserID      string
	DisplayName string
	Email       string
	Phone       string
	Guest       bool
}

type MessageSnapshot struct {
	Content string
	Sender  SenderType
}

type Conversation struct {
	ID              string
	AltID           string
	Status          Status
	AssignedAdminID string
	Customer        CustomerRef
	LastMessage     *MessageSnapshot
	LastMessageAt   time.Time
	Unread          bool
}

// LastSender returns the resolved sender of the last message, or Unknown.
func (c Conversation) LastSender() SenderType {
	if c.LastMessage == nil {
		return SenderUnknown
	}
	return c.LastMessage.Sender
}

// Matches reports whether id names this conversation under either scheme.
func (c Conversation) Matches(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	return c.ID == id || (c.AltID != "" && c.AltID == id)
}

func (c Conversation) Clone() Conversation {
	out := c
	if c.LastMessage != nil {
		snapshot := *c.LastMessage
		out.LastMessage = &snapshot
	}
	return out
}

type Message struct {
	ID             string
	ConversationID string
	Sender         SenderType
	SenderID       string
	Content        string
	CreatedAt      time.Time
	Delivery       DeliveryState
}

// TempIDPrefix namespaces locally synthesised message ids; server ids never
// carry it.
const TempIDPrefix = "tmp_"

func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
