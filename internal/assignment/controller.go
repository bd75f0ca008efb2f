package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/conversations"
)

var (
	ErrClaimConflict       = errors.New("conversation claimed by another admin")
	ErrNotAllowed          = errors.New("transition not allowed")
	ErrUnknownConversation = errors.New("unknown conversation")
)

// ClaimConflictError is returned when another admin won the claim. Nothing is
// changed locally; the admin must refresh the list and pick again.
type ClaimConflictError struct {
	ConversationID string
	ClaimedBy      string
	Err            error
}

func (e *ClaimConflictError) Error() string {
	if e.ClaimedBy != "" {
		return fmt.Sprintf("conversation %s already claimed by admin %s", e.ConversationID, e.ClaimedBy)
	}
	return fmt.Sprintf("conversation %s already claimed by another admin", e.ConversationID)
}

func (e *ClaimConflictError) Is(target error) bool {
	return target == ErrClaimConflict
}

func (e *ClaimConflictError) Unwrap() error {
	return e.Err
}

// API is the part of the admin REST API that arbitrates ownership.
type API interface {
	ClaimConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
	FinishConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
}

type Controller struct {
	api     API
	store   *conversations.Store
	adminID string
	logger  *slog.Logger
}

func NewController(api API, store *conversations.Store, adminID string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{api: api, store: store, adminID: adminID, logger: logger}
}

func (c *Controller) AdminID() string {
	return c.adminID
}

// Claim takes ownership of a PENDING conversation. Claiming a conversation
// this admin already owns returns it unchanged without a server call.
func (c *Controller) Claim(ctx context.Context, conversationID string) (chat.Conversation, error) {
	const op = "assignment.Controller.Claim"
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return chat.Conversation{}, fmt.Errorf("%s: %w: %s", op, ErrUnknownConversation, conversationID)
	}
	guard := CanClaim(GuardContext{Conversation: conv, AdminID: c.adminID})
	if !guard.Allowed {
		if StateOf(conv) == Claimed {
			return chat.Conversation{}, &ClaimConflictError{ConversationID: conv.ID, ClaimedBy: conv.AssignedAdminID}
		}
		return chat.Conversation{}, fmt.Errorf("%s: %w: %v", op, ErrNotAllowed, guard.Error())
	}
	if StateOf(conv) == Claimed {
		return conv, nil
	}

	if _, err := c.api.ClaimConversation(ctx, conv.ID); err != nil {
		if errors.Is(err, adminapi.ErrConflict) {
			c.logger.With("op", op).Info("claim lost to another admin", slog.String("conversation", conv.ID))
			return chat.Conversation{}, &ClaimConflictError{ConversationID: conv.ID, Err: err}
		}
		return chat.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	claimed := conv.Clone()
	claimed.Status = chat.StatusInProgress
	claimed.AssignedAdminID = c.adminID
	claimed = c.store.ApplyLocal(claimed)
	c.logger.With("op", op).Info("conversation claimed", slog.String("conversation", conv.ID))
	return claimed, nil
}

// Close finishes a conversation this admin owns.
func (c *Controller) Close(ctx context.Context, conversationID string) (chat.Conversation, error) {
	const op = "assignment.Controller.Close"
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return chat.Conversation{}, fmt.Errorf("%s: %w: %s", op, ErrUnknownConversation, conversationID)
	}
	if guard := CanClose(GuardContext{Conversation: conv, AdminID: c.adminID}); !guard.Allowed {
		return chat.Conversation{}, fmt.Errorf("%s: %w: %v", op, ErrNotAllowed, guard.Error())
	}
	if _, err := c.api.FinishConversation(ctx, conv.ID); err != nil {
		return chat.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	closed, _ := c.store.MarkClosed(conv.ID)
	c.logger.With("op", op).Info("conversation finished", slog.String("conversation", conv.ID))
	return closed, nil
}
