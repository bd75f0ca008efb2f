package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/assignment"
	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/notify"
)

var (
	ErrMissingAPI         = errors.New("admin api is required")
	ErrAlreadyRunning     = errors.New("session is already running")
	ErrAssignmentRequired = errors.New("conversation must be claimed by you before replying")
)

// SendError reports a failed send. Draft holds the original content
// byte-for-byte so the caller can put it back into the compose buffer.
type SendError struct {
	ConversationID string
	Draft          string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to conversation %s failed: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Item is one row of a conversation view.
type Item struct {
	Conversation chat.Conversation
	Unread       bool
	Selected     bool
}

// Select opens a conversation: it is marked read now, and the live
// subscription starts when the conversation is claimed by this admin.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	conv, ok := s.convs.Get(conversationID)
	if !ok {
		return fmt.Errorf("select: %w: %s", assignment.ErrUnknownConversation, conversationID)
	}
	s.mu.Lock()
	s.selected = conv.ID
	s.mu.Unlock()

	at := s.now()
	if conv.LastMessageAt.After(at) {
		at = conv.LastMessageAt
	}
	s.markRead(conv.ID, at)
	s.syncLive()

	if assignment.StateOf(conv) != assignment.Claimed || conv.AssignedAdminID != s.adminID {
		s.loadHistory(ctx, conv.ID)
	}
	s.changed()
	return nil
}

// Deselect closes the open conversation and tears down its live
// subscription. Session-wide polls are unaffected. The cached thread is
// dropped and reloaded on the next Select.
func (s *Session) Deselect() {
	s.mu.Lock()
	previous := s.selected
	s.selected = ""
	s.mu.Unlock()
	s.syncLive()
	if previous != "" {
		s.msgs.Forget(previous)
	}
	s.changed()
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Live returns the conversation whose message subscription is running.
func (s *Session) Live() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return ""
	}
	return s.live.conversationID
}

// Claim takes ownership of a pending conversation and switches the active
// view to IN_PROGRESS. A *assignment.ClaimConflictError leaves every store
// untouched.
func (s *Session) Claim(ctx context.Context, conversationID string) (chat.Conversation, error) {
	conv, err := s.assign.Claim(ctx, conversationID)
	if err != nil {
		if errors.Is(err, assignment.ErrClaimConflict) {
			s.dispatcher.Notify(err.Error(), notify.KindError)
		}
		return chat.Conversation{}, err
	}
	s.mu.Lock()
	s.activeView = chat.StatusInProgress
	s.mu.Unlock()

	s.refreshPending(ctx)
	s.syncLive()
	s.changed()
	return conv, nil
}

// Close finishes a claimed conversation and tears down its subscription.
func (s *Session) Close(ctx context.Context, conversationID string) (chat.Conversation, error) {
	conv, err := s.assign.Close(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	s.mu.Lock()
	delete(s.drafts, conv.ID)
	s.mu.Unlock()

	s.syncLive()
	s.refreshPending(ctx)
	s.changed()
	return conv, nil
}

// Send posts a reply optimistically. While it is unresolved a second send to
// the same conversation fails with messages.ErrSendInFlight. On failure the
// optimistic entry is removed and a *SendError carries the draft.
func (s *Session) Send(ctx context.Context, conversationID, content string) (chat.Message, error) {
	conv, ok := s.convs.Get(conversationID)
	if !ok {
		return chat.Message{}, fmt.Errorf("send: %w: %s", assignment.ErrUnknownConversation, conversationID)
	}
	guard := assignment.CanSend(assignment.GuardContext{Conversation: conv, AdminID: s.adminID})
	if !guard.Allowed {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrAssignmentRequired, guard.Error())
	}
	optimistic, err := s.msgs.BeginSend(conv.ID, s.adminID, content)
	if err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	delete(s.drafts, conv.ID)
	s.mu.Unlock()
	s.changed()

	confirmed, err := s.api.SendMessage(ctx, conv.ID, content)
	if err != nil {
		draft, failErr := s.msgs.FailSend(conv.ID, optimistic.ID)
		if failErr != nil {
			draft = content
		}
		s.mu.Lock()
		s.drafts[conv.ID] = draft
		s.mu.Unlock()
		s.logger.Warn("send failed", slog.String("conversation", conv.ID), slog.Any("error", err))
		s.dispatcher.Notify("Message not sent", notify.KindError)
		s.changed()
		return chat.Message{}, &SendError{ConversationID: conv.ID, Draft: draft, Err: err}
	}

	if confirmed.Sender == chat.SenderUnknown {
		confirmed.Sender = chat.SenderAdmin
	}
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conv.ID
	}
	if _, err := s.msgs.ConfirmSend(conv.ID, optimistic.ID, confirmed); err != nil {
		s.logger.Warn("confirm send failed", slog.String("conversation", conv.ID), slog.Any("error", err))
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = s.now()
	}
	s.convs.ObserveMessage(confirmed)
	s.markRead(conv.ID, confirmed.CreatedAt)
	s.changed()
	return confirmed, nil
}

// Draft returns the compose buffer left behind by a failed send.
func (s *Session) Draft(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[conversationID]
}

func (s *Session) SetDraft(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.drafts, conversationID)
		return
	}
	s.drafts[conversationID] = text
}

func (s *Session) ActiveView() chat.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeView
}

func (s *Session) SetActiveView(status chat.Status) {
	s.mu.Lock()
	s.activeView = status
	s.mu.Unlock()
	s.changed()
}

// Items returns one view with unread flags resolved against the read state.
func (s *Session) Items(status chat.Status) []Item {
	selected := s.Selected()
	view := s.convs.View(status)
	items := make([]Item, 0, len(view))
	for _, conv := range view {
		items = append(items, Item{
			Conversation: conv,
			Unread:       s.tracker.IsUnread(conv, selected),
			Selected:     conv.Matches(selected),
		})
	}
	return items
}

func (s *Session) Conversation(conversationID string) (chat.Conversation, bool) {
	return s.convs.Get(conversationID)
}

func (s *Session) Messages(conversationID string) []chat.Message {
	if canonical, ok := s.convs.Resolve(conversationID); ok {
		conversationID = canonical
	}
	return s.msgs.Messages(conversationID)
}

func (s *Session) PendingCount() int {
	return s.pending.Count()
}

func (s *Session) Toasts() []notify.Toast {
	return s.dispatcher.Toasts().Active()
}

func (s *Session) DismissToast(id int64) bool {
	return s.dispatcher.Toasts().Dismiss(id)
}

// ClickToast opens the toast's conversation and dismisses it.
func (s *Session) ClickToast(id int64) bool {
	return s.dispatcher.Toasts().Click(id)
}

// OrderHistory is the read-only order panel of a conversation's customer.
func (s *Session) OrderHistory(ctx context.Context, conversationID string) ([]adminapi.OrderSummary, error) {
	if canonical, ok := s.convs.Resolve(conversationID); ok {
		conversationID = canonical
	}
	return s.api.OrderHistory(ctx, conversationID)
}

func (s *Session) refreshPending(ctx context.Context) {
	if _, err := s.pending.Refresh(ctx); err != nil {
		s.logger.Warn("pending count refresh failed", slog.Any("error", err))
	}
}

// loadHistory fetches a conversation's messages once, for conversations that
// are viewed without a live subscription.
func (s *Session) loadHistory(ctx context.Context, conversationID string) {
	list, err := s.api.ListMessages(ctx, conversationID)
	if err != nil {
		s.logger.Warn("load messages failed", slog.String("conversation", conversationID), slog.Any("error", err))
		return
	}
	s.msgs.Merge(conversationID, list)
}
