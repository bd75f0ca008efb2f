// Package assignment contains the conversation ownership state machine.
// Guards are pure functions that evaluate preconditions without side effects.
package assignment

import (
	"fmt"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

type State int

const (
	Unassigned State = iota
	Claimed
	Closed
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "CLAIMED"
	case Closed:
		return "CLOSED"
	default:
		return "UNASSIGNED"
	}
}

// StateOf derives the assignment state from a conversation's status.
func StateOf(c chat.Conversation) State {
	switch c.Status {
	case chat.StatusInProgress:
		return Claimed
	case chat.StatusCompleted:
		return Closed
	default:
		return Unassigned
	}
}

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// GuardContext is the input shared by every assignment guard.
type GuardContext struct {
	Conversation chat.Conversation
	AdminID      string
	// Selected reports whether the conversation is the admin's open one.
	Selected bool
}

func (ctx GuardContext) ownedBySelf() bool {
	return StateOf(ctx.Conversation) == Claimed && ctx.Conversation.AssignedAdminID == ctx.AdminID
}

// CanClaim evaluates whether the admin may claim the conversation.
// Rules:
// - Closed conversations cannot be claimed
// - A conversation claimed by another admin cannot be claimed
// Claiming a conversation already owned by the admin is allowed (no-op).
func CanClaim(ctx GuardContext) GuardResult {
	switch StateOf(ctx.Conversation) {
	case Closed:
		return GuardResult{Reason: fmt.Sprintf("conversation %s is already completed", ctx.Conversation.ID)}
	case Claimed:
		if !ctx.ownedBySelf() {
			return GuardResult{Reason: fmt.Sprintf("conversation %s is already claimed by admin %s", ctx.Conversation.ID, ctx.Conversation.AssignedAdminID)}
		}
	}
	return GuardResult{Allowed: true}
}

// CanClose evaluates whether the admin may finish the conversation.
// Rules:
// - Only a conversation claimed by this admin can be closed
func CanClose(ctx GuardContext) GuardResult {
	switch StateOf(ctx.Conversation) {
	case Unassigned:
		return GuardResult{Reason: fmt.Sprintf("conversation %s must be claimed before it can be finished", ctx.Conversation.ID)}
	case Closed:
		return GuardResult{Reason: fmt.Sprintf("conversation %s is already completed", ctx.Conversation.ID)}
	}
	if !ctx.ownedBySelf() {
		return GuardResult{Reason: fmt.Sprintf("conversation %s is claimed by admin %s", ctx.Conversation.ID, ctx.Conversation.AssignedAdminID)}
	}
	return GuardResult{Allowed: true}
}

// CanSend is the assignment-required gate for outbound messages.
func CanSend(ctx GuardContext) GuardResult {
	switch StateOf(ctx.Conversation) {
	case Unassigned:
		return GuardResult{Reason: fmt.Sprintf("claim conversation %s before replying", ctx.Conversation.ID)}
	case Closed:
		return GuardResult{Reason: fmt.Sprintf("conversation %s is completed", ctx.Conversation.ID)}
	}
	if !ctx.ownedBySelf() {
		return GuardResult{Reason: fmt.Sprintf("conversation %s is handled by admin %s", ctx.Conversation.ID, ctx.Conversation.AssignedAdminID)}
	}
	return GuardResult{Allowed: true}
}

// CanSubscribe reports whether the live message subscription may run: the
// conversation must be selected and claimed by this admin.
func CanSubscribe(ctx GuardContext) GuardResult {
	if !ctx.Selected {
		return GuardResult{Reason: fmt.Sprintf("conversation %s is not selected", ctx.Conversation.ID)}
	}
	if !ctx.ownedBySelf() {
		return GuardResult{Reason: fmt.Sprintf("conversation %s is not claimed by this admin", ctx.Conversation.ID)}
	}
	return GuardResult{Allowed: true}
}
