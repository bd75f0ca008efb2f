package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/desk"
	"github.com/agentworkforce/supportdesk/internal/notify"
)

const timeLayout = "2006-01-02 15:04"

// parseView maps the console's view names onto statuses.
func parseView(raw string) (chat.Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "pending", "new":
		return chat.StatusPending, nil
	case "active", "in_progress", "in-progress", "mine":
		return chat.StatusInProgress, nil
	case "done", "completed", "closed":
		return chat.StatusCompleted, nil
	default:
		return "", fmt.Errorf("unknown view %q (pending, active or done)", raw)
	}
}

func formatStatus(status chat.Status) string {
	switch status {
	case chat.StatusInProgress:
		return color.New(color.FgCyan).Sprint("IN_PROGRESS")
	case chat.StatusCompleted:
		return color.New(color.FgHiBlack).Sprint("COMPLETED")
	default:
		return color.New(color.FgYellow).Sprint("PENDING")
	}
}

func formatItem(item desk.Item) string {
	conv := item.Conversation
	marker := "  "
	if item.Selected {
		marker = color.New(color.FgHiMagenta).Sprint("> ")
	}
	unread := " "
	if item.Unread {
		unread = color.New(color.FgRed, color.Bold).Sprint("*")
	}
	name := conv.Customer.DisplayName
	if conv.Customer.Guest {
		name += " (guest)"
	}
	line := fmt.Sprintf("%s%s %-8s %s  %s", marker, unread, conv.ID, formatStatus(conv.Status), name)
	if conv.AssignedAdminID != "" {
		line += color.New(color.FgCyan).Sprintf(" [admin %s]", conv.AssignedAdminID)
	}
	if conv.LastMessage != nil {
		line += "  " + color.New(color.FgHiBlack).Sprint(notify.Preview(conv.LastMessage.Content, notify.PreviewLimit))
	}
	if !conv.LastMessageAt.IsZero() {
		line += "  " + conv.LastMessageAt.Local().Format(timeLayout)
	}
	return line
}

func formatMessage(msg chat.Message) string {
	who := msg.Sender.String()
	switch msg.Sender {
	case chat.SenderAdmin:
		who = color.New(color.FgCyan).Sprint("you")
		if msg.SenderID != "" {
			who = color.New(color.FgCyan).Sprintf("admin %s", msg.SenderID)
		}
	case chat.SenderSystem:
		who = color.New(color.FgHiBlack).Sprint("system")
	default:
		who = color.New(color.FgGreen).Sprint(strings.ToLower(who))
	}
	state := ""
	switch msg.Delivery {
	case chat.DeliveryPending:
		state = color.New(color.FgYellow).Sprint(" (sending...)")
	case chat.DeliveryFailed:
		state = color.New(color.FgRed).Sprint(" (failed)")
	}
	stamp := ""
	if !msg.CreatedAt.IsZero() {
		stamp = msg.CreatedAt.Local().Format(timeLayout) + " "
	}
	return fmt.Sprintf("%s%s: %s%s", stamp, who, msg.Content, state)
}

func formatToast(toast notify.Toast) string {
	c := color.New(color.FgHiBlue)
	switch toast.Kind {
	case notify.KindError:
		c = color.New(color.FgRed)
	case notify.KindSuccess:
		c = color.New(color.FgGreen)
	}
	line := c.Sprintf("[#%d] %s", toast.ID, toast.Message)
	if toast.Clickable() {
		line += color.New(color.FgHiBlack).Sprintf("  (open %d)", toast.ID)
	}
	return line
}

func formatOrder(order adminapi.OrderSummary) string {
	code := order.Code
	if code == "" {
		code = order.ID
	}
	created := ""
	if !order.CreatedAt.IsZero() {
		created = order.CreatedAt.Local().Format(timeLayout)
	}
	return fmt.Sprintf("%-12s %-12s %12.2f %-4s %s", code, order.Status, order.Total, order.Currency, created)
}
