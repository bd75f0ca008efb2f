package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/assignment"
	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/desk"
)

func (a *app) listCmd() *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations in one view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseView(view)
			if err != nil {
				return err
			}
			tracker, store, err := a.openTracker()
			if err != nil {
				return err
			}
			defer store.Close()

			api := a.client()
			list, err := adminapi.ListAllConversations(cmd.Context(), api, adminapi.ListConversationsParams{Status: status})
			if err != nil {
				return err
			}
			count := 0
			for _, conv := range list {
				if conv.Status != status {
					continue
				}
				count++
				fmt.Fprintln(a.out, formatItem(desk.Item{Conversation: conv, Unread: tracker.IsUnread(conv, "")}))
			}
			if count == 0 {
				fmt.Fprintf(a.out, "no %s conversations\n", strings.ToLower(status.String()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&view, "view", "pending", "pending, active or done")
	return cmd
}

func (a *app) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of unclaimed conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client().PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
}

func (a *app) messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation>",
		Short: "Print a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client().ListMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, msg := range list {
				fmt.Fprintln(a.out, formatMessage(msg))
			}
			return nil
		},
	}
}

func (a *app) claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <conversation>",
		Short: "Take ownership of a pending conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, done, err := a.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			conv, err := session.Claim(cmd.Context(), args[0])
			if err != nil {
				return describeCommandError(err)
			}
			fmt.Fprintf(a.out, "%s conversation %s claimed\n", color.New(color.FgGreen).Sprint("✓"), conv.ID)
			return nil
		},
	}
}

func (a *app) finishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finish <conversation>",
		Short: "Mark a claimed conversation completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, done, err := a.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			conv, err := session.Close(cmd.Context(), args[0])
			if err != nil {
				return describeCommandError(err)
			}
			fmt.Fprintf(a.out, "%s conversation %s completed\n", color.New(color.FgGreen).Sprint("✓"), conv.ID)
			return nil
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <message...>",
		Short: "Reply in a conversation you have claimed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, done, err := a.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			msg, err := session.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return describeCommandError(err)
			}
			fmt.Fprintln(a.out, formatMessage(msg))
			return nil
		},
	}
}

func (a *app) ordersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders <conversation>",
		Short: "Show the customer's order history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := a.client().OrderHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			writeOrders(a.out, orders)
			return nil
		},
	}
}

// describeCommandError rewords the errors an operator is expected to act on.
func describeCommandError(err error) error {
	var sendErr *desk.SendError
	switch {
	case errors.As(err, &sendErr):
		return fmt.Errorf("%w\nyour message was not sent; draft: %q", err, sendErr.Draft)
	case errors.Is(err, assignment.ErrClaimConflict):
		return fmt.Errorf("%w\nrefresh the list and pick another conversation", err)
	default:
		return err
	}
}

func viewLabel(status chat.Status) string {
	switch status {
	case chat.StatusInProgress:
		return "active"
	case chat.StatusCompleted:
		return "done"
	default:
		return "pending"
	}
}

func writeOrders(w io.Writer, orders []adminapi.OrderSummary) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "no orders")
		return
	}
	for _, order := range orders {
		fmt.Fprintln(w, formatOrder(order))
	}
}
