package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/config"
	"github.com/agentworkforce/supportdesk/internal/desk"
	"github.com/agentworkforce/supportdesk/internal/readstate"
	"github.com/agentworkforce/supportdesk/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	a := &app{cfg: cfg, out: os.Stdout, in: os.Stdin}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.rootCmd().ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type app struct {
	cfg     config.Config
	timeout time.Duration
	banners bool
	logger  *slog.Logger
	out     io.Writer
	in      io.Reader
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "supportdesk",
		Short: "Admin console for customer support chat",
		Long: `supportdesk keeps an admin's view of customer chat conversations in sync
with the shop backend, over polling plus optional websocket or AMQP push, and
alerts the operator when customers write.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			level, _ := config.ParseLogLevel(a.cfg.LogLevel)
			a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.BaseURL, "base-url", a.cfg.BaseURL, "shop backend base URL")
	flags.StringVar(&a.cfg.Token, "token", a.cfg.Token, "bearer token")
	flags.StringVar(&a.cfg.AdminID, "admin-id", a.cfg.AdminID, "id of the signed-in admin")
	flags.StringVar(&a.cfg.PushURL, "push-url", a.cfg.PushURL, "websocket push base URL (optional)")
	flags.StringVar(&a.cfg.AMQPURL, "amqp-url", a.cfg.AMQPURL, "RabbitMQ URL for push events (optional)")
	flags.StringVar(&a.cfg.AMQPExchange, "amqp-exchange", a.cfg.AMQPExchange, "RabbitMQ topic exchange")
	flags.StringVar(&a.cfg.ReadStateDSN, "read-state-dsn", a.cfg.ReadStateDSN, "read-state store (file://, memory://, sqlite://, postgres://)")
	flags.StringVar(&a.cfg.ReadStateKey, "read-state-key", a.cfg.ReadStateKey, "read-state storage key")
	flags.BoolVar(&a.cfg.WatchReadState, "watch-read-state", a.cfg.WatchReadState, "reload read state when another console rewrites the file")
	flags.DurationVar(&a.cfg.ListInterval, "list-interval", a.cfg.ListInterval, "conversation list poll interval")
	flags.DurationVar(&a.cfg.PendingInterval, "pending-interval", a.cfg.PendingInterval, "pending count poll interval")
	flags.DurationVar(&a.cfg.MessageInterval, "message-interval", a.cfg.MessageInterval, "open conversation message poll interval")
	flags.DurationVar(&a.cfg.ToastTTL, "toast-ttl", a.cfg.ToastTTL, "in-app notification lifetime")
	flags.IntVar(&a.cfg.MaxRetries, "max-retries", a.cfg.MaxRetries, "in-call retries for transient HTTP failures")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "debug, info, warn or error")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-request timeout (0 waits for the server)")

	root.AddCommand(a.listCmd())
	root.AddCommand(a.pendingCmd())
	root.AddCommand(a.messagesCmd())
	root.AddCommand(a.claimCmd())
	root.AddCommand(a.finishCmd())
	root.AddCommand(a.sendCmd())
	root.AddCommand(a.ordersCmd())
	root.AddCommand(a.watchCmd())
	return root
}

func (a *app) client() *adminapi.HTTPClient {
	return adminapi.NewHTTPClient(a.cfg.BaseURL, a.cfg.Token, adminapi.ClientOptions{
		HTTPClient: &http.Client{Timeout: a.timeout},
		MaxRetries: a.cfg.MaxRetries,
	})
}

// openTracker builds the read-state store named by the DSN. The returned
// store must be closed by the caller.
func (a *app) openTracker() (*readstate.Tracker, readstate.KeyValueStore, error) {
	store, err := readstate.BuildStoreFromDSN(a.cfg.ReadStateDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open read state: %w", err)
	}
	tracker, err := readstate.NewTracker(store, readstate.TrackerOptions{Key: a.cfg.ReadStateKey, Logger: a.logger})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load read state: %w", err)
	}
	return tracker, store, nil
}

// sessionSources are the push subscriptions scoped to the admin session.
func (a *app) sessionSources() []transport.ConversationEventSource {
	var sources []transport.ConversationEventSource
	if strings.TrimSpace(a.cfg.PushURL) != "" {
		sources = append(sources, transport.NewPushSource("admin-push", transport.AdminPushURL(a.cfg.PushURL), a.cfg.Token, a.logger))
	}
	if strings.TrimSpace(a.cfg.AMQPURL) != "" {
		sources = append(sources, transport.NewAMQPSource(transport.AMQPSourceOptions{
			URL:        a.cfg.AMQPURL,
			Exchange:   a.cfg.AMQPExchange,
			BindingKey: transport.AdminBindingKey,
			Logger:     a.logger,
		}))
	}
	return sources
}

// liveSources are the push subscriptions of one open conversation.
func (a *app) liveSources(conversationID string) []transport.ConversationEventSource {
	var sources []transport.ConversationEventSource
	if strings.TrimSpace(a.cfg.PushURL) != "" {
		sources = append(sources, transport.NewPushSource("conversation-push:"+conversationID, transport.ConversationPushURL(a.cfg.PushURL, conversationID), a.cfg.Token, a.logger))
	}
	if strings.TrimSpace(a.cfg.AMQPURL) != "" {
		sources = append(sources, transport.NewAMQPSource(transport.AMQPSourceOptions{
			URL:        a.cfg.AMQPURL,
			Exchange:   a.cfg.AMQPExchange,
			BindingKey: transport.ConversationBindingKey(conversationID),
			Logger:     a.logger,
		}))
	}
	return sources
}

// sessionOptions fills everything but the operator-facing ports.
func (a *app) sessionOptions(api adminapi.API, tracker *readstate.Tracker) desk.Options {
	return desk.Options{
		AdminID:         strings.TrimSpace(a.cfg.AdminID),
		API:             api,
		Tracker:         tracker,
		SessionSources:  a.sessionSources(),
		LiveSources:     a.liveSources,
		ListInterval:    a.cfg.ListInterval,
		PendingInterval: a.cfg.PendingInterval,
		MessageInterval: a.cfg.MessageInterval,
		ToastTTL:        a.cfg.ToastTTL,
		Logger:          a.logger,
	}
}

// loadSession returns a session seeded with one full snapshot, for the
// one-shot commands that act as the admin without running the live loop.
func (a *app) loadSession(ctx context.Context) (*desk.Session, func(), error) {
	if err := a.cfg.RequireAdmin(); err != nil {
		return nil, nil, err
	}
	tracker, store, err := a.openTracker()
	if err != nil {
		return nil, nil, err
	}
	api := a.client()
	opts := a.sessionOptions(api, tracker)
	opts.SessionSources = nil
	opts.LiveSources = nil
	session, err := desk.NewSession(opts)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	list, err := adminapi.ListAllConversations(ctx, api, adminapi.ListConversationsParams{})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	session.Apply(ctx, transport.Event{
		Type:          transport.EventConversationUpdated,
		Origin:        transport.OriginPoll,
		Snapshot:      true,
		Conversations: list,
		ReceivedAt:    time.Now(),
	})
	return session, func() { store.Close() }, nil
}
