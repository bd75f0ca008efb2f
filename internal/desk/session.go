// Package desk wires the transports, stores, assignment controller and
// notification dispatcher into one admin session.
//
// Every transport delivery flows through a single event channel and is
// applied by the goroutine running Session.Run. Commands (select, claim,
// send, finish) run on the caller's goroutine; each store guards its own
// state, so the two never block each other on network calls.
package desk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentworkforce/supportdesk/internal/adminapi"
	"github.com/agentworkforce/supportdesk/internal/assignment"
	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/conversations"
	"github.com/agentworkforce/supportdesk/internal/messages"
	"github.com/agentworkforce/supportdesk/internal/notify"
	"github.com/agentworkforce/supportdesk/internal/pending"
	"github.com/agentworkforce/supportdesk/internal/readstate"
	"github.com/agentworkforce/supportdesk/internal/transport"
)

const eventBuffer = 64

// LiveSources builds the extra per-conversation sources (websocket, AMQP)
// started next to the message poll while a conversation is live.
type LiveSources func(conversationID string) []transport.ConversationEventSource

type Options struct {
	AdminID string
	API     adminapi.API
	// Tracker defaults to an in-memory tracker.
	Tracker *readstate.Tracker
	Audio   notify.AudioPlayer
	Banner  notify.Banner
	Focus   notify.FocusState

	// SessionSources run for the whole session next to the list poll.
	SessionSources []transport.ConversationEventSource
	LiveSources    LiveSources

	ListInterval    time.Duration
	PendingInterval time.Duration
	MessageInterval time.Duration

	ToastTTL       time.Duration
	ToastAfterFunc notify.AfterFunc
	// OnChange runs whenever visible state may have changed.
	OnChange func()

	Logger *slog.Logger
	Now    func() time.Time
}

type liveSubscription struct {
	conversationID string
	cancel         context.CancelFunc
}

type Session struct {
	adminID    string
	api        adminapi.API
	tracker    *readstate.Tracker
	convs      *conversations.Store
	msgs       *messages.Store
	assign     *assignment.Controller
	dispatcher *notify.Dispatcher
	pending    *pending.Counter

	sessionSources []transport.ConversationEventSource
	liveSources    LiveSources
	listInterval   time.Duration
	pendingEvery   time.Duration
	messageEvery   time.Duration

	events   chan transport.Event
	onChange func()
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	runCtx     context.Context
	selected   string
	activeView chat.Status
	live       *liveSubscription
	drafts     map[string]string
}

func NewSession(opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, ErrMissingAPI
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tracker := opts.Tracker
	if tracker == nil {
		var err error
		tracker, err = readstate.NewTracker(readstate.NewMemoryStore(), readstate.TrackerOptions{Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		adminID:        opts.AdminID,
		api:            opts.API,
		tracker:        tracker,
		convs:          conversations.NewStore(),
		msgs:           messages.NewStore(),
		sessionSources: opts.SessionSources,
		liveSources:    opts.LiveSources,
		listInterval:   opts.ListInterval,
		pendingEvery:   opts.PendingInterval,
		messageEvery:   opts.MessageInterval,
		events:         make(chan transport.Event, eventBuffer),
		onChange:       opts.OnChange,
		logger:         logger,
		now:            now,
		activeView:     chat.StatusPending,
		drafts:         map[string]string{},
	}
	s.assign = assignment.NewController(opts.API, s.convs, opts.AdminID, logger)
	s.dispatcher = notify.NewDispatcher(notify.DispatcherOptions{
		Audio:  opts.Audio,
		Banner: opts.Banner,
		Focus:  opts.Focus,
		Toasts: notify.NewToasts(notify.ToastOptions{
			TTL:       opts.ToastTTL,
			AfterFunc: opts.ToastAfterFunc,
			OnChange:  s.changed,
		}),
		Open:   s.openFromNotification,
		Logger: logger,
	})
	s.pending = pending.NewCounter(opts.API, pending.Options{
		Chimer:   s.dispatcher,
		OnChange: func(int) { s.changed() },
		Logger:   logger,
	})
	return s, nil
}

// Run starts the session-scoped sources and the pending poll, then applies
// deliveries until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.runCtx = ctx
	s.mu.Unlock()

	s.dispatcher.RequestPermission(ctx)

	sources := append([]transport.ConversationEventSource{
		transport.NewConversationListSource(s.api, s.listInterval, s.logger),
	}, s.sessionSources...)
	done := transport.FanIn(ctx, s.events, s.logger, sources...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pending.Run(ctx, s.pendingEvery)
	}()
	s.syncLive()

	for {
		select {
		case <-ctx.Done():
			s.stopLive()
			<-done
			wg.Wait()
			return nil
		case ev := <-s.events:
			s.Apply(ctx, ev)
		}
	}
}

// Apply reconciles one delivery against the stores and raises alerts for
// the resulting deltas. Run calls it for every event; it is safe to call
// directly.
func (s *Session) Apply(ctx context.Context, ev transport.Event) {
	var deltas []conversations.Delta
	switch {
	case ev.Snapshot && ev.Type != transport.EventNewMessage:
		deltas = s.convs.ApplySnapshot(ev.Conversations)
	default:
		for _, conv := range ev.Conversations {
			deltas = append(deltas, s.convs.Upsert(conv)...)
		}
	}
	if ev.Type == transport.EventConversationClosed && ev.ConversationID != "" {
		s.convs.MarkClosed(ev.ConversationID)
	}
	if len(ev.Messages) > 0 {
		deltas = append(deltas, s.applyMessages(ev)...)
	}

	if len(deltas) > 0 {
		s.dispatcher.Dispatch(ctx, deltas)
	}
	s.syncLive()
	s.changed()
}

func (s *Session) applyMessages(ev transport.Event) []conversations.Delta {
	convID := ev.ConversationID
	if canonical, ok := s.convs.Resolve(convID); ok {
		convID = canonical
	}

	var deltas []conversations.Delta
	if !ev.Snapshot {
		for _, msg := range ev.Messages {
			msg.ConversationID = convID
			deltas = append(deltas, s.convs.ObserveMessage(msg)...)
		}
	}

	s.mu.Lock()
	live := s.live != nil && s.live.conversationID == convID
	s.mu.Unlock()
	if !live {
		return deltas
	}

	added := s.msgs.Merge(convID, ev.Messages)
	if len(added) == 0 {
		return deltas
	}
	latest := added[len(added)-1]
	if ev.Snapshot {
		if conv, ok := s.convs.Get(convID); !ok || latest.CreatedAt.After(conv.LastMessageAt) {
			s.convs.ObserveMessage(latest)
		}
	}
	s.markRead(convID, latest.CreatedAt)
	return deltas
}

// syncLive starts or stops the per-conversation subscription so that it runs
// exactly while the selected conversation is claimed by this admin.
func (s *Session) syncLive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := ""
	if s.selected != "" {
		if conv, ok := s.convs.Get(s.selected); ok {
			guard := assignment.CanSubscribe(assignment.GuardContext{Conversation: conv, AdminID: s.adminID, Selected: true})
			if guard.Allowed {
				want = conv.ID
			}
		}
	}
	if s.live != nil && s.live.conversationID == want {
		return
	}
	if s.live != nil {
		s.logger.Debug("live subscription stopped", slog.String("conversation", s.live.conversationID))
		s.live.cancel()
		s.live = nil
	}
	if want == "" || s.runCtx == nil {
		return
	}

	liveCtx, cancel := context.WithCancel(s.runCtx)
	sources := []transport.ConversationEventSource{
		transport.NewMessageSource(s.api, want, s.messageEvery, s.logger),
	}
	if s.liveSources != nil {
		sources = append(sources, s.liveSources(want)...)
	}
	transport.FanIn(liveCtx, s.events, s.logger, sources...)
	s.live = &liveSubscription{conversationID: want, cancel: cancel}
	s.logger.Debug("live subscription started", slog.String("conversation", want))
}

func (s *Session) stopLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != nil {
		s.live.cancel()
		s.live = nil
	}
}

func (s *Session) markRead(conversationID string, at time.Time) {
	if now := s.now(); at.IsZero() || now.After(at) {
		at = now
	}
	if _, err := s.tracker.MarkRead(conversationID, at); err != nil {
		s.logger.Warn("persist read state failed", slog.String("conversation", conversationID), slog.Any("error", err))
	}
	s.convs.MarkSeen(conversationID, at)
}

func (s *Session) openFromNotification(conversationID string) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Select(ctx, conversationID); err != nil {
		s.logger.Warn("open conversation from notification failed", slog.String("conversation", conversationID), slog.Any("error", err))
	}
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
