// Package notify turns conversation deltas into operator alerts: an audio
// cue, a system banner when the console is not focused, and in-app toasts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/agentworkforce/supportdesk/internal/conversations"
)

// PreviewLimit caps toast and banner previews, in characters.
const PreviewLimit = 50

type AudioPlayer interface {
	Play(ctx context.Context) error
}

type BannerNotice struct {
	Title          string
	Body           string
	ConversationID string
	OnClick        func()
}

// Banner raises system-level notifications. RequestPermission is asked once
// per session.
type Banner interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, notice BannerNotice) error
}

type FocusState interface {
	Focused() bool
}

// FocusFunc adapts a function to FocusState.
type FocusFunc func() bool

func (f FocusFunc) Focused() bool { return f() }

type DispatcherOptions struct {
	Audio  AudioPlayer
	Banner Banner
	Focus  FocusState
	Toasts *Toasts
	// Open brings the console forward and opens the conversation. It backs
	// banner and toast clicks.
	Open   func(conversationID string)
	Logger *slog.Logger
}

type Dispatcher struct {
	audio  AudioPlayer
	banner Banner
	focus  FocusState
	toasts *Toasts
	open   func(string)
	logger *slog.Logger

	permissionOnce sync.Once
	mu             sync.RWMutex
	granted        bool
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	toasts := opts.Toasts
	if toasts == nil {
		toasts = NewToasts(ToastOptions{})
	}
	return &Dispatcher{
		audio:  opts.Audio,
		banner: opts.Banner,
		focus:  opts.Focus,
		toasts: toasts,
		open:   opts.Open,
		logger: logger,
	}
}

func (d *Dispatcher) Toasts() *Toasts {
	return d.toasts
}

// RequestPermission asks for banner permission the first time it is called;
// later calls are no-ops.
func (d *Dispatcher) RequestPermission(ctx context.Context) {
	if d.banner == nil {
		return
	}
	d.permissionOnce.Do(func() {
		granted, err := d.banner.RequestPermission(ctx)
		if err != nil {
			d.logger.Warn("banner permission request failed", slog.Any("error", err))
		}
		d.mu.Lock()
		d.granted = granted && err == nil
		d.mu.Unlock()
	})
}

func (d *Dispatcher) PermissionGranted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.granted
}

// Chime plays the audio cue. Playback failures are logged at debug level and
// otherwise ignored.
func (d *Dispatcher) Chime(ctx context.Context) {
	if d.audio == nil {
		return
	}
	if err := d.audio.Play(ctx); err != nil {
		d.logger.Debug("audio cue failed", slog.Any("error", err))
	}
}

// Dispatch raises one alert per delta and returns how many were raised.
func (d *Dispatcher) Dispatch(ctx context.Context, deltas []conversations.Delta) int {
	for _, delta := range deltas {
		conv := delta.Conversation
		name := conv.Customer.DisplayName
		if name == "" {
			name = "Customer"
		}
		preview := ""
		if conv.LastMessage != nil {
			preview = Preview(conv.LastMessage.Content, PreviewLimit)
		}
		onClick := d.clickHandler(conv.ID)

		d.Chime(ctx)
		if d.banner != nil && !d.focused() && d.PermissionGranted() {
			notice := BannerNotice{
				Title:          fmt.Sprintf("New message from %s", name),
				Body:           preview,
				ConversationID: conv.ID,
				OnClick:        onClick,
			}
			if err := d.banner.Show(ctx, notice); err != nil {
				d.logger.Debug("banner failed", slog.String("conversation", conv.ID), slog.Any("error", err))
			}
		}
		d.toasts.Push(fmt.Sprintf("%s: %s", name, preview), KindMessage, conv.ID, onClick)
	}
	return len(deltas)
}

// Notify pushes a plain toast without sound.
func (d *Dispatcher) Notify(message string, kind Kind) Toast {
	return d.toasts.Push(message, kind, "", nil)
}

func (d *Dispatcher) focused() bool {
	if d.focus == nil {
		return true
	}
	return d.focus.Focused()
}

func (d *Dispatcher) clickHandler(conversationID string) func() {
	if d.open == nil {
		return nil
	}
	return func() { d.open(conversationID) }
}

// Preview collapses whitespace and truncates content to limit characters,
// appending "..." when anything was cut.
func Preview(content string, limit int) string {
	text := norm.NFC.String(strings.Join(strings.Fields(content), " "))
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
