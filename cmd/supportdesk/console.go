package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/desk"
	"github.com/agentworkforce/supportdesk/internal/notify"
	"github.com/agentworkforce/supportdesk/internal/readstate"
)

const (
	focusWindow    = 30 * time.Second
	renderInterval = 500 * time.Millisecond
)

const consoleHelp = `commands:
  list [pending|active|done]   show a view
  select <id>                  open a conversation
  back                         close the open conversation
  claim [id]                   claim a pending conversation
  send <text>                  reply in the open conversation
  retry                        resend the draft of a failed reply
  finish [id]                  complete a claimed conversation
  orders [id]                  show the customer's orders
  messages                     reprint the open conversation
  pending                      show the pending count
  toasts                       show notifications
  open <n>                     open notification n
  dismiss <n>                  dismiss notification n
  quit`

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// bellPlayer is the audio cue of a terminal.
type bellPlayer struct {
	w io.Writer
}

func (b bellPlayer) Play(ctx context.Context) error {
	_, err := io.WriteString(b.w, "\a")
	return err
}

// consoleBanner prints banner notifications inline. Permission is the
// --banners flag.
type consoleBanner struct {
	w       io.Writer
	enabled bool
}

func (b consoleBanner) RequestPermission(ctx context.Context) (bool, error) {
	return b.enabled, nil
}

func (b consoleBanner) Show(ctx context.Context, notice notify.BannerNotice) error {
	_, err := fmt.Fprintf(b.w, "%s %s: %s\n", color.New(color.FgHiWhite, color.BgBlue).Sprint(" NEW "), notice.Title, notice.Body)
	return err
}

// inputFocus treats the console as focused while the operator has typed
// recently.
type inputFocus struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
	now    func() time.Time
}

func newInputFocus(window time.Duration) *inputFocus {
	return &inputFocus{window: window, now: time.Now}
}

func (f *inputFocus) Touch() {
	f.mu.Lock()
	f.last = f.now()
	f.mu.Unlock()
}

func (f *inputFocus) Focused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.last.IsZero() && f.now().Sub(f.last) < f.window
}

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the interactive support console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireAdmin(); err != nil {
				return err
			}
			return a.runConsole(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&a.banners, "banners", true, "show banner notifications while the console is idle")
	return cmd
}

func (a *app) runConsole(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	tracker, store, err := a.openTracker()
	if err != nil {
		return err
	}
	defer store.Close()

	out := &syncWriter{w: a.out}
	focus := newInputFocus(focusWindow)
	opts := a.sessionOptions(a.client(), tracker)
	opts.Audio = bellPlayer{w: out}
	opts.Banner = consoleBanner{w: out, enabled: a.banners}
	opts.Focus = focus
	session, err := desk.NewSession(opts)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if a.cfg.WatchReadState {
		if fileStore, ok := store.(*readstate.FileStore); ok {
			watcher, err := readstate.NewFileWatcher(fileStore, tracker, a.logger)
			if err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					a.logger.Warn("read state watcher stopped", slog.Any("error", err))
				}
			}()
		} else {
			a.logger.Warn("read state watching needs a file:// store", slog.String("dsn", a.cfg.ReadStateDSN))
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx); err != nil {
			a.logger.Error("session stopped", slog.Any("error", err))
		}
	}()

	c := &console{session: session, out: out, printed: map[string]bool{}}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.renderLoop(ctx)
	}()

	fmt.Fprintln(out, "type help for commands")
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				cancel()
				return nil
			}
			focus.Touch()
			quit, err := c.handle(ctx, line)
			if err != nil {
				fmt.Fprintln(out, color.New(color.FgRed).Sprint(describeCommandError(err)))
			}
			if quit {
				cancel()
				return nil
			}
		}
	}
}

type console struct {
	session *desk.Session
	out     io.Writer

	mu        sync.Mutex
	lastToast int64
	shownConv string
	printed   map[string]bool
}

func (c *console) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	verb, rest := strings.ToLower(fields[0]), fields[1:]
	arg := ""
	if len(rest) > 0 {
		arg = rest[0]
	}

	switch verb {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "quit", "exit", "q":
		return true, nil
	case "list", "ls":
		status := c.session.ActiveView()
		if arg != "" {
			parsed, err := parseView(arg)
			if err != nil {
				return false, err
			}
			status = parsed
			c.session.SetActiveView(status)
		}
		c.printView(status)
	case "select":
		if arg == "" {
			return false, errors.New("usage: select <id>")
		}
		if err := c.session.Select(ctx, arg); err != nil {
			return false, err
		}
		c.printConversation(true)
	case "back":
		c.session.Deselect()
	case "claim":
		id, err := c.target(arg)
		if err != nil {
			return false, err
		}
		conv, err := c.session.Claim(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "claimed %s; showing %s\n", conv.ID, viewLabel(c.session.ActiveView()))
		c.printView(c.session.ActiveView())
	case "send", "say":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return false, c.send(ctx, text)
	case "retry":
		id := c.session.Selected()
		draft := c.session.Draft(id)
		if draft == "" {
			return false, errors.New("nothing to resend")
		}
		return false, c.send(ctx, draft)
	case "finish", "close":
		id, err := c.target(arg)
		if err != nil {
			return false, err
		}
		conv, err := c.session.Close(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "conversation %s completed\n", conv.ID)
	case "orders":
		id, err := c.target(arg)
		if err != nil {
			return false, err
		}
		orders, err := c.session.OrderHistory(ctx, id)
		if err != nil {
			return false, err
		}
		writeOrders(c.out, orders)
	case "messages":
		c.printConversation(true)
	case "pending":
		fmt.Fprintf(c.out, "pending: %d\n", c.session.PendingCount())
	case "toasts":
		toasts := c.session.Toasts()
		if len(toasts) == 0 {
			fmt.Fprintln(c.out, "no notifications")
		}
		for _, toast := range toasts {
			fmt.Fprintln(c.out, formatToast(toast))
		}
	case "open", "dismiss":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("usage: %s <notification number>", verb)
		}
		var ok bool
		if verb == "open" {
			ok = c.session.ClickToast(id)
		} else {
			ok = c.session.DismissToast(id)
		}
		if !ok {
			return false, fmt.Errorf("notification %d is gone", id)
		}
		if verb == "open" {
			c.printConversation(true)
		}
	default:
		return false, fmt.Errorf("unknown command %q (try help)", verb)
	}
	return false, nil
}

func (c *console) send(ctx context.Context, text string) error {
	id := c.session.Selected()
	if id == "" {
		return errors.New("select a conversation first")
	}
	if _, err := c.session.Send(ctx, id, text); err != nil {
		return err
	}
	c.printConversation(false)
	return nil
}

// target defaults to the open conversation.
func (c *console) target(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if id := c.session.Selected(); id != "" {
		return id, nil
	}
	return "", errors.New("no conversation given and none is open")
}

func (c *console) printView(status chat.Status) {
	items := c.session.Items(status)
	fmt.Fprintf(c.out, "%s (%d)  pending: %d\n", strings.ToUpper(viewLabel(status)), len(items), c.session.PendingCount())
	for _, item := range items {
		fmt.Fprintln(c.out, formatItem(item))
	}
}

// printConversation prints the open conversation's messages that were not
// printed yet, or all of them when full is set.
func (c *console) printConversation(full bool) {
	id := c.session.Selected()
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if full || c.shownConv != id {
		c.shownConv = id
		c.printed = map[string]bool{}
		if conv, ok := c.session.Conversation(id); ok {
			fmt.Fprintln(c.out, formatItem(desk.Item{Conversation: conv, Selected: true}))
		}
	}
	for _, msg := range c.session.Messages(id) {
		if chat.IsTempID(msg.ID) || c.printed[msg.ID] {
			continue
		}
		c.printed[msg.ID] = true
		fmt.Fprintln(c.out, formatMessage(msg))
	}
}

func (c *console) renderLoop(ctx context.Context) {
	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.printNewToasts()
			c.printConversation(false)
		}
	}
}

func (c *console) printNewToasts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, toast := range c.session.Toasts() {
		if toast.ID <= c.lastToast {
			continue
		}
		c.lastToast = toast.ID
		fmt.Fprintln(c.out, formatToast(toast))
	}
}
