package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/supportdesk/internal/chat"
	"github.com/agentworkforce/supportdesk/internal/conversations"
)

type fakeAudio struct {
	plays int
	err   error
}

func (f *fakeAudio) Play(ctx context.Context) error {
	f.plays++
	return f.err
}

type fakeBanner struct {
	granted  bool
	requests int
	shown    []BannerNotice
}

func (f *fakeBanner) RequestPermission(ctx context.Context) (bool, error) {
	f.requests++
	return f.granted, nil
}

func (f *fakeBanner) Show(ctx context.Context, notice BannerNotice) error {
	f.shown = append(f.shown, notice)
	return nil
}

type manualTimer struct {
	fire    func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.stopped = true
	return true
}

type manualClock struct {
	timers []*manualTimer
	ttls   []time.Duration
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	timer := &manualTimer{fire: f}
	c.timers = append(c.timers, timer)
	c.ttls = append(c.ttls, d)
	return timer
}

func delta(id, content string) conversations.Delta {
	return conversations.Delta{Conversation: chat.Conversation{
		ID:            id,
		Status:        chat.StatusPending,
		Customer:      chat.CustomerRef{DisplayName: "Lan"},
		LastMessage:   &chat.MessageSnapshot{Content: content, Sender: chat.SenderCustomer},
		LastMessageAt: time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC),
	}}
}

func TestDispatchFocusedSkipsBanner(t *testing.T) {
	audio := &fakeAudio{}
	banner := &fakeBanner{granted: true}
	clock := &manualClock{}
	d := NewDispatcher(DispatcherOptions{
		Audio:  audio,
		Banner: banner,
		Focus:  FocusFunc(func() bool { return true }),
		Toasts: NewToasts(ToastOptions{AfterFunc: clock.AfterFunc}),
	})
	d.RequestPermission(context.Background())

	if n := d.Dispatch(context.Background(), []conversations.Delta{delta("1", "Xin chào")}); n != 1 {
		t.Fatalf("expected one alert, got %d", n)
	}
	if audio.plays != 1 {
		t.Fatalf("expected one chime, got %d", audio.plays)
	}
	if len(banner.shown) != 0 {
		t.Fatalf("expected no banner while focused")
	}
	toasts := d.Toasts().Active()
	if len(toasts) != 1 || toasts[0].Message != "Lan: Xin chào" || toasts[0].ConversationID != "1" {
		t.Fatalf("unexpected toasts %+v", toasts)
	}
}

func TestDispatchUnfocusedShowsBannerThatOpensConversation(t *testing.T) {
	banner := &fakeBanner{granted: true}
	var opened []string
	d := NewDispatcher(DispatcherOptions{
		Audio:  &fakeAudio{err: errors.New("autoplay blocked")},
		Banner: banner,
		Focus:  FocusFunc(func() bool { return false }),
		Toasts: NewToasts(ToastOptions{AfterFunc: (&manualClock{}).AfterFunc}),
		Open:   func(id string) { opened = append(opened, id) },
	})
	d.RequestPermission(context.Background())
	d.RequestPermission(context.Background())
	if banner.requests != 1 {
		t.Fatalf("expected permission to be requested once, got %d", banner.requests)
	}

	d.Dispatch(context.Background(), []conversations.Delta{delta("7", "hello")})
	if len(banner.shown) != 1 || banner.shown[0].ConversationID != "7" {
		t.Fatalf("expected banner for conversation 7, got %+v", banner.shown)
	}
	banner.shown[0].OnClick()

	toast := d.Toasts().Active()[0]
	if !d.Toasts().Click(toast.ID) {
		t.Fatalf("expected toast click to succeed")
	}
	if len(opened) != 2 || opened[0] != "7" || opened[1] != "7" {
		t.Fatalf("expected banner and toast to open conversation 7, got %v", opened)
	}
	if d.Toasts().Len() != 0 {
		t.Fatalf("expected clicked toast to be dismissed")
	}
}

func TestBannerRequiresPermission(t *testing.T) {
	banner := &fakeBanner{granted: false}
	d := NewDispatcher(DispatcherOptions{Banner: banner, Focus: FocusFunc(func() bool { return false })})
	d.RequestPermission(context.Background())
	d.Dispatch(context.Background(), []conversations.Delta{delta("1", "x")})
	if len(banner.shown) != 0 {
		t.Fatalf("expected no banner without permission")
	}
}

func TestToastsAreFIFOWithMonotonicIDsAndExpire(t *testing.T) {
	clock := &manualClock{}
	changes := 0
	q := NewToasts(ToastOptions{AfterFunc: clock.AfterFunc, OnChange: func() { changes++ }})
	a := q.Push("first", KindInfo, "", nil)
	b := q.Push("second", KindInfo, "", nil)
	c := q.Push("third", KindInfo, "", nil)
	if !(a.ID < b.ID && b.ID < c.ID) {
		t.Fatalf("expected increasing ids, got %d %d %d", a.ID, b.ID, c.ID)
	}
	if clock.ttls[0] != DefaultToastTTL {
		t.Fatalf("expected default ttl, got %s", clock.ttls[0])
	}

	if !q.Dismiss(b.ID) || !clock.timers[1].stopped {
		t.Fatalf("expected explicit dismissal to stop its timer")
	}
	clock.timers[0].fire()
	active := q.Active()
	if len(active) != 1 || active[0].ID != c.ID {
		t.Fatalf("expected only the third toast left, got %+v", active)
	}

	d := q.Push("fourth", KindInfo, "", nil)
	if d.ID <= c.ID {
		t.Fatalf("expected ids never to be reused, got %d after %d", d.ID, c.ID)
	}
	if q.Dismiss(a.ID) {
		t.Fatalf("expected expired toast to be gone")
	}
	if changes != 6 {
		t.Fatalf("expected six change notifications, got %d", changes)
	}
}

func TestPreview(t *testing.T) {
	short := "Xin chào"
	if got := Preview(short, PreviewLimit); got != short {
		t.Fatalf("expected short content unchanged, got %q", got)
	}
	long := strings.Repeat("\u0103", 60)
	got := Preview(long, PreviewLimit)
	if got != strings.Repeat("\u0103", 50)+"..." {
		t.Fatalf("expected 50 characters plus ellipsis, got %q", got)
	}
	decomposed := "a\u0306"
	if got := Preview(strings.Repeat(decomposed, 50), PreviewLimit); got != strings.Repeat("\u0103", 50) {
		t.Fatalf("expected combining marks to count as one character, got %q", got)
	}
	if got := Preview("line one\n\n  line two", PreviewLimit); got != "line one line two" {
		t.Fatalf("expected whitespace to collapse, got %q", got)
	}
}
