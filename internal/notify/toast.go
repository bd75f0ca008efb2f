package notify

import (
	"sync"
	"time"
)

const DefaultToastTTL = 5 * time.Second

type Kind string

const (
	KindMessage Kind = "message"
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

type Toast struct {
	ID             int64
	Message        string
	Kind           Kind
	ConversationID string
	TTL            time.Duration
	CreatedAt      time.Time
	onClick        func()
}

// Clickable reports whether clicking the toast does anything.
func (t Toast) Clickable() bool {
	return t.onClick != nil
}

// Stopper cancels a scheduled dismissal. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) Stopper

// Toasts is the in-app notification stack: ids increase monotonically,
// Active returns oldest first, and every toast self-dismisses after its TTL.
type Toasts struct {
	mu        sync.Mutex
	nextID    int64
	items     []Toast
	timers    map[int64]Stopper
	ttl       time.Duration
	afterFunc AfterFunc
	now       func() time.Time
	onChange  func()
}

type ToastOptions struct {
	TTL       time.Duration
	AfterFunc AfterFunc
	// OnChange runs after every push or removal, outside the lock.
	OnChange func()
}

func NewToasts(opts ToastOptions) *Toasts {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultToastTTL
	}
	after := opts.AfterFunc
	if after == nil {
		after = func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }
	}
	return &Toasts{
		timers:    map[int64]Stopper{},
		ttl:       ttl,
		afterFunc: after,
		now:       time.Now,
		onChange:  opts.OnChange,
	}
}

// Push enqueues a toast and returns it with its id assigned.
func (q *Toasts) Push(message string, kind Kind, conversationID string, onClick func()) Toast {
	q.mu.Lock()
	q.nextID++
	toast := Toast{
		ID:             q.nextID,
		Message:        message,
		Kind:           kind,
		ConversationID: conversationID,
		TTL:            q.ttl,
		CreatedAt:      q.now(),
		onClick:        onClick,
	}
	q.items = append(q.items, toast)
	id := toast.ID
	q.timers[id] = q.afterFunc(toast.TTL, func() { q.Dismiss(id) })
	q.mu.Unlock()
	q.changed()
	return toast
}

func (q *Toasts) Dismiss(id int64) bool {
	q.mu.Lock()
	removed := q.removeLocked(id)
	q.mu.Unlock()
	if removed {
		q.changed()
	}
	return removed
}

// Click runs the toast's click handler and dismisses it.
func (q *Toasts) Click(id int64) bool {
	q.mu.Lock()
	var onClick func()
	for _, toast := range q.items {
		if toast.ID == id {
			onClick = toast.onClick
			break
		}
	}
	removed := q.removeLocked(id)
	q.mu.Unlock()
	if !removed {
		return false
	}
	q.changed()
	if onClick != nil {
		onClick()
	}
	return true
}

func (q *Toasts) Active() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Toast, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Toasts) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Toasts) removeLocked(id int64) bool {
	for i, toast := range q.items {
		if toast.ID != id {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		if timer, ok := q.timers[id]; ok {
			timer.Stop()
			delete(q.timers, id)
		}
		return true
	}
	return false
}

func (q *Toasts) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}
