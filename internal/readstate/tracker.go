// Package readstate persists when the admin last viewed each conversation and
// derives unread flags from it.
package readstate

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

// DefaultKey is the storage key holding the serialized read-state map.
const DefaultKey = "admin_chat_read_state"

type TrackerOptions struct {
	Key    string
	Logger *slog.Logger
}

type Tracker struct {
	mu sync.RWMutex

	// persistMu orders writes so the last Set always carries the newest map.
	persistMu sync.Mutex
	store     KeyValueStore
	key       string
	entries   map[string]time.Time
	logger    *slog.Logger
}

// NewTracker loads the persisted map once. A corrupt payload is logged and
// replaced by an empty map on the next write.
func NewTracker(store KeyValueStore, opts TrackerOptions) (*Tracker, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		key = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:   store,
		key:     key,
		entries: map[string]time.Time{},
		logger:  logger,
	}
	loaded, err := t.load()
	if err != nil {
		return nil, err
	}
	t.entries = loaded
	return t, nil
}

// Reload merges the persisted map into memory, keeping the later timestamp
// per conversation.
func (t *Tracker) Reload() error {
	loaded, err := t.load()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ts := range loaded {
		if current, ok := t.entries[id]; !ok || ts.After(current) {
			t.entries[id] = ts
		}
	}
	return nil
}

func (t *Tracker) LastRead(conversationID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.entries[strings.TrimSpace(conversationID)]
	return ts, ok
}

// MarkRead records that the conversation was viewed at the given instant.
// Timestamps never move backwards; the map is rewritten only on change.
func (t *Tracker) MarkRead(conversationID string, at time.Time) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || at.IsZero() {
		return false, nil
	}
	at = at.UTC()
	t.mu.Lock()
	if current, ok := t.entries[conversationID]; ok && !at.After(current) {
		t.mu.Unlock()
		return false, nil
	}
	t.entries[conversationID] = at
	t.mu.Unlock()
	return true, t.persist()
}

// persist encodes the current map and writes it while holding persistMu, so
// a write that started earlier can never overwrite a newer one.
func (t *Tracker) persist() error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	t.mu.RLock()
	payload, err := t.encodeLocked()
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.store.Set(t.key, payload)
}

// IsUnread reports whether a list item should be flagged unread.
func (t *Tracker) IsUnread(conv chat.Conversation, selectedID string) bool {
	if conv.Matches(selectedID) {
		return false
	}
	if conv.LastSender().IsStaff() {
		return false
	}
	if conv.Unread {
		return true
	}
	if conv.LastMessageAt.IsZero() {
		return false
	}
	readAt, ok := t.LastRead(conv.ID)
	if !ok && conv.AltID != "" {
		readAt, ok = t.LastRead(conv.AltID)
	}
	if !ok {
		return true
	}
	return conv.LastMessageAt.After(readAt)
}

func (t *Tracker) Snapshot() map[string]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]time.Time, len(t.entries))
	for id, ts := range t.entries {
		out[id] = ts
	}
	return out
}

func (t *Tracker) load() (map[string]time.Time, error) {
	raw, ok, err := t.store.Get(t.key)
	if err != nil {
		return nil, err
	}
	entries := map[string]time.Time{}
	if !ok || strings.TrimSpace(raw) == "" {
		return entries, nil
	}
	var encoded map[string]string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		t.logger.Warn("discarding unreadable read-state", slog.String("key", t.key), slog.Any("error", err))
		return entries, nil
	}
	for id, value := range encoded {
		ts := chat.ParseTimestamp(value)
		if ts.IsZero() {
			continue
		}
		entries[id] = ts
	}
	return entries, nil
}

func (t *Tracker) encodeLocked() (string, error) {
	encoded := make(map[string]string, len(t.entries))
	for id, ts := range t.entries {
		encoded[id] = chat.FormatTimestamp(ts)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
