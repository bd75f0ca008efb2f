// Package conversations caches the admin's conversation list and reconciles
// every transport delivery against it, producing the deltas that drive
// notifications.
package conversations

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

// Delta is a conversation that gained a newer, non-staff last message since
// the previous observation.
type Delta struct {
	Conversation chat.Conversation
	Previous     chat.Conversation
}

type Store struct {
	mu    sync.RWMutex
	byID  map[string]chat.Conversation
	alias map[string]string
	seen  map[string]time.Time
	warm  bool
}

func NewStore() *Store {
	return &Store{
		byID:  map[string]chat.Conversation{},
		alias: map[string]string{},
		seen:  map[string]time.Time{},
	}
}

// ApplySnapshot replaces the cached list with a full snapshot. Conversations
// missing from the snapshot are dropped. The first snapshot of the session
// warms the store and never yields deltas.
func (s *Store) ApplySnapshot(list []chat.Conversation) []Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]chat.Conversation, len(list))
	nextAlias := make(map[string]string, len(list))
	var deltas []Delta
	for _, incoming := range list {
		if strings.TrimSpace(incoming.ID) == "" {
			continue
		}
		merged := s.clearSeenLocked(incoming)
		if old, ok := s.lookupLocked(incoming); ok {
			merged = reconcile(old, merged)
			if s.warm && qualifies(old, merged) {
				deltas = append(deltas, Delta{Conversation: merged.Clone(), Previous: old.Clone()})
			}
		}
		if prior, dup := next[merged.ID]; dup {
			merged = reconcile(prior, merged)
		}
		next[merged.ID] = merged
		if merged.AltID != "" {
			nextAlias[merged.AltID] = merged.ID
		}
	}
	s.byID = next
	s.alias = nextAlias
	s.warm = true
	return deltas
}

// Upsert merges a single pushed conversation. A conversation not yet known is
// added without a delta.
func (s *Store) Upsert(incoming chat.Conversation) []Delta {
	if strings.TrimSpace(incoming.ID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.clearSeenLocked(incoming)
	old, ok := s.lookupLocked(incoming)
	if ok {
		merged = reconcile(old, merged)
		s.removeLocked(old)
	}
	s.putLocked(merged)
	if ok && s.warm && qualifies(old, merged) {
		return []Delta{{Conversation: merged.Clone(), Previous: old.Clone()}}
	}
	return nil
}

// ObserveMessage advances the last-message snapshot of a known conversation
// from a pushed message. Unknown conversations are ignored.
func (s *Store) ObserveMessage(msg chat.Message) []Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.resolveLocked(msg.ConversationID)
	if !ok || msg.CreatedAt.IsZero() {
		return nil
	}
	old := s.byID[id]
	if !msg.CreatedAt.After(old.LastMessageAt) {
		return nil
	}
	next := old.Clone()
	next.LastMessage = &chat.MessageSnapshot{Content: msg.Content, Sender: msg.Sender}
	next.LastMessageAt = msg.CreatedAt
	s.byID[id] = next
	if s.warm && qualifies(old, next) {
		return []Delta{{Conversation: next.Clone(), Previous: old.Clone()}}
	}
	return nil
}

// ApplyLocal records the result of an admin command. It never yields deltas.
func (s *Store) ApplyLocal(c chat.Conversation) chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := c.Clone()
	if old, ok := s.lookupLocked(c); ok {
		merged = reconcile(old, merged)
		s.removeLocked(old)
	}
	s.putLocked(merged)
	return merged.Clone()
}

// MarkClosed moves a known conversation to COMPLETED and drops its
// assignment.
func (s *Store) MarkClosed(id string) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.resolveLocked(id)
	if !ok {
		return chat.Conversation{}, false
	}
	c := s.byID[canonical]
	c.Status = chat.StatusCompleted
	c.AssignedAdminID = ""
	s.byID[canonical] = c
	return c.Clone(), true
}

// MarkSeen clears the server-reported unread flag. Later deliveries carrying
// the flag are ignored unless their last message is newer than at.
func (s *Store) MarkSeen(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.resolveLocked(id)
	if !ok {
		return false
	}
	c := s.byID[canonical]
	if at.IsZero() || at.Before(c.LastMessageAt) {
		at = c.LastMessageAt
	}
	if prev, ok := s.seen[canonical]; !ok || at.After(prev) {
		s.seen[canonical] = at
	}
	c.Unread = false
	s.byID[canonical] = c
	return true
}

func (s *Store) Get(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical, ok := s.resolveLocked(id)
	if !ok {
		return chat.Conversation{}, false
	}
	return s.byID[canonical].Clone(), true
}

// Resolve maps either identifier scheme onto the canonical id.
func (s *Store) Resolve(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(id)
}

// Warm reports whether a full snapshot has been applied.
func (s *Store) Warm() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warm
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// List returns every conversation, most recent activity first.
func (s *Store) List() []chat.Conversation {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sortByActivity(out)
	return out
}

// View is the projection of the list onto one status.
func (s *Store) View(status chat.Status) []chat.Conversation {
	var out []chat.Conversation
	for _, c := range s.List() {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) Views() map[chat.Status][]chat.Conversation {
	views := map[chat.Status][]chat.Conversation{
		chat.StatusPending:    nil,
		chat.StatusInProgress: nil,
		chat.StatusCompleted:  nil,
	}
	for _, c := range s.List() {
		views[c.Status] = append(views[c.Status], c)
	}
	return views
}

func (s *Store) resolveLocked(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	if _, ok := s.byID[id]; ok {
		return id, true
	}
	if canonical, ok := s.alias[id]; ok {
		if _, ok := s.byID[canonical]; ok {
			return canonical, true
		}
	}
	return "", false
}

// lookupLocked finds the cached entry for c under either of its ids.
func (s *Store) lookupLocked(c chat.Conversation) (chat.Conversation, bool) {
	for _, id := range []string{c.ID, c.AltID} {
		if canonical, ok := s.resolveLocked(id); ok {
			return s.byID[canonical], true
		}
	}
	return chat.Conversation{}, false
}

func (s *Store) removeLocked(c chat.Conversation) {
	delete(s.byID, c.ID)
	if c.AltID != "" && s.alias[c.AltID] == c.ID {
		delete(s.alias, c.AltID)
	}
}

func (s *Store) putLocked(c chat.Conversation) {
	s.byID[c.ID] = c
	if c.AltID != "" {
		s.alias[c.AltID] = c.ID
	}
}

func (s *Store) clearSeenLocked(c chat.Conversation) chat.Conversation {
	out := c.Clone()
	if !out.Unread {
		return out
	}
	for _, id := range []string{out.ID, out.AltID} {
		canonical, ok := s.resolveLocked(id)
		if !ok {
			continue
		}
		if seenAt, ok := s.seen[canonical]; ok && !out.LastMessageAt.After(seenAt) {
			out.Unread = false
		}
		break
	}
	return out
}

// reconcile merges incoming over old without regressing status or
// last-message time, so re-applying or reordering deliveries converges.
func reconcile(old, incoming chat.Conversation) chat.Conversation {
	out := incoming.Clone()
	out.ID = old.ID
	if incoming.ID != old.ID && out.AltID == "" {
		out.AltID = incoming.ID
	}
	if out.AltID == "" || out.AltID == out.ID {
		out.AltID = old.AltID
	}
	if old.Status.Rank() > incoming.Status.Rank() {
		out.Status = old.Status
		out.AssignedAdminID = old.AssignedAdminID
	} else if out.Status == chat.StatusInProgress && out.AssignedAdminID == "" && old.Status == chat.StatusInProgress {
		out.AssignedAdminID = old.AssignedAdminID
	}
	if out.Status != chat.StatusInProgress {
		out.AssignedAdminID = ""
	}
	if old.LastMessageAt.After(incoming.LastMessageAt) {
		out.LastMessageAt = old.LastMessageAt
		out.LastMessage = old.Clone().LastMessage
	} else if out.LastMessage == nil && old.LastMessage != nil && old.LastMessageAt.Equal(incoming.LastMessageAt) {
		out.LastMessage = old.Clone().LastMessage
	}
	if out.Customer == (chat.CustomerRef{}) {
		out.Customer = old.Customer
	}
	return out
}

func qualifies(old, next chat.Conversation) bool {
	return next.LastMessageAt.After(old.LastMessageAt) && !next.LastSender().IsStaff()
}

func sortByActivity(list []chat.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].LastMessageAt.Equal(list[j].LastMessageAt) {
			return list[i].LastMessageAt.After(list[j].LastMessageAt)
		}
		return list[i].ID < list[j].ID
	})
}
