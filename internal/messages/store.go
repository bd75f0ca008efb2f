// Package messages keeps the message list of each conversation, including the
// single optimistic send allowed per conversation.
package messages

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

var (
	ErrSendInFlight = errors.New("a message is already being sent in this conversation")
	ErrEmptyMessage = errors.New("message is empty")
	ErrUnknownSend  = errors.New("no pending send with this id")
)

type thread struct {
	messages []chat.Message
	ids      map[string]struct{}
	lastID   string
	inflight string
	draft    string
}

type Store struct {
	mu      sync.Mutex
	threads map[string]*thread
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{threads: map[string]*thread{}, now: time.Now}
}

// BeginSend appends a PENDING message under a temporary id. Content is kept
// verbatim so a failed send can restore it.
func (s *Store) BeginSend(conversationID, senderID, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threadLocked(conversationID)
	if t.inflight != "" {
		return chat.Message{}, ErrSendInFlight
	}
	msg := chat.Message{
		ID:             chat.NewTempID(),
		ConversationID: conversationID,
		Sender:         chat.SenderAdmin,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.now().UTC(),
		Delivery:       chat.DeliveryPending,
	}
	t.messages = append(t.messages, msg)
	t.inflight = msg.ID
	t.draft = content
	return msg, nil
}

// ConfirmSend swaps the temporary entry for the server-confirmed message. The
// confirmed message is not appended when a delivery already carried its id.
func (s *Store) ConfirmSend(conversationID, tempID string, confirmed chat.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threadLocked(conversationID)
	if t.inflight != tempID {
		return false, ErrUnknownSend
	}
	t.removeLocked(tempID)
	t.inflight = ""
	t.draft = ""

	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	confirmed.Delivery = chat.DeliveryConfirmed
	return t.appendLocked(confirmed), nil
}

// FailSend drops the temporary entry and returns the original content
// byte-for-byte.
func (s *Store) FailSend(conversationID, tempID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threadLocked(conversationID)
	if t.inflight != tempID {
		return "", ErrUnknownSend
	}
	t.removeLocked(tempID)
	draft := t.draft
	t.inflight = ""
	t.draft = ""
	return draft, nil
}

// Merge appends inbound messages whose ids are not present yet and returns
// the appended ones. Re-delivered messages are dropped silently.
func (s *Store) Merge(conversationID string, inbound []chat.Message) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threadLocked(conversationID)
	var added []chat.Message
	for _, msg := range inbound {
		if chat.IsTempID(msg.ID) {
			continue
		}
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		if msg.Delivery == "" {
			msg.Delivery = chat.DeliveryConfirmed
		}
		if t.appendLocked(msg) {
			added = append(added, msg)
		}
	}
	return added
}

func (s *Store) Messages(conversationID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[conversationID]
	if !ok {
		return nil
	}
	out := make([]chat.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// LastID is the id of the most recently appended server message.
func (s *Store) LastID(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[conversationID]; ok {
		return t.lastID
	}
	return ""
}

func (s *Store) InFlight(conversationID string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[conversationID]
	if !ok || t.inflight == "" {
		return chat.Message{}, false
	}
	for _, msg := range t.messages {
		if msg.ID == t.inflight {
			return msg, true
		}
	}
	return chat.Message{}, false
}

// Forget drops a conversation's cached messages unless a send is unresolved.
func (s *Store) Forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[conversationID]; ok && t.inflight == "" {
		delete(s.threads, conversationID)
	}
}

func (s *Store) threadLocked(conversationID string) *thread {
	t, ok := s.threads[conversationID]
	if !ok {
		t = &thread{ids: map[string]struct{}{}}
		s.threads[conversationID] = t
	}
	return t
}

func (t *thread) appendLocked(msg chat.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, dup := t.ids[msg.ID]; dup {
		return false
	}
	t.ids[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
	t.lastID = msg.ID
	return true
}

func (t *thread) removeLocked(id string) {
	kept := t.messages[:0]
	for _, msg := range t.messages {
		if msg.ID != id {
			kept = append(kept, msg)
		}
	}
	t.messages = kept
	delete(t.ids, id)
}
