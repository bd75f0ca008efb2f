package readstate

import (
	"errors"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

// KeyValueStore is the durable storage port behind the read-state tracker.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Close() error
}

type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
