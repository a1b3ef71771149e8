package credentials

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken means no bearer token is available; REST calls must fail fast
// rather than go out anonymously.
var ErrNoToken = errors.New("no bearer token available")

// TokenSource hands out the current bearer token. The token may change over
// the session lifetime; Watch delivers replacements as they happen.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Watch() <-chan string
}

// MemoryStore is an in-process TokenSource, settable by the embedding
// application whenever its auth layer refreshes the token.
type MemoryStore struct {
	mu       sync.RWMutex
	token    string
	watchers []chan string
}

// NewMemoryStore builds a MemoryStore, optionally seeded with a token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Token returns the current token or ErrNoToken when unset.
func (s *MemoryStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Set replaces the token and notifies watchers. Slow watchers miss
// intermediate values rather than block the setter.
func (s *MemoryStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	watchers := make([]chan string, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- token:
		default:
		}
	}
}

// Watch returns a channel receiving token replacements.
func (s *MemoryStore) Watch() <-chan string {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}
