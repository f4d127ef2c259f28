package memory

import (
	"context"
	"sync"

	"dex-token-registry/internal/domain"
	"dex-token-registry/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	lists  map[uint64]domain.TokenList // keyed by network id
	subs   map[int]func(networkID uint64)
	nextID int
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		lists: make(map[uint64]domain.TokenList),
		subs:  make(map[int]func(networkID uint64)),
	}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Tokens retrieves the cached list for a network, in persisted order.
// An unknown network yields an empty list.
func (s *TokenStore) Tokens(_ context.Context, networkID uint64) (domain.TokenList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[networkID]
	listCopy := make(domain.TokenList, len(list))
	copy(listCopy, list)
	return listCopy, nil
}

// PersistTokens overwrites the cached list for a network and notifies
// subscribers.
func (s *TokenStore) PersistTokens(_ context.Context, networkID uint64, list domain.TokenList) error {
	if list == nil {
		return storage.ErrInvalidInput
	}

	listCopy := make(domain.TokenList, len(list))
	copy(listCopy, list)

	s.mu.Lock()
	s.lists[networkID] = listCopy
	subs := make([]func(uint64), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// Notify outside the lock so callbacks may call back into the store.
	for _, fn := range subs {
		fn(networkID)
	}
	return nil
}

// Subscribe registers a callback invoked after every successful persist.
func (s *TokenStore) Subscribe(fn func(networkID uint64)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Seed replaces the list for a network without notifying subscribers.
// Intended for initial token lists loaded at startup.
func (s *TokenStore) Seed(networkID uint64, list domain.TokenList) {
	listCopy := make(domain.TokenList, len(list))
	copy(listCopy, list)

	s.mu.Lock()
	s.lists[networkID] = listCopy
	s.mu.Unlock()
}
