package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byWallet map[string][]string // lowercased address → session IDs in creation order
}

// NewMemoryStore creates an in-memory scan session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byWallet: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("scan: session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session.Clone()
	wallet := strings.ToLower(session.WalletAddress)
	s.byWallet[wallet] = append(s.byWallet[wallet], session.ID)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[session.ID]
	if !exists {
		return ErrNotFound
	}
	if stored.State.Terminal() {
		return fmt.Errorf("scan: session %s is terminal", session.ID)
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) ListByWallet(ctx context.Context, walletAddress string, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWallet[strings.ToLower(walletAddress)]
	result := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if session, ok := s.sessions[id]; ok {
			result = append(result, session.Clone())
		}
	}

	// Most recent first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
