package revoke

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// Insert performs its check-and-set under one lock, giving the same
// atomicity the Postgres unique constraint provides.
type MemoryStore struct {
	mu    sync.RWMutex
	ops   map[string]*Operation // id → operation
	byKey map[string]string     // idempotency key → id
}

// NewMemoryStore creates an in-memory revoke operation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:   make(map[string]*Operation),
		byKey: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, op *Operation) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, held := s.byKey[op.IdempotencyKey]; held {
		existing := s.ops[id]
		// Failed and Expired holders free the key for a new attempt.
		if existing.Status == StatusPending || existing.Status == StatusCompleted {
			return existing.Clone(), ErrKeyExists
		}
	}

	s.ops[op.ID] = op.Clone()
	s.byKey[op.IdempotencyKey] = op.ID
	return op.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.ops[op.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status.Terminal() {
		return ErrNotCancellable
	}
	s.ops[op.ID] = op.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return op.Clone(), nil
}

func (s *MemoryStore) GetByKey(ctx context.Context, key string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.ops[id].Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.ops, id)
	if s.byKey[op.IdempotencyKey] == id {
		delete(s.byKey, op.IdempotencyKey)
	}
	return nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Operation
	for _, op := range s.ops {
		if op.Status == StatusPending && op.ExpiresAt.Before(now) {
			result = append(result, op.Clone())
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
