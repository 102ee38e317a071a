package payment

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]Record),
	}
}

func (s *MemoryStore) Put(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments[record.ID] = *record
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &record, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}
