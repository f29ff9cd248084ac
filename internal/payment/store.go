package payment

import (
	"context"
	"sync"
	"time"
)

// IntentStore persists payment intents. GetByKey backs the idempotency
// guarantee: one key maps to at most one intent.
type IntentStore interface {
	Create(ctx context.Context, in *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	GetByKey(ctx context.Context, idempotencyKey string) (*Intent, error)
	SetStatus(ctx context.Context, id string, status IntentStatus, gatewayRef string) error
}

type MemoryIntentStore struct {
	mu    sync.Mutex
	byID  map[string]*Intent
	byKey map[string]string
}

func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{byID: map[string]*Intent{}, byKey: map[string]string{}}
}

func (s *MemoryIntentStore) Create(_ context.Context, in *Intent) error {
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.byID[in.ID] = &cp
	s.byKey[in.IdempotencyKey] = in.ID
	return nil
}

func (s *MemoryIntentStore) Get(_ context.Context, id string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryIntentStore) GetByKey(_ context.Context, key string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryIntentStore) SetStatus(_ context.Context, id string, status IntentStatus, gatewayRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return ErrIntentNotFound
	}
	in.Status = status
	if gatewayRef != "" {
		in.GatewayRef = gatewayRef
	}
	in.UpdatedAt = time.Now().UTC()
	return nil
}
