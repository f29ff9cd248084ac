package cart

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists carts. Update compares the cart's Version against the
// stored one: a mutation made against a stale read fails with
// ErrVersionConflict and the caller retries against the latest version.
// On success the stored version is bumped and reflected on the cart.
type Store interface {
	Create(ctx context.Context, c *Cart) error
	Get(ctx context.Context, id string) (*Cart, error)
	Update(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: map[string]*Cart{}}
}

func clone(c *Cart) *Cart {
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, c *Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[c.ID]; ok {
		return fmt.Errorf("cart %s already exists", c.ID)
	}
	s.carts[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) Update(_ context.Context, c *Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.carts[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != c.Version {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, c.Version, cur.Version)
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.carts[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
	return nil
}
