package order

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists orders. Transition is the only mutation path after
// Create; it serializes per order id, checks validNext and appends an
// audit entry.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Transition(ctx context.Context, id string, to State, event string) (*Order, error)

	// ExpireCreated cancels orders stuck in CREATED since before the
	// cutoff (a run that died before reserving stock). Returns how many
	// were cancelled.
	ExpireCreated(ctx context.Context, before time.Time) (int, error)
}

type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*memOrder
	now    func() time.Time
}

type memOrder struct {
	mu sync.Mutex
	o  *Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]*memOrder{}, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	now := s.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	s.orders[o.ID] = &memOrder{o: o.clone()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	e, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.o.clone(), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, to State, event string) (*Order, error) {
	s.mu.Lock()
	e, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	// per-order lock: no two transitions apply concurrently
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.o.State
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := s.now().UTC()
	e.o.State = to
	e.o.UpdatedAt = now
	e.o.Audit = append(e.o.Audit, Transition{From: from, To: to, Event: event, At: now})
	return e.o.clone(), nil
}

// List returns every stored order. Handy for tests and debugging; the
// Store interface deliberately does not include it.
func (s *MemoryStore) List(_ context.Context) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Order, 0, len(s.orders))
	for _, e := range s.orders {
		e.mu.Lock()
		out = append(out, e.o.clone())
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) ExpireCreated(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	stale := make([]string, 0)
	for id, e := range s.orders {
		e.mu.Lock()
		if e.o.State == StateCreated && e.o.CreatedAt.Before(before) {
			stale = append(stale, id)
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	n := 0
	for _, id := range stale {
		if _, err := s.Transition(ctx, id, StateCancelled, "created order expired"); err == nil {
			n++
		}
	}
	return n, nil
}
