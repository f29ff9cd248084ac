package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger keeps stock accounting in process. Each variant has its
// own mutex so reserving variant A never waits on variant B; the
// ledger-level mutex only guards map lookups and inserts.
type MemoryLedger struct {
	mu           sync.Mutex
	variants     map[string]*memVariant
	reservations map[string]*memReservation
	now          func() time.Time
}

type memVariant struct {
	mu                    sync.Mutex
	total, held, consumed int
}

type memReservation struct {
	Reservation
	v *memVariant
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		variants:     map[string]*memVariant{},
		reservations: map[string]*memReservation{},
		now:          time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (m *MemoryLedger) SetNow(now func() time.Time) { m.now = now }

func (m *MemoryLedger) Reserve(_ context.Context, orderID, variantID string, qty int, ttl time.Duration) (*Reservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("reserve %s: quantity must be > 0", variantID)
	}
	m.mu.Lock()
	v, ok := m.variants[variantID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: variant %s has no stock", ErrInsufficientStock, variantID)
	}

	now := m.now().UTC()
	v.mu.Lock()
	if v.total-v.held-v.consumed < qty {
		v.mu.Unlock()
		return nil, fmt.Errorf("%w: variant %s", ErrInsufficientStock, variantID)
	}
	v.held += qty
	v.mu.Unlock()

	res := &memReservation{
		Reservation: Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			VariantID: variantID,
			Quantity:  qty,
			Status:    ReservationHeld,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		},
		v: v,
	}
	m.mu.Lock()
	m.reservations[res.ID] = res
	m.mu.Unlock()

	out := res.Reservation
	return &out, nil
}

func (m *MemoryLedger) Consume(_ context.Context, reservationID string) error {
	m.mu.Lock()
	res, ok := m.reservations[reservationID]
	m.mu.Unlock()
	if !ok {
		return ErrReservationNotFound
	}

	res.v.mu.Lock()
	defer res.v.mu.Unlock()
	switch res.Status {
	case ReservationConsumed:
		return nil
	case ReservationReleased:
		return fmt.Errorf("%w: %s", ErrReservationExpired, reservationID)
	}
	if m.now().UTC().After(res.ExpiresAt) {
		res.Status = ReservationReleased
		res.v.held -= res.Quantity
		return fmt.Errorf("%w: %s", ErrReservationExpired, reservationID)
	}
	res.Status = ReservationConsumed
	res.v.held -= res.Quantity
	res.v.consumed += res.Quantity
	return nil
}

func (m *MemoryLedger) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	res, ok := m.reservations[reservationID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	res.v.mu.Lock()
	defer res.v.mu.Unlock()
	if res.Status == ReservationHeld {
		res.Status = ReservationReleased
		res.v.held -= res.Quantity
	}
	return nil
}

func (m *MemoryLedger) Unconsume(_ context.Context, reservationID string) error {
	m.mu.Lock()
	res, ok := m.reservations[reservationID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	res.v.mu.Lock()
	defer res.v.mu.Unlock()
	switch res.Status {
	case ReservationHeld:
		res.Status = ReservationReleased
		res.v.held -= res.Quantity
	case ReservationConsumed:
		res.Status = ReservationReleased
		res.v.consumed -= res.Quantity
	}
	return nil
}

func (m *MemoryLedger) SweepExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	all := make([]*memReservation, 0, len(m.reservations))
	for _, r := range m.reservations {
		all = append(all, r)
	}
	m.mu.Unlock()

	n := 0
	for _, r := range all {
		r.v.mu.Lock()
		if r.Status == ReservationHeld && !r.ExpiresAt.After(now) {
			r.Status = ReservationReleased
			r.v.held -= r.Quantity
			n++
		}
		r.v.mu.Unlock()
	}
	return n, nil
}

func (m *MemoryLedger) SetStock(_ context.Context, variantID string, total int) error {
	m.mu.Lock()
	v, ok := m.variants[variantID]
	if !ok {
		v = &memVariant{}
		m.variants[variantID] = v
	}
	m.mu.Unlock()

	v.mu.Lock()
	v.total = total
	v.mu.Unlock()
	return nil
}

func (m *MemoryLedger) AdjustStock(_ context.Context, variantID string, delta int) error {
	m.mu.Lock()
	v, ok := m.variants[variantID]
	m.mu.Unlock()
	if !ok {
		return ErrVariantNotFound
	}
	v.mu.Lock()
	v.total += delta
	v.mu.Unlock()
	return nil
}

func (m *MemoryLedger) Stock(_ context.Context, variantID string) (Stock, error) {
	m.mu.Lock()
	v, ok := m.variants[variantID]
	m.mu.Unlock()
	if !ok {
		return Stock{}, ErrVariantNotFound
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stock{VariantID: variantID, Total: v.total, Held: v.held, Consumed: v.consumed}, nil
}
