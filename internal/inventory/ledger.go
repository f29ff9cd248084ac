package inventory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrVariantNotFound     = errors.New("variant not found")
)

type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "HELD"
	ReservationConsumed ReservationStatus = "CONSUMED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// Reservation is a time-bounded hold on one variant's stock, tagged
// with the order that requested it.
type Reservation struct {
	ID        string
	OrderID   string
	VariantID string
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Stock is the ledger's accounting for one variant.
// Invariant: Held + Consumed <= Total at all times.
type Stock struct {
	VariantID string `json:"variant_id"`
	Total     int    `json:"total"`
	Held      int    `json:"held"`
	Consumed  int    `json:"consumed"`
}

func (s Stock) Available() int { return s.Total - s.Held - s.Consumed }

// Ledger is the only path to stock counts. Reserve is atomic per
// variant and never serializes unrelated variants against each other.
// Consume and Release are idempotent on terminal reservations.
type Ledger interface {
	Reserve(ctx context.Context, orderID, variantID string, qty int, ttl time.Duration) (*Reservation, error)
	Consume(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error

	// Unconsume takes back a Consume made earlier in a run that is now
	// compensating: CONSUMED goes to RELEASED and the units return to
	// available. A still-HELD reservation is released; RELEASED and
	// unknown ids are no-ops.
	Unconsume(ctx context.Context, reservationID string) error

	// SweepExpired releases HELD reservations whose TTL passed before
	// now. Returns how many were released.
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	SetStock(ctx context.Context, variantID string, total int) error
	AdjustStock(ctx context.Context, variantID string, delta int) error
	Stock(ctx context.Context, variantID string) (Stock, error)
}
