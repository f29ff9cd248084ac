package cart

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("cart not found")
	ErrVersionConflict = errors.New("cart version conflict")
	ErrItemNotFound    = errors.New("cart item not found")
)

type Item struct {
	VariantID      string `json:"variant_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Cart is the mutable pre-order aggregate, owned by one customer
// session. Version backs optimistic concurrency: Store.Update only
// applies a mutation made against the latest version.
type Cart struct {
	ID          string    `json:"id"`
	CustomerRef string    `json:"customer_ref"`
	Currency    string    `json:"currency"`
	Items       []Item    `json:"items"`
	Version     uint64    `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func New(customerRef, currency string) *Cart {
	return &Cart{
		ID:          uuid.NewString(),
		CustomerRef: customerRef,
		Currency:    currency,
		UpdatedAt:   time.Now().UTC(),
	}
}

// AddItem appends a line, merging quantity into an existing line for
// the same variant. The incoming price wins; it is a fresh snapshot
// from the catalog.
func (c *Cart) AddItem(variantID string, qty int, unitPriceCents int64) {
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items[i].Quantity += qty
			c.Items[i].UnitPriceCents = unitPriceCents
			return
		}
	}
	c.Items = append(c.Items, Item{VariantID: variantID, Quantity: qty, UnitPriceCents: unitPriceCents})
}

func (c *Cart) RemoveItem(variantID string) error {
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) UpdateQuantity(variantID string, qty int) error {
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items[i].Quantity = qty
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) TotalCents() int64 {
	var t int64
	for _, it := range c.Items {
		t += it.UnitPriceCents * int64(it.Quantity)
	}
	return t
}

type Line struct {
	VariantID      string `json:"variant_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Snapshot is the immutable view checkout consumes. Prices are frozen
// here and never re-derived from the catalog afterwards.
type Snapshot struct {
	CartID      string    `json:"cart_id"`
	CustomerRef string    `json:"customer_ref"`
	Currency    string    `json:"currency"`
	Lines       []Line    `json:"lines"`
	TotalCents  int64     `json:"total_cents"`
	TakenAt     time.Time `json:"taken_at"`
}

func (c *Cart) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		CartID:      c.ID,
		CustomerRef: c.CustomerRef,
		Currency:    c.Currency,
		TakenAt:     now,
	}
	for _, it := range c.Items {
		lt := it.UnitPriceCents * int64(it.Quantity)
		s.Lines = append(s.Lines, Line{
			VariantID:      it.VariantID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: lt,
		})
		s.TotalCents += lt
	}
	return s
}
