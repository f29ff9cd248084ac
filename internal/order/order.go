package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order transition")
)

// Line is one priced cart line frozen into the order at submission time.
// Prices are never re-derived from the catalog after this point.
type Line struct {
	VariantID      string `json:"variant_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Transition is one audit entry: which state change happened and why.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

type Order struct {
	ID          string       `json:"id"`
	CustomerRef string       `json:"customer_ref"`
	Lines       []Line       `json:"lines"`
	TotalCents  int64        `json:"total_cents"`
	Currency    string       `json:"currency"`
	State       State        `json:"state"`
	Audit       []Transition `json:"audit"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	cp.Audit = append([]Transition(nil), o.Audit...)
	return &cp
}
