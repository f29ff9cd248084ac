package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps orders, their frozen lines and the transition audit in
// postgres. The state column is updated with a from-state guard so a
// lost race surfaces as ErrInvalidTransition instead of a silent
// overwrite.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, customer_ref, currency, total_cents, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		o.ID, o.CustomerRef, o.Currency, o.TotalCents, string(o.State), now)
	if err != nil {
		return err
	}
	for _, l := range o.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, variant_id, quantity, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, l.VariantID, l.Quantity, l.UnitPriceCents, l.LineTotalCents)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// pgQuerier lets Get-style reads run either on the pool or inside an
// open transaction.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) Get(ctx context.Context, id string) (*Order, error) {
	return s.get(ctx, s.DB, id)
}

func (s *PGStore) get(ctx context.Context, q pgQuerier, id string) (*Order, error) {
	o := &Order{ID: id}
	var state string
	err := q.QueryRow(ctx, `
		SELECT customer_ref, currency, total_cents, state, created_at, updated_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.CustomerRef, &o.Currency, &o.TotalCents, &state, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.State = State(state)

	rows, err := q.Query(ctx, `
		SELECT variant_id, quantity, unit_price_cents, line_total_cents
		FROM order_lines WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.VariantID, &l.Quantity, &l.UnitPriceCents, &l.LineTotalCents); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := q.Query(ctx, `
		SELECT from_state, to_state, event, at
		FROM order_transitions WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var t Transition
		var from, to string
		if err := trows.Scan(&from, &to, &t.Event, &t.At); err != nil {
			return nil, err
		}
		t.From, t.To = State(from), State(to)
		o.Audit = append(o.Audit, t)
	}
	return o, trows.Err()
}

func (s *PGStore) Transition(ctx context.Context, id string, to State, event string) (*Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur string
	err = tx.QueryRow(ctx, `SELECT state FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	from := State(cur)
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET state=$2, updated_at=$3 WHERE id=$1 AND state=$4`,
		id, string(to), now, cur)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: %s -> %s (lost race)", ErrInvalidTransition, from, to)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_transitions(order_id, from_state, to_state, event, at)
		VALUES ($1,$2,$3,$4,$5)`,
		id, cur, string(to), event, now)
	if err != nil {
		return nil, err
	}
	// Read the snapshot while the row lock is still held, so the result
	// is exactly the state this transition produced.
	o, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PGStore) ExpireCreated(ctx context.Context, before time.Time) (int, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders WHERE state=$1 AND created_at < $2`,
		string(StateCreated), before)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		if _, err := s.Transition(ctx, id, StateCancelled, "created order expired"); err == nil {
			n++
		}
	}
	return n, nil
}
