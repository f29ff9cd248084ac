package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger backs the ledger with postgres. Reserve is a single
// conditional UPDATE guarded by the availability check, so two
// concurrent reservations for the last unit resolve at the row lock:
// one wins, the other sees zero rows affected.
type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) Reserve(ctx context.Context, orderID, variantID string, qty int, ttl time.Duration) (*Reservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("reserve %s: quantity must be > 0", variantID)
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE variants SET held = held + $2
		WHERE id = $1 AND total - held - consumed >= $2`, variantID, qty)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: variant %s", ErrInsufficientStock, variantID)
	}

	now := time.Now().UTC()
	res := &Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		VariantID: variantID,
		Quantity:  qty,
		Status:    ReservationHeld,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO reservations(id, order_id, variant_id, quantity, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.OrderID, res.VariantID, res.Quantity, string(res.Status), res.ExpiresAt, res.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *PGLedger) Consume(ctx context.Context, reservationID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var variantID, status string
	var qty int
	var expiresAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT variant_id, quantity, status, expires_at
		FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).
		Scan(&variantID, &qty, &status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return err
	}

	switch ReservationStatus(status) {
	case ReservationConsumed:
		return nil
	case ReservationReleased:
		return fmt.Errorf("%w: %s", ErrReservationExpired, reservationID)
	}

	if time.Now().UTC().After(expiresAt) {
		if err := l.releaseHeld(ctx, tx, reservationID, variantID, qty); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrReservationExpired, reservationID)
	}

	if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE id=$1`,
		reservationID, string(ReservationConsumed)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE variants SET held = held - $2, consumed = consumed + $2 WHERE id=$1`,
		variantID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var variantID, status string
	var qty int
	err = tx.QueryRow(ctx, `
		SELECT variant_id, quantity, status
		FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).
		Scan(&variantID, &qty, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if ReservationStatus(status) != ReservationHeld {
		return nil
	}
	if err := l.releaseHeld(ctx, tx, reservationID, variantID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) Unconsume(ctx context.Context, reservationID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var variantID, status string
	var qty int
	err = tx.QueryRow(ctx, `
		SELECT variant_id, quantity, status
		FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).
		Scan(&variantID, &qty, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	switch ReservationStatus(status) {
	case ReservationHeld:
		if err := l.releaseHeld(ctx, tx, reservationID, variantID, qty); err != nil {
			return err
		}
	case ReservationConsumed:
		if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE id=$1`,
			reservationID, string(ReservationReleased)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE variants SET consumed = consumed - $2 WHERE id=$1`,
			variantID, qty); err != nil {
			return err
		}
	default:
		return nil
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) releaseHeld(ctx context.Context, tx pgx.Tx, reservationID, variantID string, qty int) error {
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE id=$1`,
		reservationID, string(ReservationReleased)); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE variants SET held = held - $2 WHERE id=$1`, variantID, qty)
	return err
}

func (l *PGLedger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status=$1
		WHERE status=$2 AND expires_at <= $3
		RETURNING variant_id, quantity`,
		string(ReservationReleased), string(ReservationHeld), now)
	if err != nil {
		return 0, err
	}
	type freed struct {
		variantID string
		qty       int
	}
	var fs []freed
	for rows.Next() {
		var f freed
		if err := rows.Scan(&f.variantID, &f.qty); err != nil {
			rows.Close()
			return 0, err
		}
		fs = append(fs, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, f := range fs {
		if _, err := tx.Exec(ctx, `UPDATE variants SET held = held - $2 WHERE id=$1`,
			f.variantID, f.qty); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(fs), nil
}

func (l *PGLedger) SetStock(ctx context.Context, variantID string, total int) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO variants(id, total, held, consumed) VALUES ($1,$2,0,0)
		ON CONFLICT (id) DO UPDATE SET total = EXCLUDED.total`, variantID, total)
	return err
}

func (l *PGLedger) AdjustStock(ctx context.Context, variantID string, delta int) error {
	ct, err := l.DB.Exec(ctx, `UPDATE variants SET total = total + $2 WHERE id=$1`, variantID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrVariantNotFound
	}
	return nil
}

func (l *PGLedger) Stock(ctx context.Context, variantID string) (Stock, error) {
	s := Stock{VariantID: variantID}
	err := l.DB.QueryRow(ctx, `SELECT total, held, consumed FROM variants WHERE id=$1`, variantID).
		Scan(&s.Total, &s.Held, &s.Consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrVariantNotFound
	}
	return s, err
}
