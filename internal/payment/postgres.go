package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGIntentStore struct{ DB *pgxpool.Pool }

func (s *PGIntentStore) Create(ctx context.Context, in *Intent) error {
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payment_intents(id, order_id, amount_cents, currency, idempotency_key, status, gateway_ref, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		in.ID, in.OrderID, in.AmountCents, in.Currency, in.IdempotencyKey, string(in.Status), in.GatewayRef, now)
	return err
}

func (s *PGIntentStore) Get(ctx context.Context, id string) (*Intent, error) {
	return s.scanOne(ctx, `
		SELECT id, order_id, amount_cents, currency, idempotency_key, status, gateway_ref, created_at, updated_at
		FROM payment_intents WHERE id=$1`, id)
}

func (s *PGIntentStore) GetByKey(ctx context.Context, key string) (*Intent, error) {
	return s.scanOne(ctx, `
		SELECT id, order_id, amount_cents, currency, idempotency_key, status, gateway_ref, created_at, updated_at
		FROM payment_intents WHERE idempotency_key=$1`, key)
}

func (s *PGIntentStore) scanOne(ctx context.Context, q, arg string) (*Intent, error) {
	in := &Intent{}
	var status string
	err := s.DB.QueryRow(ctx, q, arg).Scan(
		&in.ID, &in.OrderID, &in.AmountCents, &in.Currency, &in.IdempotencyKey,
		&status, &in.GatewayRef, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	in.Status = IntentStatus(status)
	return in, nil
}

func (s *PGIntentStore) SetStatus(ctx context.Context, id string, status IntentStatus, gatewayRef string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE payment_intents
		SET status=$2, gateway_ref=COALESCE(NULLIF($3,''), gateway_ref), updated_at=$4
		WHERE id=$1`,
		id, string(status), gatewayRef, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrIntentNotFound
	}
	return nil
}
