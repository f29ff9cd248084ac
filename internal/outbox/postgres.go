package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Append(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Status = StatusPending
	m.CreatedAt = time.Now().UTC()
	_, err := s.DB.Exec(ctx, `
		INSERT INTO outbox(id, topic, key, value, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.Topic, m.Key, m.Value, string(m.Status), m.CreatedAt)
	return err
}

func (s *PGStore) Pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, topic, key, value, created_at
		FROM outbox WHERE status=$1 ORDER BY created_at LIMIT $2`,
		string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m := Message{Status: StatusPending}
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Value, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox SET status=$1, sent_at=$2 WHERE id = ANY($3) AND status=$4`,
		string(StatusSent), time.Now().UTC(), ids, string(StatusPending))
	return err
}
