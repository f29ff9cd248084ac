package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
)

// Message is one event waiting to leave the process. Appending to the
// outbox is the commit point for emission; the relay delivers at least
// once, so consumers deduplicate.
type Message struct {
	ID        string
	Topic     string
	Key       []byte
	Value     []byte
	Status    Status
	CreatedAt time.Time
	SentAt    time.Time
}

type Store interface {
	Append(ctx context.Context, m *Message) error
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, ids []string) error
}

type MemoryStore struct {
	mu   sync.Mutex
	msgs []*Message
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Status = StatusPending
	m.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.msgs = append(s.msgs, &cp)
	return nil
}

func (s *MemoryStore) Pending(_ context.Context, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, limit)
	for _, m := range s.msgs {
		if m.Status != StatusPending {
			continue
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, ids []string) error {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if set[m.ID] && m.Status == StatusPending {
			m.Status = StatusSent
			m.SentAt = now
		}
	}
	return nil
}
