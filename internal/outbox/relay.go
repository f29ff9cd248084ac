package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-pipeline/internal/metrics"
)

// Publisher is what the relay needs from the Kafka producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Relay drains pending outbox rows to the producer. Rows are marked
// sent only after they were handed off, so a crash between publish and
// mark re-sends the message: at-least-once, consumers deduplicate by
// order_id.
type Relay struct {
	Store    Store
	Producer Publisher
	Interval time.Duration
	Batch    int
	Log      *zap.Logger
	Metrics  *metrics.Pipeline
}

func (r *Relay) batch() int {
	if r.Batch <= 0 {
		return 100
	}
	return r.Batch
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.drain(ctx); err != nil {
				r.Log.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	op := func() error {
		msgs, err := r.Store.Pending(ctx, r.batch())
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			r.Producer.Publish(m.Key, m.Value)
			ids = append(ids, m.ID)
		}
		if err := r.Store.MarkSent(ctx, ids); err != nil {
			return err
		}
		r.Metrics.OutboxPublished(len(ids))
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}
