package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-pipeline/internal/metrics"
)

type orderExpirer interface {
	ExpireCreated(ctx context.Context, before time.Time) (int, error)
}

// Sweeper frees stock held by abandoned checkouts: expired reservations
// go back to available, and orders stuck in CREATED past their max age
// are cancelled for later retry by the customer.
type Sweeper struct {
	Ledger        Ledger
	Orders        orderExpirer
	Interval      time.Duration
	CreatedMaxAge time.Duration
	Log           *zap.Logger
	Metrics       *metrics.Pipeline
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			s.sweep(ctx, now.UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	released, err := s.Ledger.SweepExpired(ctx, now)
	if err != nil {
		s.Log.Warn("reservation sweep failed", zap.Error(err))
	} else if released > 0 {
		s.Metrics.ReservationsSwept(released)
		s.Log.Info("released expired reservations", zap.Int("count", released))
	}

	if s.Orders == nil {
		return
	}
	cancelled, err := s.Orders.ExpireCreated(ctx, now.Add(-s.CreatedMaxAge))
	if err != nil {
		s.Log.Warn("order expiry sweep failed", zap.Error(err))
	} else if cancelled > 0 {
		s.Log.Info("cancelled stale created orders", zap.Int("count", cancelled))
	}
}
