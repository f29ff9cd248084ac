package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newLedger(t *testing.T, variantID string, total int) *MemoryLedger {
	t.Helper()
	m := NewMemoryLedger()
	if err := m.SetStock(context.Background(), variantID, total); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	return m
}

func mustStock(t *testing.T, m *MemoryLedger, variantID string) Stock {
	t.Helper()
	s, err := m.Stock(context.Background(), variantID)
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	return s
}

func TestReserveConsumeAccounting(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 5)

	res, err := m.Reserve(ctx, "o-1", "v-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	s := mustStock(t, m, "v-1")
	if s.Held != 2 || s.Available() != 3 {
		t.Fatalf("after reserve: held=%d available=%d", s.Held, s.Available())
	}

	if err := m.Consume(ctx, res.ID); err != nil {
		t.Fatalf("consume: %v", err)
	}
	s = mustStock(t, m, "v-1")
	if s.Held != 0 || s.Consumed != 2 || s.Available() != 3 {
		t.Fatalf("after consume: %+v", s)
	}
	if s.Held+s.Consumed > s.Total {
		t.Fatalf("ledger invariant broken: %+v", s)
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 3)

	if _, err := m.Reserve(ctx, "o-1", "v-1", 10, time.Minute); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if _, err := m.Reserve(ctx, "o-1", "missing", 1, time.Minute); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("unknown variant err = %v, want ErrInsufficientStock", err)
	}
	s := mustStock(t, m, "v-1")
	if s.Held != 0 {
		t.Fatalf("failed reserve left held=%d", s.Held)
	}
}

func TestConsumeIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 5)
	res, err := m.Reserve(ctx, "o-1", "v-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Consume(ctx, res.ID); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := m.Consume(ctx, res.ID); err != nil {
		t.Fatalf("second consume should be a no-op, got %v", err)
	}
	s := mustStock(t, m, "v-1")
	if s.Consumed != 2 {
		t.Fatalf("double consume changed accounting: %+v", s)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 5)
	res, err := m.Reserve(ctx, "o-1", "v-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Release(ctx, res.ID); err != nil {
			t.Fatalf("release #%d: %v", i+1, err)
		}
	}
	if err := m.Release(ctx, "no-such-reservation"); err != nil {
		t.Fatalf("release of unknown reservation: %v", err)
	}
	s := mustStock(t, m, "v-1")
	if s.Held != 0 || s.Available() != 5 {
		t.Fatalf("after releases: %+v", s)
	}

	// releasing a consumed reservation is a no-op too
	res2, _ := m.Reserve(ctx, "o-2", "v-1", 1, time.Minute)
	_ = m.Consume(ctx, res2.ID)
	if err := m.Release(ctx, res2.ID); err != nil {
		t.Fatalf("release consumed: %v", err)
	}
	s = mustStock(t, m, "v-1")
	if s.Consumed != 1 {
		t.Fatalf("release undid a consume: %+v", s)
	}
}

func TestConsumeExpiredReservation(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 5)

	now := time.Now()
	m.SetNow(func() time.Time { return now })
	res, err := m.Reserve(ctx, "o-1", "v-1", 2, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	m.SetNow(func() time.Time { return now.Add(time.Second) })
	if err := m.Consume(ctx, res.ID); !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("err = %v, want ErrReservationExpired", err)
	}
	s := mustStock(t, m, "v-1")
	if s.Held != 0 || s.Available() != 5 {
		t.Fatalf("expired reservation still held: %+v", s)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 5)

	now := time.Now()
	m.SetNow(func() time.Time { return now })
	short, _ := m.Reserve(ctx, "o-1", "v-1", 1, 10*time.Millisecond)
	long, _ := m.Reserve(ctx, "o-2", "v-1", 1, time.Hour)

	n, err := m.SweepExpired(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	if err := m.Consume(ctx, short.ID); !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("consume swept reservation: err = %v, want ErrReservationExpired", err)
	}
	if err := m.Consume(ctx, long.ID); err != nil {
		t.Fatalf("consume live reservation: %v", err)
	}
}

func TestUnconsumeRestoresStock(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 5)

	res, err := m.Reserve(ctx, "o-1", "v-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Consume(ctx, res.ID); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := m.Unconsume(ctx, res.ID); err != nil {
		t.Fatalf("unconsume: %v", err)
	}
	s := mustStock(t, m, "v-1")
	if s.Held != 0 || s.Consumed != 0 || s.Available() != 5 {
		t.Fatalf("after unconsume: %+v", s)
	}

	// idempotent on a released reservation, and a no-op on unknown ids
	if err := m.Unconsume(ctx, res.ID); err != nil {
		t.Fatalf("second unconsume: %v", err)
	}
	if err := m.Unconsume(ctx, "no-such-reservation"); err != nil {
		t.Fatalf("unknown unconsume: %v", err)
	}
	s = mustStock(t, m, "v-1")
	if s.Consumed != 0 || s.Available() != 5 {
		t.Fatalf("idempotence broke accounting: %+v", s)
	}

	// a still-held reservation is simply released
	held, _ := m.Reserve(ctx, "o-2", "v-1", 1, time.Minute)
	if err := m.Unconsume(ctx, held.ID); err != nil {
		t.Fatalf("unconsume held: %v", err)
	}
	s = mustStock(t, m, "v-1")
	if s.Held != 0 || s.Available() != 5 {
		t.Fatalf("after unconsume of held: %+v", s)
	}
}

func TestConsumeUnknownReservation(t *testing.T) {
	m := newLedger(t, "v-1", 5)
	if err := m.Consume(context.Background(), "nope"); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("err = %v, want ErrReservationNotFound", err)
	}
}

func TestConcurrentReserveLastUnit(t *testing.T) {
	ctx := context.Background()
	m := newLedger(t, "v-1", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Reserve(ctx, "o", "v-1", 1, time.Minute)
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("ok=%d insufficient=%d, want exactly one of each", ok, insufficient)
	}
	s := mustStock(t, m, "v-1")
	if s.Held != 1 || s.Held+s.Consumed > s.Total {
		t.Fatalf("accounting after race: %+v", s)
	}
}

func TestConcurrentReserveManyVariants(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()
	for _, v := range []string{"a", "b", "c"} {
		if err := m.SetStock(ctx, v, 100); err != nil {
			t.Fatalf("set stock: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			variant := []string{"a", "b", "c"}[i%3]
			if _, err := m.Reserve(ctx, "o", variant, 1, time.Minute); err != nil {
				t.Errorf("reserve %s: %v", variant, err)
			}
		}(i)
	}
	wg.Wait()

	for _, v := range []string{"a", "b", "c"} {
		s := mustStock(t, m, v)
		if s.Held != 10 {
			t.Fatalf("variant %s held=%d, want 10", v, s.Held)
		}
	}
}
