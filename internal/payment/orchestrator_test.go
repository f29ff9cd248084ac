package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubGateway scripts gateway behavior per test: decline, fail capture,
// or drop the first N authorize calls on the floor (outcome unknown).
type stubGateway struct {
	mu            sync.Mutex
	decline       bool
	failCapture   bool
	dropAuth      int // authorize transport errors before succeeding
	authorized    bool
	captured      bool
	authCalls     int
	chargeCreated bool // the dropped call still landed gateway-side
}

func (g *stubGateway) Authorize(_ context.Context, req AuthorizeRequest) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authCalls++
	if g.dropAuth > 0 {
		g.dropAuth--
		if g.chargeCreated {
			// the charge landed even though the response was lost
			g.authorized = true
		}
		return Result{}, errors.New("connection reset")
	}
	if g.decline {
		return Result{Status: "declined"}, nil
	}
	if g.authorized {
		return Result{Ref: "ref-1", Status: "authorized"}, nil
	}
	g.authorized = true
	return Result{Ref: "ref-1", Status: "authorized"}, nil
}

func (g *stubGateway) Capture(_ context.Context, ref string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCapture {
		return Result{Ref: ref, Status: "declined"}, nil
	}
	g.captured = true
	return Result{Ref: ref, Status: "captured"}, nil
}

func (g *stubGateway) Void(_ context.Context, ref string) (Result, error) {
	return Result{Ref: ref, Status: "voided"}, nil
}

func (g *stubGateway) Refund(_ context.Context, ref string, _ int64) (Result, error) {
	return Result{Ref: ref, Status: "refunded"}, nil
}

func (g *stubGateway) Status(_ context.Context, _ string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.captured:
		return Result{Ref: "ref-1", Status: "captured"}, nil
	case g.authorized:
		return Result{Ref: "ref-1", Status: "authorized"}, nil
	}
	return Result{}, ErrGatewayUnavailable
}

func newOrchestrator(g Gateway) *Orchestrator {
	return &Orchestrator{
		Gateway:        g,
		Store:          NewMemoryIntentStore(),
		Attempts:       3,
		AttemptTimeout: time.Second,
		Log:            zap.NewNop(),
	}
}

func TestAuthorizeHappyPath(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{})

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if in.Status != StatusAuthorized || in.GatewayRef == "" {
		t.Fatalf("intent = %+v", in)
	}
}

func TestAuthorizeIdempotentSameKey(t *testing.T) {
	ctx := context.Background()
	g := &stubGateway{}
	o := newOrchestrator(g)

	first, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	second, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("two intents for one key: %s vs %s", first.ID, second.ID)
	}
	if g.authCalls != 1 {
		t.Fatalf("gateway charged %d times, want 1", g.authCalls)
	}
}

func TestAuthorizeIdempotencyConflict(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{})

	if _, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := o.Authorize(ctx, "o-1", 999, "USD", "card", "key-1"); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
	}
}

func TestAuthorizeDeclined(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{decline: true})

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("err = %v, want ErrDeclined", err)
	}
	if in == nil || in.Status != StatusFailed {
		t.Fatalf("declined intent not marked FAILED: %+v", in)
	}
}

func TestAuthorizeRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	g := &stubGateway{dropAuth: 2}
	o := newOrchestrator(g)

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize after retries: %v", err)
	}
	if in.Status != StatusAuthorized {
		t.Fatalf("status = %s, want AUTHORIZED", in.Status)
	}
}

func TestAuthorizeReconcilesLostOutcome(t *testing.T) {
	// The first call times out but the charge landed gateway-side. The
	// orchestrator must adopt it via Status, not charge again.
	ctx := context.Background()
	g := &stubGateway{dropAuth: 1, chargeCreated: true}
	o := newOrchestrator(g)

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if in.Status != StatusAuthorized {
		t.Fatalf("status = %s, want AUTHORIZED", in.Status)
	}
	if g.authCalls != 1 {
		t.Fatalf("gateway authorize called %d times, want 1 (reconciled, not retried)", g.authCalls)
	}
}

func TestAuthorizeExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{dropAuth: 100})
	o.AttemptTimeout = 50 * time.Millisecond

	if _, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestCaptureLifecycle(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{})

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := o.Capture(ctx, in.ID); err != nil {
		t.Fatalf("capture: %v", err)
	}
	got, _ := o.Store.Get(ctx, in.ID)
	if got.Status != StatusCaptured {
		t.Fatalf("status = %s, want CAPTURED", got.Status)
	}
	// capture is idempotent
	if err := o.Capture(ctx, in.ID); err != nil {
		t.Fatalf("second capture: %v", err)
	}
}

func TestCaptureFails(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{failCapture: true})

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := o.Capture(ctx, in.ID); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("err = %v, want ErrCaptureFailed", err)
	}
	// the intent stays AUTHORIZED so it can still be voided
	got, _ := o.Store.Get(ctx, in.ID)
	if got.Status != StatusAuthorized {
		t.Fatalf("status after failed capture = %s, want AUTHORIZED", got.Status)
	}
	if err := o.Void(ctx, in.ID); err != nil {
		t.Fatalf("void: %v", err)
	}
	got, _ = o.Store.Get(ctx, in.ID)
	if got.Status != StatusVoided {
		t.Fatalf("status = %s, want VOIDED", got.Status)
	}
}

func TestVoidIdempotent(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{})

	in, err := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := o.Void(ctx, in.ID); err != nil {
		t.Fatalf("void: %v", err)
	}
	if err := o.Void(ctx, in.ID); err != nil {
		t.Fatalf("second void: %v", err)
	}
}

func TestVoidCapturedRejected(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{})

	in, _ := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err := o.Capture(ctx, in.ID); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := o.Void(ctx, in.ID); !errors.Is(err, ErrInvalidIntentState) {
		t.Fatalf("err = %v, want ErrInvalidIntentState", err)
	}
}

func TestRefundOnlyFromCaptured(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(&stubGateway{})

	in, _ := o.Authorize(ctx, "o-1", 500, "USD", "card", "key-1")
	if err := o.Refund(ctx, in.ID, 500); !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("refund before capture: err = %v, want ErrRefundFailed", err)
	}
	if err := o.Capture(ctx, in.ID); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := o.Refund(ctx, in.ID, 500); err != nil {
		t.Fatalf("refund: %v", err)
	}
	got, _ := o.Store.Get(ctx, in.ID)
	if got.Status != StatusRefunded {
		t.Fatalf("status = %s, want REFUNDED", got.Status)
	}
}

func TestSimGatewayIdempotentByKey(t *testing.T) {
	ctx := context.Background()
	g := NewSimGateway(0, 0)
	req := AuthorizeRequest{AmountCents: 100, Currency: "USD", IdempotencyKey: "k", Method: "card"}

	r1, err := g.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	r2, err := g.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("authorize again: %v", err)
	}
	if r1.Ref != r2.Ref {
		t.Fatalf("same key produced two charges: %s vs %s", r1.Ref, r2.Ref)
	}
}

func TestSimGatewayDeclineMethod(t *testing.T) {
	ctx := context.Background()
	g := NewSimGateway(0, 0)
	r, err := g.Authorize(ctx, AuthorizeRequest{AmountCents: 100, Currency: "USD", IdempotencyKey: "k", Method: "card-declined"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if r.Status != "declined" {
		t.Fatalf("status = %s, want declined", r.Status)
	}
}
