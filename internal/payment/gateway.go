package payment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gateway is the narrow boundary to the external payment capability.
// Implementations return their own raw status strings; the orchestrator
// normalizes them into the closed IntentStatus set. Transport failures
// and timeouts come back as errors with the outcome unknown — the
// caller reconciles via Status before retrying.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Result, error)
	Capture(ctx context.Context, ref string) (Result, error)
	Void(ctx context.Context, ref string) (Result, error)
	Refund(ctx context.Context, ref string, amountCents int64) (Result, error)

	// Status looks up the gateway-side state by idempotency key, for
	// reconciling an authorize whose outcome was lost in transit.
	Status(ctx context.Context, idempotencyKey string) (Result, error)
}

type AuthorizeRequest struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Method         string
}

// Result carries the gateway's charge reference and raw status string.
type Result struct {
	Ref    string
	Status string
}

// Raw statuses the simulated gateway speaks. Real gateways have wider
// vocabularies; anything the orchestrator does not recognize is treated
// as unknown.
const (
	gwAuthorized = "authorized"
	gwCaptured   = "captured"
	gwDeclined   = "declined"
	gwVoided     = "voided"
	gwRefunded   = "refunded"
)

// SimGateway stands in for the external provider. It is idempotent by
// key on authorize and declines either by failure rate or for the
// "card-declined" test method.
type SimGateway struct {
	FailureRate float64
	Latency     time.Duration

	mu      sync.Mutex
	byKey   map[string]Result
	byRef   map[string]*simCharge
	rng     *rand.Rand
	rngOnce sync.Once
}

type simCharge struct {
	key    string
	status string
	amount int64
}

func NewSimGateway(failureRate float64, latency time.Duration) *SimGateway {
	return &SimGateway{
		FailureRate: failureRate,
		Latency:     latency,
		byKey:       map[string]Result{},
		byRef:       map[string]*simCharge{},
	}
}

func (g *SimGateway) sleep(ctx context.Context) error {
	if g.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.Latency):
		return nil
	}
}

func (g *SimGateway) roll() float64 {
	g.rngOnce.Do(func() { g.rng = rand.New(rand.NewSource(time.Now().UnixNano())) })
	return g.rng.Float64()
}

func (g *SimGateway) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	if err := g.sleep(ctx); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.byKey[req.IdempotencyKey]; ok {
		return r, nil
	}

	r := Result{Status: gwDeclined}
	if req.Method != "card-declined" && g.roll() >= g.FailureRate {
		ref := uuid.NewString()
		g.byRef[ref] = &simCharge{key: req.IdempotencyKey, status: gwAuthorized, amount: req.AmountCents}
		r = Result{Ref: ref, Status: gwAuthorized}
	}
	g.byKey[req.IdempotencyKey] = r
	return r, nil
}

func (g *SimGateway) Capture(ctx context.Context, ref string) (Result, error) {
	if err := g.sleep(ctx); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.byRef[ref]
	if !ok {
		return Result{}, ErrGatewayUnavailable
	}
	if c.status == gwAuthorized || c.status == gwCaptured {
		c.status = gwCaptured
		g.byKey[c.key] = Result{Ref: ref, Status: gwCaptured}
		return Result{Ref: ref, Status: gwCaptured}, nil
	}
	return Result{Ref: ref, Status: c.status}, nil
}

func (g *SimGateway) Void(ctx context.Context, ref string) (Result, error) {
	if err := g.sleep(ctx); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.byRef[ref]
	if !ok {
		return Result{}, ErrGatewayUnavailable
	}
	if c.status == gwAuthorized || c.status == gwVoided {
		c.status = gwVoided
		g.byKey[c.key] = Result{Ref: ref, Status: gwVoided}
	}
	return Result{Ref: ref, Status: c.status}, nil
}

func (g *SimGateway) Refund(ctx context.Context, ref string, _ int64) (Result, error) {
	if err := g.sleep(ctx); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.byRef[ref]
	if !ok {
		return Result{}, ErrGatewayUnavailable
	}
	if c.status == gwCaptured || c.status == gwRefunded {
		c.status = gwRefunded
		g.byKey[c.key] = Result{Ref: ref, Status: gwRefunded}
	}
	return Result{Ref: ref, Status: c.status}, nil
}

func (g *SimGateway) Status(ctx context.Context, key string) (Result, error) {
	if err := g.sleep(ctx); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.byKey[key]
	if !ok {
		return Result{}, ErrGatewayUnavailable
	}
	return r, nil
}
