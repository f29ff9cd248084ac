package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-pipeline/internal/metrics"
)

// Orchestrator drives the authorize/capture/void/refund lifecycle
// against the external gateway. Transient failures are retried with
// exponential backoff up to Attempts; when an authorize outcome is lost
// in transit the orchestrator reconciles through Status with the same
// idempotency key instead of charging again.
type Orchestrator struct {
	Gateway        Gateway
	Store          IntentStore
	Attempts       int
	AttemptTimeout time.Duration
	Log            *zap.Logger
	Metrics        *metrics.Pipeline
}

func (o *Orchestrator) attempts() int {
	if o.Attempts <= 0 {
		return 3
	}
	return o.Attempts
}

func (o *Orchestrator) attemptTimeout() time.Duration {
	if o.AttemptTimeout <= 0 {
		return 5 * time.Second
	}
	return o.AttemptTimeout
}

func (o *Orchestrator) retryPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.attempts()-1)), ctx)
}

func (o *Orchestrator) Authorize(ctx context.Context, orderID string, amountCents int64, currency, method, key string) (*Intent, error) {
	in, err := o.Store.GetByKey(ctx, key)
	switch {
	case err == nil:
		if in.AmountCents != amountCents || in.Currency != currency {
			return nil, fmt.Errorf("%w: key %s", ErrIdempotencyConflict, key)
		}
		switch in.Status {
		case StatusAuthorized, StatusCaptured:
			return in, nil
		case StatusFailed:
			return in, ErrDeclined
		case StatusVoided, StatusRefunded:
			return nil, fmt.Errorf("%w: intent %s is %s", ErrInvalidIntentState, in.ID, in.Status)
		}
		// PENDING from an earlier interrupted run: drive it forward
		// with the same key.
	case errors.Is(err, ErrIntentNotFound):
		in = &Intent{
			ID:             uuid.NewString(),
			OrderID:        orderID,
			AmountCents:    amountCents,
			Currency:       currency,
			IdempotencyKey: key,
			Status:         StatusPending,
		}
		if err := o.Store.Create(ctx, in); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	req := AuthorizeRequest{AmountCents: amountCents, Currency: currency, IdempotencyKey: key, Method: method}
	var res Result
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, o.attemptTimeout())
		defer cancel()
		r, gerr := o.Gateway.Authorize(actx, req)
		if gerr != nil {
			o.Metrics.GatewayCall("authorize", "error")
			// Outcome unknown. Reconcile by key before the next attempt
			// so a charge that did land is adopted, not duplicated.
			sctx, scancel := context.WithTimeout(ctx, o.attemptTimeout())
			defer scancel()
			if sr, serr := o.Gateway.Status(sctx, key); serr == nil {
				res = sr
				return nil
			}
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
		}
		res = r
		return nil
	}
	if err := backoff.Retry(op, o.retryPolicy(ctx)); err != nil {
		o.Log.Warn("authorize attempts exhausted",
			zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("authorize order %s: %w", orderID, ErrGatewayUnavailable)
	}

	switch res.Status {
	case gwAuthorized:
		o.Metrics.GatewayCall("authorize", "authorized")
		if err := o.Store.SetStatus(ctx, in.ID, StatusAuthorized, res.Ref); err != nil {
			return nil, err
		}
		in.Status, in.GatewayRef = StatusAuthorized, res.Ref
		return in, nil
	case gwCaptured:
		// Reconciliation found the charge already captured by a prior run.
		o.Metrics.GatewayCall("authorize", "captured")
		if err := o.Store.SetStatus(ctx, in.ID, StatusCaptured, res.Ref); err != nil {
			return nil, err
		}
		in.Status, in.GatewayRef = StatusCaptured, res.Ref
		return in, nil
	case gwDeclined:
		o.Metrics.GatewayCall("authorize", "declined")
		if err := o.Store.SetStatus(ctx, in.ID, StatusFailed, res.Ref); err != nil {
			return nil, err
		}
		in.Status = StatusFailed
		return in, fmt.Errorf("authorize order %s: %w", orderID, ErrDeclined)
	default:
		// Unknown gateway vocabulary: never assume an outcome. The
		// intent stays PENDING for the reconciliation sweep.
		o.Metrics.GatewayCall("authorize", "unknown")
		o.Log.Warn("unknown gateway status on authorize",
			zap.String("order_id", orderID), zap.String("status", res.Status))
		return nil, fmt.Errorf("authorize order %s: %w", orderID, ErrGatewayUnavailable)
	}
}

func (o *Orchestrator) Capture(ctx context.Context, intentID string) error {
	in, err := o.Store.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if in.Status == StatusCaptured {
		return nil
	}
	if in.Status != StatusAuthorized {
		return fmt.Errorf("%w: capture from %s", ErrInvalidIntentState, in.Status)
	}

	var res Result
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, o.attemptTimeout())
		defer cancel()
		r, gerr := o.Gateway.Capture(actx, in.GatewayRef)
		if gerr != nil {
			o.Metrics.GatewayCall("capture", "error")
			sctx, scancel := context.WithTimeout(ctx, o.attemptTimeout())
			defer scancel()
			if sr, serr := o.Gateway.Status(sctx, in.IdempotencyKey); serr == nil && sr.Status == gwCaptured {
				res = sr
				return nil
			}
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
		}
		res = r
		return nil
	}
	if err := backoff.Retry(op, o.retryPolicy(ctx)); err != nil {
		o.Log.Warn("capture attempts exhausted",
			zap.String("intent_id", intentID), zap.Error(err))
		return fmt.Errorf("capture intent %s: %w", intentID, ErrCaptureFailed)
	}

	if res.Status != gwCaptured {
		o.Metrics.GatewayCall("capture", "failed")
		return fmt.Errorf("capture intent %s (gateway status %s): %w", intentID, res.Status, ErrCaptureFailed)
	}
	o.Metrics.GatewayCall("capture", "captured")
	return o.Store.SetStatus(ctx, intentID, StatusCaptured, res.Ref)
}

func (o *Orchestrator) Void(ctx context.Context, intentID string) error {
	in, err := o.Store.Get(ctx, intentID)
	if err != nil {
		return err
	}
	switch in.Status {
	case StatusVoided, StatusFailed:
		return nil
	case StatusCaptured, StatusRefunded:
		return fmt.Errorf("%w: void from %s", ErrInvalidIntentState, in.Status)
	}
	if in.GatewayRef == "" {
		// Never reached the gateway: nothing to void remotely.
		return o.Store.SetStatus(ctx, intentID, StatusVoided, "")
	}

	op := func() error {
		actx, cancel := context.WithTimeout(ctx, o.attemptTimeout())
		defer cancel()
		if _, gerr := o.Gateway.Void(actx, in.GatewayRef); gerr != nil {
			o.Metrics.GatewayCall("void", "error")
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
		}
		return nil
	}
	if err := backoff.Retry(op, o.retryPolicy(ctx)); err != nil {
		o.Log.Error("void attempts exhausted, authorization left dangling",
			zap.String("intent_id", intentID), zap.Error(err))
		return err
	}
	o.Metrics.GatewayCall("void", "voided")
	return o.Store.SetStatus(ctx, intentID, StatusVoided, "")
}

func (o *Orchestrator) Refund(ctx context.Context, intentID string, amountCents int64) error {
	in, err := o.Store.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if in.Status == StatusRefunded {
		return nil
	}
	if in.Status != StatusCaptured {
		return fmt.Errorf("%w: refund from %s", ErrRefundFailed, in.Status)
	}

	var res Result
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, o.attemptTimeout())
		defer cancel()
		r, gerr := o.Gateway.Refund(actx, in.GatewayRef, amountCents)
		if gerr != nil {
			o.Metrics.GatewayCall("refund", "error")
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
		}
		res = r
		return nil
	}
	if err := backoff.Retry(op, o.retryPolicy(ctx)); err != nil {
		return fmt.Errorf("refund intent %s: %w", intentID, ErrRefundFailed)
	}
	if res.Status != gwRefunded {
		return fmt.Errorf("refund intent %s (gateway status %s): %w", intentID, res.Status, ErrRefundFailed)
	}
	o.Metrics.GatewayCall("refund", "refunded")
	return o.Store.SetStatus(ctx, intentID, StatusRefunded, "")
}
