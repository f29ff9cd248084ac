package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-pipeline/internal/cart"
	"github.com/ariefcatur/go-checkout-pipeline/internal/event"
	"github.com/ariefcatur/go-checkout-pipeline/internal/inventory"
	"github.com/ariefcatur/go-checkout-pipeline/internal/metrics"
	"github.com/ariefcatur/go-checkout-pipeline/internal/order"
	"github.com/ariefcatur/go-checkout-pipeline/internal/outbox"
	"github.com/ariefcatur/go-checkout-pipeline/internal/payment"
)

var ErrValidation = errors.New("invalid checkout input")

// Coordinator runs the cart-to-order pipeline: create order, reserve
// stock, authorize and capture payment, consume reservations, emit the
// order-placed event. Every failure after a side effect compensates
// exactly the steps that succeeded in the same run before the error is
// surfaced.
type Coordinator struct {
	Orders         order.Store
	Ledger         inventory.Ledger
	Payments       *payment.Orchestrator
	Outbox         outbox.Store
	ReservationTTL time.Duration
	Service        string
	Log            *zap.Logger
	Metrics        *metrics.Pipeline

	now func() time.Time
}

func (c *Coordinator) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func validate(snap cart.Snapshot, customerRef, method string) error {
	if customerRef == "" {
		return fmt.Errorf("%w: missing customer_ref", ErrValidation)
	}
	if snap.CustomerRef != "" && snap.CustomerRef != customerRef {
		return fmt.Errorf("%w: cart belongs to another customer", ErrValidation)
	}
	if method == "" {
		return fmt.Errorf("%w: missing payment_method", ErrValidation)
	}
	if len(snap.Lines) == 0 {
		return fmt.Errorf("%w: empty cart", ErrValidation)
	}
	if snap.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrValidation)
	}
	for _, l := range snap.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: non-positive quantity for %s", ErrValidation, l.VariantID)
		}
		if l.UnitPriceCents < 0 {
			return fmt.Errorf("%w: negative price for %s", ErrValidation, l.VariantID)
		}
	}
	return nil
}

// Submit is the sole checkout entry point. Cancellation through ctx is
// honored only before stock is reserved; once reservation starts the
// run drives the order to a terminal state regardless of the caller.
func (c *Coordinator) Submit(ctx context.Context, snap cart.Snapshot, customerRef, method string) (*order.Order, error) {
	start := c.clock()
	o, err := c.submit(ctx, snap, customerRef, method)
	result := "confirmed"
	if err != nil {
		result = resultLabel(err)
	}
	c.Metrics.CheckoutResult(result, c.clock().Sub(start))
	return o, err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, payment.ErrDeclined):
		return "payment_declined"
	case errors.Is(err, payment.ErrCaptureFailed):
		return "capture_failed"
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, inventory.ErrReservationExpired):
		return "reservation_expired"
	default:
		return "error"
	}
}

func (c *Coordinator) submit(ctx context.Context, snap cart.Snapshot, customerRef, method string) (*order.Order, error) {
	if err := validate(snap, customerRef, method); err != nil {
		return nil, err
	}

	o := &order.Order{
		ID:          uuid.NewString(),
		CustomerRef: customerRef,
		Currency:    snap.Currency,
		State:       order.StateCreated,
	}
	for _, l := range snap.Lines {
		o.Lines = append(o.Lines, order.Line{
			VariantID:      l.VariantID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			LineTotalCents: l.LineTotalCents,
		})
		o.TotalCents += l.LineTotalCents
	}
	if err := c.Orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	log := c.Log.With(zap.String("order_id", o.ID), zap.String("customer_ref", customerRef))

	// Last point where the caller may abort. After this the run owns
	// the order through to a terminal state: compensation must finish
	// even if the caller goes away, hence bg below.
	if err := ctx.Err(); err != nil {
		_, terr := c.Orders.Transition(context.WithoutCancel(ctx), o.ID, order.StateCancelled, "cancelled by caller")
		if terr != nil {
			log.Error("cancel transition failed", zap.Error(terr))
		}
		return nil, err
	}
	bg := context.WithoutCancel(ctx)

	reserved := make([]*inventory.Reservation, 0, len(o.Lines))
	for _, l := range o.Lines {
		res, err := c.Ledger.Reserve(bg, o.ID, l.VariantID, l.Quantity, c.ReservationTTL)
		if err != nil {
			log.Info("reservation failed", zap.String("variant_id", l.VariantID), zap.Error(err))
			c.transition(bg, log, o.ID, order.StateStockUnavailable, fmt.Sprintf("variant %s unavailable", l.VariantID))
			c.releaseAll(bg, log, reserved)
			return nil, fmt.Errorf("reserve variant %s: %w", l.VariantID, err)
		}
		reserved = append(reserved, res)
	}
	if _, err := c.Orders.Transition(bg, o.ID, order.StateStockReserved, "stock reserved for all lines"); err != nil {
		c.releaseAll(bg, log, reserved)
		return nil, err
	}

	// Payment I/O happens with no inventory lock held; the ledger calls
	// above are self-contained.
	key := idempotencyKey(o.ID)
	intent, err := c.Payments.Authorize(bg, o.ID, o.TotalCents, o.Currency, method, key)
	if err != nil {
		log.Info("authorization failed", zap.Error(err))
		reason := "payment gateway unavailable"
		if errors.Is(err, payment.ErrDeclined) {
			reason = "payment declined"
		}
		c.transition(bg, log, o.ID, order.StateReversing, reason)
		c.releaseAll(bg, log, reserved)
		c.transition(bg, log, o.ID, order.StateReversed, "compensation complete")
		return nil, fmt.Errorf("authorize order %s: %w", o.ID, err)
	}
	if _, err := c.Orders.Transition(bg, o.ID, order.StatePaymentAuthorized, "payment authorized"); err != nil {
		c.voidIntent(bg, log, intent.ID)
		c.releaseAll(bg, log, reserved)
		return nil, err
	}

	if err := c.Payments.Capture(bg, intent.ID); err != nil {
		log.Warn("capture failed", zap.String("intent_id", intent.ID), zap.Error(err))
		c.transition(bg, log, o.ID, order.StateReversing, "capture failed")
		c.voidIntent(bg, log, intent.ID)
		c.releaseAll(bg, log, reserved)
		c.transition(bg, log, o.ID, order.StateReversed, "compensation complete")
		return nil, fmt.Errorf("capture order %s: %w", o.ID, err)
	}

	for _, res := range reserved {
		if err := c.Ledger.Consume(bg, res.ID); err != nil {
			// Stock the customer paid for is gone: always logged, then
			// the captured payment is refunded and every line of this
			// run unwound, including the ones already consumed.
			log.Error("reservation lost before consume",
				zap.String("reservation_id", res.ID), zap.Error(err))
			c.transition(bg, log, o.ID, order.StateReversing, "reservation expired before consume")
			c.refundIntent(bg, log, intent.ID, o.TotalCents)
			c.unconsumeAll(bg, log, reserved)
			c.transition(bg, log, o.ID, order.StateReversed, "compensation complete")
			return nil, fmt.Errorf("consume reservation %s: %w", res.ID, err)
		}
	}

	final, err := c.Orders.Transition(bg, o.ID, order.StateConfirmed, "capture succeeded")
	if err != nil {
		return nil, err
	}
	c.emitOrderPlaced(bg, log, final)
	log.Info("checkout confirmed", zap.Int64("total_cents", final.TotalCents))
	return final, nil
}

// idempotencyKey derives the authorize key from the order id: one order
// settles at most one charge, however many times the pipeline retries.
func idempotencyKey(orderID string) string {
	return "checkout-" + orderID
}

func (c *Coordinator) transition(ctx context.Context, log *zap.Logger, orderID string, to order.State, ev string) {
	if _, err := c.Orders.Transition(ctx, orderID, to, ev); err != nil {
		log.Error("transition failed", zap.String("to", string(to)), zap.Error(err))
	}
}

func (c *Coordinator) releaseAll(ctx context.Context, log *zap.Logger, reserved []*inventory.Reservation) {
	for _, res := range reserved {
		if err := c.Ledger.Release(ctx, res.ID); err != nil {
			log.Error("release failed", zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}
}

// unconsumeAll undoes this run's Consume calls and releases whatever is
// still held, so a reversed order never keeps units recorded as sold.
func (c *Coordinator) unconsumeAll(ctx context.Context, log *zap.Logger, reserved []*inventory.Reservation) {
	for _, res := range reserved {
		if err := c.Ledger.Unconsume(ctx, res.ID); err != nil {
			log.Error("unconsume failed", zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}
}

func (c *Coordinator) voidIntent(ctx context.Context, log *zap.Logger, intentID string) {
	if err := c.Payments.Void(ctx, intentID); err != nil {
		log.Error("void failed", zap.String("intent_id", intentID), zap.Error(err))
	}
}

func (c *Coordinator) refundIntent(ctx context.Context, log *zap.Logger, intentID string, amountCents int64) {
	if err := c.Payments.Refund(ctx, intentID, amountCents); err != nil {
		log.Error("refund failed", zap.String("intent_id", intentID), zap.Error(err))
	}
}

func (c *Coordinator) emitOrderPlaced(ctx context.Context, log *zap.Logger, o *order.Order) {
	env := event.Envelope{
		EventID:       uuid.NewString(),
		EventType:     event.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    c.clock().UTC(),
		Producer:      c.Service,
		CorrelationID: o.ID,
		Payload: event.MustMarshal(event.OrderPlacedPayload{
			OrderID:     o.ID,
			CustomerRef: o.CustomerRef,
			TotalCents:  o.TotalCents,
			Currency:    o.Currency,
			Lines:       o.Lines,
		}),
	}
	msg := &outbox.Message{
		Topic: event.TopicOrderPlaced,
		Key:   event.PartitionKey(o.ID),
		Value: event.MustMarshal(env),
	}
	if err := c.Outbox.Append(ctx, msg); err != nil {
		log.Error("outbox append failed", zap.Error(err))
	}
}
