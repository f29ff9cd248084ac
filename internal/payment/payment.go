package payment

import (
	"errors"
	"time"
)

var (
	ErrDeclined            = errors.New("payment declined")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrCaptureFailed       = errors.New("payment capture failed")
	ErrRefundFailed        = errors.New("payment refund failed")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different amount")
	ErrIntentNotFound      = errors.New("payment intent not found")
	ErrInvalidIntentState  = errors.New("payment intent in wrong state")
)

type IntentStatus string

const (
	StatusPending    IntentStatus = "PENDING"
	StatusAuthorized IntentStatus = "AUTHORIZED"
	StatusCaptured   IntentStatus = "CAPTURED"
	StatusVoided     IntentStatus = "VOIDED"
	StatusFailed     IntentStatus = "FAILED"
	StatusRefunded   IntentStatus = "REFUNDED"
)

func (s IntentStatus) Terminal() bool {
	switch s {
	case StatusVoided, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Intent is the durable record of one authorize/capture/void/refund
// lifecycle for one order's payment.
type Intent struct {
	ID             string
	OrderID        string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Status         IntentStatus
	GatewayRef     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
