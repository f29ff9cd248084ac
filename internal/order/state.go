package order

// State is the order's position in the checkout pipeline. Orders move
// forward through validNext only; terminal states never change again.
type State string

const (
	StateCreated           State = "CREATED"
	StateStockReserved     State = "STOCK_RESERVED"
	StatePaymentAuthorized State = "PAYMENT_AUTHORIZED"
	StateConfirmed         State = "CONFIRMED"
	StateStockUnavailable  State = "STOCK_UNAVAILABLE"
	StatePaymentFailed     State = "PAYMENT_FAILED"
	StateCancelled         State = "CANCELLED"
	StateReversing         State = "REVERSING"
	StateReversed          State = "REVERSED"
)

var validNext = map[State]map[State]bool{
	StateCreated:           {StateStockReserved: true, StateStockUnavailable: true, StateCancelled: true},
	StateStockReserved:     {StatePaymentAuthorized: true, StateReversing: true},
	StatePaymentAuthorized: {StateConfirmed: true, StateReversing: true},
	StateReversing:         {StateReversed: true},
	StateConfirmed:         {},
	StateStockUnavailable:  {},
	StatePaymentFailed:     {},
	StateCancelled:         {},
	StateReversed:          {},
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

func (s State) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}
