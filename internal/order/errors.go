package order

import "errors"

var (
	// ErrInvalidIntent rejects an intent with a bad side, quantity or price.
	ErrInvalidIntent = errors.New("invalid trade intent")
	// ErrInsufficientPosition rejects a sell larger than the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrGatewayUnavailable means a live portfolio traded with no gateway.
	ErrGatewayUnavailable = errors.New("exchange gateway unavailable")
	// ErrOrderRejected wraps a gateway refusal.
	ErrOrderRejected = errors.New("order rejected by exchange")
)
