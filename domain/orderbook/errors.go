package orderbook

import "errors"

// Sentinel errors for the matching core's synchronous rejections (spec
// §7 "Input errors" / "State errors"). Account-level errors
// (InsufficientFunds, Unauthorized, RateLimited) belong to the gateway,
// which sees the ledger and the collaborator boundaries this package
// does not.
var (
	ErrWouldCross      = errors.New("orderbook: would cross (post-only)")
	ErrWouldNotFill    = errors.New("orderbook: fill-or-kill could not be fully satisfied")
	ErrUnknownOrder    = errors.New("orderbook: unknown order id")
	ErrAlreadyTerminal = errors.New("orderbook: order already in a terminal state")
	ErrInconsistent    = errors.New("orderbook: invariant violation")
)
