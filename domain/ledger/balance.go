package ledger

import "errors"

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient available balance")
	ErrNegativeAmount    = errors.New("ledger: amount must be positive")

	// ErrInconsistent marks an internal invariant violation — a bug in
	// the matching core, never a user error. The caller is expected to
	// halt whatever task produced it rather than retry.
	ErrInconsistent = errors.New("ledger: reserved underflow")
)

// Balance is a single (user, asset) account. Available is spendable;
// Reserved is held against open orders and only moves on release or
// settle, never directly by the user.
type Balance struct {
	Available int64
	Reserved  int64
}

// Total is what the user would see as their balance ignoring open
// orders — the conservation invariant is stated in terms of this sum.
func (b Balance) Total() int64 { return b.Available + b.Reserved }

type key struct {
	User  uint64
	Asset string
}
