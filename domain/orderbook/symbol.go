package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Symbol describes a tradeable base/quote pair and the fixed-point
// granularity matching and settlement must respect.
type Symbol struct {
	Base  string
	Quote string

	// PriceTick and QtyStep are the smallest representable increments,
	// expressed in the same integer units Price/Qty are stored in.
	PriceTick int64
	QtyStep   int64

	// PriceTickSize and QtyStepSize are PriceTick/QtyStep expressed as
	// real-world decimals (e.g. "0.01", "0.0001") — the wire-level size
	// of one internal unit. Gateway.decimalToFixed divides an incoming
	// decimal string by these to land in the tick-scaled int64 space
	// PriceTick/QtyStep then validate. A zero value means one internal
	// unit equals a whole "1", i.e. the wire value must already be an
	// integer — the degenerate case most tests use.
	PriceTickSize decimal.Decimal
	QtyStepSize   decimal.Decimal

	// MakerFeeRate/TakerFeeRate are in basis points of notional
	// (1 = 0.01%). Fees are floored to the nearest tick (see
	// domain/ledger.Fee).
	MakerFeeRateBps int64
	TakerFeeRateBps int64
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

// AlignedPrice reports whether p is a multiple of the price tick.
func (s Symbol) AlignedPrice(p int64) bool {
	return s.PriceTick > 0 && p > 0 && p%s.PriceTick == 0
}

// AlignedQty reports whether q is a multiple of the quantity step.
func (s Symbol) AlignedQty(q int64) bool {
	return s.QtyStep > 0 && q > 0 && q%s.QtyStep == 0
}
