// Package orderbook implements the price-time-priority matching core: a
// per-symbol book of resting orders and the deterministic walk that
// matches an incoming order against it.
package orderbook

import "time"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

type OrderType int

const (
	Limit OrderType = iota
	Market
	StopLimit
	StopMarket
	IOC
	FOK
)

type TimeInForce int

const (
	GTC TimeInForce = iota
	TIFIOC
	TIFFOK
)

type Status int

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected || s == Expired
}

// Order is a resting or incoming book entry. Identity (OrderID,
// ClientOrderID, Symbol, Side, Type) never changes after creation;
// Filled/AvgFillPrice/Status evolve as the book matches it.
//
// Price, StopPrice, Qty, Filled and QuoteBudget are fixed-point
// integers scaled by the symbol's tick/step (see Symbol in symbol.go);
// they are never floats, per the no-crossed-book / no-dust invariants.
type Order struct {
	OrderID       uint64
	ClientOrderID string
	UserID        uint64
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	PostOnly      bool
	ReduceOnly    bool

	Price       int64 // required for Limit/StopLimit
	StopPrice   int64 // required for StopLimit/StopMarket
	Qty         int64 // original quantity
	Remaining   int64 // quantity left to fill
	Filled      int64
	QuoteBudget int64 // required for Market buys; bounds notional spent

	// AvgFillPriceNum/Den let the average fill price be reconstructed
	// exactly (sum(price*qty) / sum(qty)) without floating point.
	AvgFillPriceNum int64
	AvgFillPriceDen int64

	Status     Status
	CreatedSeq uint64
	CreatedAt  time.Time
	GTDExpiry  time.Time // zero means no expiry

	retireEpoch uint64
	next        *Order
	prev        *Order
}

// Reset clears an order for reuse from the pool.
func (o *Order) Reset() { *o = Order{} }

func (o *Order) RetireEpoch() uint64     { return o.retireEpoch }
func (o *Order) SetRetireEpoch(v uint64) { o.retireEpoch = v }

// Next exposes read-only FIFO traversal within a price level.
func (o *Order) Next() *Order { return o.next }

// RecordFill folds a fill of qty at price into the order's running
// state. Price improvement (fills at a price better than the order's
// limit) is reflected honestly in the average.
func (o *Order) RecordFill(price, qty int64) {
	o.AvgFillPriceNum += price * qty
	o.AvgFillPriceDen += qty
	o.Filled += qty
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

// AvgFillPrice returns the volume-weighted average fill price, or 0 if
// nothing has filled yet.
func (o *Order) AvgFillPrice() int64 {
	if o.AvgFillPriceDen == 0 {
		return 0
	}
	return o.AvgFillPriceNum / o.AvgFillPriceDen
}

func (o *Order) HasGTDExpiry() bool { return !o.GTDExpiry.IsZero() }
