package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlaceOrderRequest is the wire-neutral shape of §6's PlaceOrder
// ingress. Price/Qty/StopPrice/QuoteBudget arrive as decimal strings
// and are parsed with shopspring/decimal so no float ever touches the
// reservation or matching path.
type PlaceOrderRequest struct {
	UserID        uint64          `validate:"required"`
	Symbol        string          `validate:"required"`
	Side          string          `validate:"required,oneof=buy sell"`
	Type          string          `validate:"required,oneof=limit market stop_limit stop_market ioc fok"`
	Qty           decimal.Decimal `validate:"required"`
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	QuoteBudget   decimal.Decimal
	TimeInForce   string `validate:"omitempty,oneof=gtc ioc fok gtd"`
	PostOnly      bool
	ReduceOnly    bool
	ClientOrderID string
	Leverage      int `validate:"omitempty,min=1,max=100"`
	GTDExpiry     time.Time
	AuthToken     string `validate:"required"`
}

type PlaceOrderResponse struct {
	OrderID uint64
	Status  string
}

// CancelOrderRequest identifies the order either by the gateway's own
// OrderID or by the client's ClientOrderID; exactly one is required.
type CancelOrderRequest struct {
	UserID        uint64 `validate:"required"`
	OrderID       uint64 `validate:"required_without=ClientOrderID"`
	ClientOrderID string `validate:"required_without=OrderID"`
	AuthToken     string `validate:"required"`
}

type CancelOrderResponse struct {
	Status string
}

type QueryOrderRequest struct {
	OrderID uint64 `validate:"required"`
}

type OrderSnapshot struct {
	OrderID       uint64
	ClientOrderID string
	UserID        uint64
	Symbol        string
	Side          string
	Status        string
	Qty           int64
	Filled        int64
	Remaining     int64
	Price         int64
	AvgFillPrice  int64
}

// PriceLevel is one aggregated price/qty pair in a BookSnapshot.
type PriceLevel struct {
	Price int64
	Qty   int64
}

// BookSnapshot is the full resting-order state of one symbol's book at
// a point in time, tagged with the seq it was taken at so a caller can
// tell it apart from any delta with a higher seq.
type BookSnapshot struct {
	Symbol string
	Seq    uint64
	Bids   []PriceLevel
	Asks   []PriceLevel
}
