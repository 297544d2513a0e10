// Package pb holds the Order Gateway's wire message types and its
// gRPC service descriptor, hand-written in place of protoc-generated
// code: there is no protoc step in this build, so the ServiceDesc
// below is assembled from the same grpc.MethodDesc/StreamDesc plumbing
// protoc-gen-go-grpc would emit, and messages are plain structs
// carried over the wire by rpccodec's JSON codec instead of protobuf
// wire encoding.
package pb

import "time"

// PlaceOrderRequest mirrors gateway.PlaceOrderRequest field-for-field.
// Decimal quantities travel as strings so the wire format never
// carries a float, the same invariant gateway.decimalToFixed enforces
// once the request reaches the gateway.
type PlaceOrderRequest struct {
	UserID        uint64    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Qty           string    `json:"qty"`
	Price         string    `json:"price"`
	StopPrice     string    `json:"stop_price"`
	QuoteBudget   string    `json:"quote_budget"`
	TimeInForce   string    `json:"time_in_force"`
	PostOnly      bool      `json:"post_only"`
	ReduceOnly    bool      `json:"reduce_only"`
	ClientOrderID string    `json:"client_order_id"`
	Leverage      int       `json:"leverage"`
	GTDExpiry     time.Time `json:"gtd_expiry"`
	AuthToken     string    `json:"auth_token"`
}

type PlaceOrderResponse struct {
	OrderID uint64 `json:"order_id"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type CancelOrderRequest struct {
	UserID        uint64 `json:"user_id"`
	OrderID       uint64 `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	AuthToken     string `json:"auth_token"`
}

type CancelOrderResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type QueryOrderRequest struct {
	OrderID uint64 `json:"order_id"`
}

type OrderSnapshot struct {
	OrderID       uint64 `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	UserID        uint64 `json:"user_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	Qty           int64  `json:"qty"`
	Filled        int64  `json:"filled"`
	Remaining     int64  `json:"remaining"`
	Price         int64  `json:"price"`
	AvgFillPrice  int64  `json:"avg_fill_price"`
}

// SubscribeRequest names one bus channel: book:{symbol}, trades:{symbol},
// orders:{user} or balances:{user} (see bus.BookChannel et al).
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// StepMessage is the wire projection of publisher.Step: one committed
// matching step's events, in order, sharing one seq range.
type StepMessage struct {
	Symbol   string         `json:"symbol"`
	SeqStart uint64         `json:"seq_start"`
	SeqEnd   uint64         `json:"seq_end"`
	Events   []EventMessage `json:"events"`
}

// EventMessage is the wire projection of publisher.Event: exactly one
// payload field is populated, selected by Type.
type EventMessage struct {
	Seq    uint64 `json:"seq"`
	Symbol string `json:"symbol"`
	Type   string `json:"type"`

	Trade         *TradeMessage         `json:"trade,omitempty"`
	BookDelta     *BookDeltaMessage     `json:"book_delta,omitempty"`
	OrderUpdate   *OrderUpdateMessage   `json:"order_update,omitempty"`
	BalanceUpdate *BalanceUpdateMessage `json:"balance_update,omitempty"`
	SymbolHalted  *SymbolHaltedMessage  `json:"symbol_halted,omitempty"`
	BookSnapshot  *BookSnapshotMessage  `json:"book_snapshot,omitempty"`
}

// BookSnapshotMessage is the full resting-order state of a symbol's
// book, sent as the first frame of a book:{symbol} subscription (spec
// §4.5) so a subscriber that joins mid-stream can reconstruct state
// before any delta with a higher seq is forwarded to it.
type BookSnapshotMessage struct {
	Bids []PriceLevelMessage `json:"bids"`
	Asks []PriceLevelMessage `json:"asks"`
}

type PriceLevelMessage struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// SymbolHaltedMessage announces that a symbol's matching task has
// stopped after an internal invariant violation; Reason is for
// operators, never shown to end users as if it were their error.
type SymbolHaltedMessage struct {
	Reason string `json:"reason"`
}

type TradeMessage struct {
	TradeID      string `json:"trade_id"`
	Price        int64  `json:"price"`
	Qty          int64  `json:"qty"`
	TakerOrderID uint64 `json:"taker_order_id"`
	MakerOrderID uint64 `json:"maker_order_id"`
	TakerUserID  uint64 `json:"taker_user_id"`
	MakerUserID  uint64 `json:"maker_user_id"`
	TakerSide    string `json:"taker_side"`
}

type BookDeltaMessage struct {
	Side   string `json:"side"`
	Price  int64  `json:"price"`
	NewQty int64  `json:"new_qty"`
}

type OrderUpdateMessage struct {
	UserID             uint64 `json:"user_id"`
	OrderID            uint64 `json:"order_id"`
	Status             string `json:"status"`
	Filled             int64  `json:"filled"`
	Remaining          int64  `json:"remaining"`
	AvgFillPrice       int64  `json:"avg_fill_price"`
	SelfTradePrevented bool   `json:"self_trade_prevented"`
}

type BalanceUpdateMessage struct {
	UserID    uint64 `json:"user_id"`
	Asset     string `json:"asset"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}
