// Package publisher turns matching steps into an ordered event log:
// each call to Commit assigns the next block of per-symbol monotonic
// sequence numbers and hands the whole step to every registered sink
// atomically, so no subscriber ever observes a Trade without its
// corresponding OrderUpdates, BookDelta and BalanceUpdates.
package publisher

import "clobcore/domain/orderbook"

type EventType int

const (
	EventTrade EventType = iota
	EventBookDelta
	EventOrderUpdate
	EventBalanceUpdate
	EventSymbolHalted
)

func (t EventType) String() string {
	switch t {
	case EventTrade:
		return "trade"
	case EventBookDelta:
		return "book_delta"
	case EventOrderUpdate:
		return "order_update"
	case EventBalanceUpdate:
		return "balance_update"
	case EventSymbolHalted:
		return "symbol_halted"
	default:
		return "unknown"
	}
}

// Event is one entry in a symbol's event log. Exactly one of the
// payload fields is populated, selected by Type.
type Event struct {
	Seq    uint64
	Symbol string
	Type   EventType

	Trade         *TradeEvent
	BookDelta     *BookDeltaEvent
	OrderUpdate   *OrderUpdateEvent
	BalanceUpdate *BalanceUpdateEvent
	SymbolHalted  *SymbolHaltedEvent
}

type TradeEvent struct {
	TradeID      string
	Price        int64
	Qty          int64
	TakerOrderID uint64
	MakerOrderID uint64
	TakerUserID  uint64
	MakerUserID  uint64
	TakerSide    orderbook.Side
}

type BookDeltaEvent struct {
	Side   orderbook.Side
	Price  int64
	NewQty int64
}

// OrderUpdateEvent reports a status/fill transition. UserID is carried
// separately from the embedded order snapshot so the bus can route to
// orders:{user} without re-deriving it.
type OrderUpdateEvent struct {
	UserID             uint64
	OrderID            uint64
	Status             orderbook.Status
	Filled             int64
	Remaining          int64
	AvgFillPrice       int64
	SelfTradePrevented bool
}

type BalanceUpdateEvent struct {
	UserID    uint64
	Asset     string
	Available int64
	Reserved  int64
}

// SymbolHaltedEvent marks that a symbol's matching task has stopped
// processing new tasks after detecting an internal invariant
// violation (spec: reserved underflow, negative remaining, etc — a
// bug, never a user error). Reason is free-form, for operators only.
type SymbolHaltedEvent struct {
	Reason string
}

func tradeEvent(symbol string, t orderbook.Trade) Event {
	return Event{
		Symbol: symbol,
		Type:   EventTrade,
		Trade: &TradeEvent{
			TradeID:      t.TradeID,
			Price:        t.Price,
			Qty:          t.Qty,
			TakerOrderID: t.TakerOrderID,
			MakerOrderID: t.MakerOrderID,
			TakerUserID:  t.TakerUserID,
			MakerUserID:  t.MakerUserID,
			TakerSide:    t.TakerSide,
		},
	}
}

func bookDeltaEvent(symbol string, d orderbook.BookDelta) Event {
	return Event{
		Symbol:    symbol,
		Type:      EventBookDelta,
		BookDelta: &BookDeltaEvent{Side: d.Side, Price: d.Price, NewQty: d.NewQty},
	}
}

func orderUpdateEvent(symbol string, oc orderbook.OrderOutcome) Event {
	o := oc.Order
	return Event{
		Symbol: symbol,
		Type:   EventOrderUpdate,
		OrderUpdate: &OrderUpdateEvent{
			UserID:             o.UserID,
			OrderID:            o.OrderID,
			Status:             o.Status,
			Filled:             o.Filled,
			Remaining:          o.Remaining,
			AvgFillPrice:       o.AvgFillPrice(),
			SelfTradePrevented: oc.SelfTradePrevented,
		},
	}
}

// NewBalanceUpdateEvent wraps a ledger balance change for inclusion in
// the same step as the trade that caused it.
func NewBalanceUpdateEvent(symbol string, userID uint64, asset string, available, reserved int64) Event {
	return Event{
		Symbol: symbol,
		Type:   EventBalanceUpdate,
		BalanceUpdate: &BalanceUpdateEvent{
			UserID:    userID,
			Asset:     asset,
			Available: available,
			Reserved:  reserved,
		},
	}
}

// FromMatchResult expands an orderbook.MatchResult into the ordered
// event sequence a matching step produces: trades interleaved with
// their book deltas first, then every affected order's status update.
// Balance updates are appended by the caller once settlement runs,
// since orderbook has no notion of balances.
func FromMatchResult(symbol string, res *orderbook.MatchResult) []Event {
	events := make([]Event, 0, len(res.Trades)+len(res.Deltas)+len(res.Orders))
	ti, di := 0, 0
	for ti < len(res.Trades) {
		events = append(events, tradeEvent(symbol, res.Trades[ti]))
		ti++
		if di < len(res.Deltas) {
			events = append(events, bookDeltaEvent(symbol, res.Deltas[di]))
			di++
		}
	}
	for ; di < len(res.Deltas); di++ {
		events = append(events, bookDeltaEvent(symbol, res.Deltas[di]))
	}
	for _, oc := range res.Orders {
		events = append(events, orderUpdateEvent(symbol, oc))
	}
	return events
}
