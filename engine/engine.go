// Package engine is the per-symbol single-consumer matching task: one
// Engine owns one orderbook.OrderBook, its stop shelf, and the ledger
// settlements its own trades produce, all driven from one goroutine so
// the book never needs a lock. Parallelism comes from running one
// Engine per symbol, not from sharing a book across goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/domain/stopshelf"
	"clobcore/infra/sequence"
	"clobcore/infra/wal/entry"
	"clobcore/publisher"
	"clobcore/snapshot"
)

// ErrEngineHalted is returned to every task submitted after a symbol's
// engine has halted on an internal invariant violation.
var ErrEngineHalted = errors.New("engine: symbol halted")

// TaskKind selects which of the MPSC queue's intents a Task carries.
type TaskKind int

const (
	TaskPlace TaskKind = iota
	TaskPlaceStop
	TaskCancel
	TaskMarkPrice
	TaskQuery
	TaskSnapshot
	TaskBookSnapshot
)

// Task is the single item type flowing through a symbol's inbound
// queue. Mark-price ticks ride the same queue as order intents so stop
// triggers are evaluated in the same arrival order as everything else
// (the spec's redesign of the source's separate price-feed path).
type Task struct {
	Kind TaskKind

	Order         *orderbook.Order
	ReserveAsset  string
	ReserveAmount int64

	Stop *stopshelf.StopOrder

	CancelOrderID uint64

	MarkPrice int64

	QueryOrderID uint64

	Reply chan TaskResult
}

type TaskResult struct {
	Order    *orderbook.Order
	Found    bool
	Err      error
	Snapshot *BookSnapshotResult
}

// PriceLevelView is one price level of a BookSnapshotResult.
type PriceLevelView struct {
	Price int64
	Qty   int64
}

// BookSnapshotResult is the book state a subscriber joining book:{symbol}
// needs to reconstruct it before any delta with a higher seq arrives.
// Bids are highest price first, Asks lowest price first.
type BookSnapshotResult struct {
	Seq  uint64
	Bids []PriceLevelView
	Asks []PriceLevelView
}

type reservation struct {
	user      uint64
	asset     string
	remaining int64
}

// Engine runs one symbol's matching loop. Inbound must be fed by
// exactly one dispatcher (the gateway); Run must be driven by exactly
// one goroutine.
type Engine struct {
	Symbol orderbook.Symbol

	book  *orderbook.OrderBook
	shelf *stopshelf.Shelf
	led   *ledger.Ledger
	pub   *publisher.Publisher
	seq   *sequence.Sequencer

	inbound chan Task
	log     *zap.Logger
	wal     *entry.WAL // nil disables durability (used in tests)

	snap         *snapshot.Writer // nil disables periodic snapshotting
	snapInterval time.Duration

	reservations map[uint64]*reservation

	halted     bool
	haltReason string
}

func New(symbol orderbook.Symbol, led *ledger.Ledger, pub *publisher.Publisher, seq *sequence.Sequencer, queueDepth int, log *zap.Logger) *Engine {
	return &Engine{
		Symbol:       symbol,
		book:         orderbook.NewOrderBook(symbol),
		shelf:        stopshelf.New(),
		led:          led,
		pub:          pub,
		seq:          seq,
		inbound:      make(chan Task, queueDepth),
		log:          log,
		reservations: make(map[uint64]*reservation),
	}
}

// WithWAL attaches a durable write-ahead log; every TaskPlace/TaskCancel
// intent and every Trade this engine produces is appended to it
// before the matching step's events are committed to subscribers.
// Stops parked on the shelf by TaskPlaceStop are not logged.
func (e *Engine) WithWAL(w *entry.WAL) *Engine {
	e.wal = w
	return e
}

func (e *Engine) appendWAL(t entry.RecordType, seq uint64, payload []byte) {
	if e.wal == nil {
		return
	}
	if err := e.wal.Append(entry.NewRecord(t, seq, payload)); err != nil {
		e.log.Error("wal append failed", zap.Error(err), zap.String("symbol", e.Symbol.String()))
	}
}

// WithSnapshots attaches a periodic book checkpoint: every interval,
// Run's own ticker calls handleSnapshot (so it reads book state from
// the owning goroutine, same as every task) and writes the book's
// resting orders to disk, then truncates the WAL of everything the
// snapshot already covers. The ledger's balances are not part of this
// checkpoint, since the ledger is shared across symbols.
func (e *Engine) WithSnapshots(w *snapshot.Writer, interval time.Duration) *Engine {
	e.snap = w
	e.snapInterval = interval
	return e
}

// Inbound is the MPSC queue handle the gateway dispatches intents onto.
func (e *Engine) Inbound() chan<- Task { return e.inbound }

// Run drains the inbound queue until ctx is cancelled. It must be
// called from exactly one goroutine per Engine.
func (e *Engine) Run(ctx context.Context) {
	var tick <-chan time.Time
	if e.snap != nil && e.snapInterval > 0 {
		ticker := time.NewTicker(e.snapInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.inbound:
			e.handle(t)
		case <-tick:
			e.handleSnapshot()
		}
	}
}

func (e *Engine) handle(t Task) {
	// A halted symbol still answers queries (an operator or a client
	// polling order status needs to see the last known state) but
	// accepts nothing that would mutate the book or the ledger.
	if e.halted && t.Kind != TaskQuery && t.Kind != TaskBookSnapshot {
		e.reply(t, nil, ErrEngineHalted)
		return
	}
	switch t.Kind {
	case TaskPlace:
		e.handlePlace(t)
	case TaskPlaceStop:
		e.handlePlaceStop(t)
	case TaskCancel:
		e.handleCancel(t)
	case TaskMarkPrice:
		e.handleMarkPrice(t)
	case TaskQuery:
		e.handleQuery(t)
	case TaskSnapshot:
		e.handleSnapshot()
	case TaskBookSnapshot:
		e.handleBookSnapshot(t)
	}
}

// halt stops this symbol from processing any further mutating task and
// publishes a SymbolHalted event so subscribers and operators learn
// about it through the same channel as everything else. Other symbols'
// engines are untouched — each owns its own goroutine and book.
func (e *Engine) halt(reason string) {
	if e.halted {
		return
	}
	e.halted = true
	e.haltReason = reason
	e.log.Error("symbol halted: internal invariant violated",
		zap.String("symbol", e.Symbol.String()), zap.String("reason", reason))
	e.pub.Commit([]publisher.Event{{
		Symbol:       e.Symbol.String(),
		Type:         publisher.EventSymbolHalted,
		SymbolHalted: &publisher.SymbolHaltedEvent{Reason: reason},
	}})
}

func (e *Engine) reply(t Task, o *orderbook.Order, err error) {
	if t.Reply == nil {
		return
	}
	t.Reply <- TaskResult{Order: o, Err: err}
}

func (e *Engine) handlePlace(t Task) {
	t.Order.CreatedSeq = e.seq.Next()
	e.reservations[t.Order.OrderID] = &reservation{user: t.Order.UserID, asset: t.ReserveAsset, remaining: t.ReserveAmount}
	e.appendWAL(entry.RecordPlace, t.Order.CreatedSeq, entry.EncodePlacePayload(entry.PlacePayload{
		OrderID: t.Order.OrderID, ClientOrderID: t.Order.ClientOrderID, UserID: t.Order.UserID,
		Symbol: t.Order.Symbol, Side: int64(t.Order.Side), Type: int64(t.Order.Type), TimeInForce: int64(t.Order.TimeInForce),
		PostOnly: t.Order.PostOnly, ReduceOnly: t.Order.ReduceOnly, Price: t.Order.Price, StopPrice: t.Order.StopPrice,
		Qty: t.Order.Qty, QuoteBudget: t.Order.QuoteBudget, CreatedSeq: t.Order.CreatedSeq,
		ReserveAsset: t.ReserveAsset, ReserveAmount: t.ReserveAmount,
		GTDExpiry: gtdExpiryNanos(t.Order.GTDExpiry),
	}))

	events := e.processOrder(t.Order)
	events = append(events, e.evaluateStops()...)
	e.pub.Commit(events)

	e.reply(t, t.Order, nil)
}

// gtdExpiryNanos returns 0 for a zero time so the WAL payload's
// GTDExpiry field round-trips cleanly through orderbook.Order's own
// zero-means-no-expiry convention.
func gtdExpiryNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (e *Engine) handlePlaceStop(t Task) {
	e.reservations[t.Stop.OrderID] = &reservation{user: t.Stop.UserID, asset: t.ReserveAsset, remaining: t.ReserveAmount}
	e.shelf.Add(t.Stop)

	events := []publisher.Event{{
		Symbol: e.Symbol.String(),
		Type:   publisher.EventOrderUpdate,
		OrderUpdate: &publisher.OrderUpdateEvent{
			UserID:  t.Stop.UserID,
			OrderID: t.Stop.OrderID,
			Status:  orderbook.Open,
		},
	}}
	e.pub.Commit(events)
	e.reply(t, nil, nil)
}

func (e *Engine) handleCancel(t Task) {
	e.appendWAL(entry.RecordCancel, e.seq.Next(), entry.EncodeCancelPayload(entry.CancelPayload{OrderID: t.CancelOrderID}))

	res, err := e.book.Cancel(t.CancelOrderID)
	if err != nil {
		// not resting in the book — maybe a dormant stop.
		if stop, ok := e.shelf.Remove(t.CancelOrderID); ok {
			events := []publisher.Event{{
				Symbol: e.Symbol.String(),
				Type:   publisher.EventOrderUpdate,
				OrderUpdate: &publisher.OrderUpdateEvent{
					UserID:  stop.UserID,
					OrderID: stop.OrderID,
					Status:  orderbook.Cancelled,
				},
			}}
			if ev, ok := e.releaseResidualEvent(t.CancelOrderID); ok {
				events = append(events, ev)
			}
			e.pub.Commit(events)
			e.reply(t, nil, nil)
			return
		}
		e.reply(t, nil, err)
		return
	}

	events := publisher.FromMatchResult(e.Symbol.String(), res)
	events = append(events, e.settleTerminal(res)...)
	e.pub.Commit(events)
	e.reply(t, res.Orders[0].Order, nil)
}

func (e *Engine) handleMarkPrice(t Task) {
	events := e.triggerStops(t.MarkPrice, stopshelf.MarkPrice)
	if len(events) > 0 {
		e.pub.Commit(events)
	}
}

func (e *Engine) handleQuery(t Task) {
	o, ok := e.book.Get(t.QueryOrderID)
	if t.Reply == nil {
		return
	}
	t.Reply <- TaskResult{Order: o, Found: ok}
}

// handleBookSnapshot builds the current book state from this engine's
// own goroutine, the same way every other task reads the book — so the
// snapshot a new book:{symbol} subscriber gets is never torn against a
// concurrent match step.
func (e *Engine) handleBookSnapshot(t Task) {
	if t.Reply == nil {
		return
	}
	var bids, asks []PriceLevelView
	e.book.BidsWalk(func(l *orderbook.PriceLevel) bool {
		bids = append(bids, PriceLevelView{Price: l.Price, Qty: l.TotalQty})
		return true
	})
	e.book.AsksWalk(func(l *orderbook.PriceLevel) bool {
		asks = append(asks, PriceLevelView{Price: l.Price, Qty: l.TotalQty})
		return true
	})
	// e.pub.LastSeq(), not e.book.LastSeq: subscribers key off the
	// publisher's per-event seq space, and this read happens on the same
	// single-consumer goroutine as every Commit, so no delta committed
	// after this point can ever carry a seq <= the one returned here.
	t.Reply <- TaskResult{Snapshot: &BookSnapshotResult{Seq: e.pub.LastSeq(), Bids: bids, Asks: asks}}
}

func (e *Engine) handleSnapshot() {
	if e.snap == nil {
		return
	}
	seq := e.book.LastSeq.Load()
	if err := e.snap.WriteBook(seq, e.Symbol.String(), e.book); err != nil {
		e.log.Error("snapshot write failed", zap.Error(err), zap.String("symbol", e.Symbol.String()))
		return
	}
	e.appendWAL(entry.RecordSnapshot, e.seq.Next(), entry.EncodeSnapshotPayload(entry.SnapshotPayload{
		Seq:  seq,
		Path: snapshot.BookPath(e.snap.Dir, e.Symbol.String()),
	}))
	if e.wal != nil {
		if err := e.wal.TruncateBefore(seq); err != nil {
			e.log.Error("wal truncate failed", zap.Error(err), zap.String("symbol", e.Symbol.String()))
		}
	}
}

// processOrder runs a taker through the book, settles every trade it
// produces, and releases any reservation surplus left once the order
// reaches a terminal state. It does not commit — callers append
// triggered-stop events first so the whole step publishes atomically.
func (e *Engine) processOrder(o *orderbook.Order) []publisher.Event {
	res := e.book.Place(o)

	if res.Rejected {
		events := publisher.FromMatchResult(e.Symbol.String(), res)
		if ev, ok := e.releaseResidualEvent(o.OrderID); ok {
			events = append(events, ev)
		}
		return events
	}

	events := make([]publisher.Event, 0, len(res.Trades)*6+len(res.Orders))
	ti, di := 0, 0
	for ti < len(res.Trades) {
		trade := res.Trades[ti]
		e.appendWAL(entry.RecordMatch, e.seq.Next(), entry.EncodeMatchPayload(trade))
		events = append(events, tradeAndDeltaEvents(e.Symbol.String(), trade, res.Deltas, &di)...)
		events = append(events, e.settleTrade(trade)...)
		ti++
	}
	for ; di < len(res.Deltas); di++ {
		events = append(events, bookDeltaEvent(e.Symbol.String(), res.Deltas[di]))
	}
	for _, oc := range res.Orders {
		events = append(events, orderUpdateEvent(e.Symbol.String(), oc))
	}
	events = append(events, e.settleTerminal(res)...)
	return events
}

func tradeAndDeltaEvents(symbol string, trade orderbook.Trade, deltas []orderbook.BookDelta, di *int) []publisher.Event {
	out := []publisher.Event{{
		Symbol: symbol,
		Type:   publisher.EventTrade,
		Trade: &publisher.TradeEvent{
			TradeID: trade.TradeID,
			Price: trade.Price, Qty: trade.Qty,
			TakerOrderID: trade.TakerOrderID, MakerOrderID: trade.MakerOrderID,
			TakerUserID: trade.TakerUserID, MakerUserID: trade.MakerUserID,
			TakerSide: trade.TakerSide,
		},
	}}
	if *di < len(deltas) {
		out = append(out, bookDeltaEvent(symbol, deltas[*di]))
		*di++
	}
	return out
}

func bookDeltaEvent(symbol string, d orderbook.BookDelta) publisher.Event {
	return publisher.Event{
		Symbol:    symbol,
		Type:      publisher.EventBookDelta,
		BookDelta: &publisher.BookDeltaEvent{Side: d.Side, Price: d.Price, NewQty: d.NewQty},
	}
}

func orderUpdateEvent(symbol string, oc orderbook.OrderOutcome) publisher.Event {
	o := oc.Order
	return publisher.Event{
		Symbol: symbol,
		Type:   publisher.EventOrderUpdate,
		OrderUpdate: &publisher.OrderUpdateEvent{
			UserID: o.UserID, OrderID: o.OrderID, Status: o.Status,
			Filled: o.Filled, Remaining: o.Remaining, AvgFillPrice: o.AvgFillPrice(),
			SelfTradePrevented: oc.SelfTradePrevented,
		},
	}
}

// settleTrade runs ledger.Settle for one trade and decrements both
// sides' tracked reservation by exactly what Settle consumed, then
// reports the five touched balances.
func (e *Engine) settleTrade(trade orderbook.Trade) []publisher.Event {
	notional := trade.Price * trade.Qty
	takerFee := ledger.Fee(notional, e.Symbol.TakerFeeRateBps, e.Symbol.PriceTick)
	makerFee := ledger.Fee(notional, e.Symbol.MakerFeeRateBps, e.Symbol.PriceTick)

	side := "sell"
	if trade.TakerSide == orderbook.Buy {
		side = "buy"
	}

	err := e.led.Settle(ledger.Trade{
		BaseAsset: e.Symbol.Base, QuoteAsset: e.Symbol.Quote,
		Price: trade.Price, Qty: trade.Qty,
		TakerUser: trade.TakerUserID, MakerUser: trade.MakerUserID, TakerSide: side,
		TakerFee: takerFee, MakerFee: makerFee,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInconsistent) {
			e.halt(err.Error())
		} else {
			e.log.Error("settle failed", zap.Error(err), zap.String("symbol", e.Symbol.String()))
		}
		return nil
	}

	var takerConsumed, makerConsumed int64
	if trade.TakerSide == orderbook.Buy {
		takerConsumed = notional + takerFee
		makerConsumed = trade.Qty
	} else {
		takerConsumed = trade.Qty
		makerConsumed = notional + makerFee
	}
	e.debitReservation(trade.TakerOrderID, takerConsumed)
	e.debitReservation(trade.MakerOrderID, makerConsumed)

	return []publisher.Event{
		e.balanceEvent(trade.TakerUserID, e.Symbol.Quote),
		e.balanceEvent(trade.TakerUserID, e.Symbol.Base),
		e.balanceEvent(trade.MakerUserID, e.Symbol.Quote),
		e.balanceEvent(trade.MakerUserID, e.Symbol.Base),
		e.balanceEvent(ledger.FeeAccount, e.Symbol.Quote),
	}
}

func (e *Engine) balanceEvent(user uint64, asset string) publisher.Event {
	b := e.led.Balance(user, asset)
	return publisher.NewBalanceUpdateEvent(e.Symbol.String(), user, asset, b.Available, b.Reserved)
}

func (e *Engine) debitReservation(orderID uint64, amount int64) {
	r, ok := e.reservations[orderID]
	if !ok {
		return
	}
	r.remaining -= amount
	if r.remaining < 0 {
		// Settle already succeeded against the ledger's own reserved
		// balance by this point, so the ledger itself is not at risk —
		// this only means this engine's local bookkeeping of how much
		// reservation surplus to release later has diverged from it,
		// which should never happen if settleTrade's consumed-amount
		// math matches Settle's own mutations.
		e.halt(fmt.Sprintf("reservation debit underflow for order %d: remaining %d, debited %d", orderID, r.remaining+amount, amount))
		r.remaining = 0
	}
}

// settleTerminal releases whatever reservation remains for every order
// in res that just reached a terminal state.
func (e *Engine) settleTerminal(res *orderbook.MatchResult) []publisher.Event {
	var events []publisher.Event
	for _, oc := range res.Orders {
		if !oc.Order.Status.Terminal() {
			continue
		}
		if ev, ok := e.releaseResidualEvent(oc.Order.OrderID); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (e *Engine) releaseResidualEvent(orderID uint64) (publisher.Event, bool) {
	r, ok := e.reservations[orderID]
	if !ok {
		return publisher.Event{}, false
	}
	delete(e.reservations, orderID)
	if r.remaining <= 0 {
		return publisher.Event{}, false
	}
	if err := e.led.Release(r.user, r.asset, r.remaining); err != nil {
		if errors.Is(err, ledger.ErrInconsistent) {
			e.halt(err.Error())
		} else {
			e.log.Error("release residual reservation failed", zap.Error(err), zap.Uint64("order_id", orderID))
		}
		return publisher.Event{}, false
	}
	return e.balanceEvent(r.user, r.asset), true
}

// BestBid/BestAsk/LastTradePrice expose read-only book state for
// snapshotting and the stop shelf's external callers.
func (e *Engine) BestBid() (price, qty int64, ok bool) { return e.book.BestBid() }
func (e *Engine) BestAsk() (price, qty int64, ok bool) { return e.book.BestAsk() }
func (e *Engine) LastTradePrice() int64                { return e.book.LastTradePrice }

// triggerStops evaluates the shelf against price (a mark-price update or
// the book's last trade price, per src) and matches every fired stop in
// shelf-arrival order, returning all the events produced.
func (e *Engine) triggerStops(price int64, src stopshelf.Reference) []publisher.Event {
	var events []publisher.Event
	for _, stop := range e.shelf.Evaluate(price, src) {
		intent := stop.ToIntent()
		intent.OrderID = stop.OrderID
		intent.CreatedSeq = e.seq.Next()
		events = append(events, e.processOrder(intent)...)
		events = append(events, e.evaluateStops()...)
	}
	return events
}

// evaluateStops re-checks the shelf against the book's current last
// trade price — called after every taker walk, since a trade is what
// can move last_price across a stop's trigger. Never fires a
// MarkPrice-referenced stop: only handleMarkPrice does that.
func (e *Engine) evaluateStops() []publisher.Event {
	if e.shelf.Len() == 0 {
		return nil
	}
	return e.triggerStops(e.book.LastTradePrice, stopshelf.LastPrice)
}
