package orderbook

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Trade is a single match produced by a matching step. Qty and Price
// are in the symbol's fixed-point units. TradeID is a v4 UUID minted
// fresh every time a Trade is constructed, including during WAL
// replay's re-matching walk — it labels the trade for external
// consumers only and never feeds back into book state, so a replayed
// trade getting a different ID than its original run is harmless.
type Trade struct {
	TradeID      string
	Symbol       string
	Price        int64
	Qty          int64
	TakerOrderID uint64
	MakerOrderID uint64
	TakerUserID  uint64
	MakerUserID  uint64
	TakerSide    Side
}

// BookDelta reports the new resting quantity at a price level after a
// step touched it. NewQty == 0 means the level was removed.
type BookDelta struct {
	Symbol string
	Side   Side
	Price  int64
	NewQty int64
}

// OrderOutcome reports a status or fill change to a single order,
// produced by a matching step, for the Trade Publisher to turn into an
// OrderUpdate event. SelfTradePrevented distinguishes a maker cancelled
// by self-trade prevention from an ordinary cancel/fill.
type OrderOutcome struct {
	Order              *Order
	SelfTradePrevented bool
}

// MatchResult aggregates everything a single Place or Cancel call
// produced, in emission order, so the Trade Publisher can commit it as
// one atomic step.
type MatchResult struct {
	Trades       []Trade
	Deltas       []BookDelta
	Orders       []OrderOutcome
	Rejected     bool
	RejectReason error
}

// OrderBook is single-writer and deterministic: every exported method
// is expected to be called from the one goroutine the engine dedicates
// to this symbol. It carries no internal locking.
type OrderBook struct {
	Symbol Symbol
	Bids   *RBTree
	Asks   *RBTree

	LastSeq        atomic.Uint64
	LastTradePrice int64

	index map[uint64]*Order
}

func NewOrderBook(symbol Symbol) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   NewRBTree(),
		Asks:   NewRBTree(),
		index:  make(map[uint64]*Order),
	}
}

// Place runs o through the matching walk and, if it rests, inserts it,
// using the wall-clock time at the call as the reference for any GTD
// expiry check against resting orders it encounters. Equivalent to
// PlaceAt(o, time.Now()).
func (b *OrderBook) Place(o *Order) *MatchResult {
	return b.PlaceAt(o, time.Now())
}

// PlaceAt is Place with an explicit reference time, so WAL replay can
// reuse the record's own original timestamp rather than the restart's
// wall clock — matching a resting order's GTD expiry against a later
// time than the order actually traded at would make replay diverge
// from the original run.
func (b *OrderBook) PlaceAt(o *Order, now time.Time) *MatchResult {
	res := &MatchResult{}
	b.LastSeq.Store(o.CreatedSeq)

	if o.PostOnly && b.wouldCross(o) {
		o.Status = Rejected
		res.Rejected = true
		res.RejectReason = ErrWouldCross
		return res
	}

	if o.Type == FOK && b.probeFillable(o, now) < o.Remaining {
		o.Status = Rejected
		res.Rejected = true
		res.RejectReason = ErrWouldNotFill
		return res
	}

	b.matchWalk(o, now, res)

	switch {
	case o.Remaining == 0:
		o.Status = Filled
	case o.Type == IOC || o.Type == FOK || o.Type == Market || o.Type == StopMarket:
		// never rests: IOC/FOK cancel their remainder, Market/StopMarket
		// are bounded by available liquidity or budget, not a resting price.
		o.Status = Cancelled
	default:
		if o.Filled > 0 {
			o.Status = PartiallyFilled
		} else {
			o.Status = Open
		}
		b.rest(o)
	}

	res.Orders = append(res.Orders, OrderOutcome{Order: o})
	return res
}

// Cancel removes o from the book if it is still resting. Racing a fill
// is resolved here: an already-terminal order returns its terminal
// status as a no-op rather than an error.
func (b *OrderBook) Cancel(orderID uint64) (*MatchResult, error) {
	o, ok := b.index[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.Status.Terminal() {
		return &MatchResult{Orders: []OrderOutcome{{Order: o}}}, nil
	}

	level := b.levelFor(o.Side, o.Price)
	var newQty int64
	if level != nil {
		level.Unlink(o)
		newQty = level.TotalQty
		if level.Empty() {
			b.treeFor(o.Side).Delete(o.Price)
		}
	}
	delete(b.index, orderID)
	o.Status = Cancelled

	return &MatchResult{
		Orders: []OrderOutcome{{Order: o}},
		Deltas: []BookDelta{{Symbol: b.Symbol.String(), Side: o.Side, Price: o.Price, NewQty: newQty}},
	}, nil
}

// BestBid/BestAsk support snapshotting and stop-trigger evaluation.

func (b *OrderBook) BestBid() (price, qty int64, ok bool) {
	l := b.Bids.BestMax()
	if l == nil {
		return 0, 0, false
	}
	return l.Price, l.TotalQty, true
}

func (b *OrderBook) BestAsk() (price, qty int64, ok bool) {
	l := b.Asks.BestMin()
	if l == nil {
		return 0, 0, false
	}
	return l.Price, l.TotalQty, true
}

func (b *OrderBook) BidsWalk(fn func(*PriceLevel) bool) { b.Bids.WalkDesc(fn) }
func (b *OrderBook) AsksWalk(fn func(*PriceLevel) bool) { b.Asks.WalkAsc(fn) }

// Get returns the resting order for orderID, if any. Like every other
// OrderBook method it must only be called from the book's owning
// goroutine.
func (b *OrderBook) Get(orderID uint64) (*Order, bool) {
	o, ok := b.index[orderID]
	return o, ok
}

// ---- matching core ----

func (b *OrderBook) matchWalk(o *Order, now time.Time, res *MatchResult) {
	book := b.treeFor(opposite(o.Side))
	restingSide := opposite(o.Side)
	remainingBudget := o.QuoteBudget

	for o.Remaining > 0 {
		level := bestOf(book, o.Side)
		if level == nil {
			break
		}
		if !priceMarketable(o, level.Price) {
			break
		}

		maker := level.Head()
		if maker == nil {
			book.Delete(level.Price)
			continue
		}

		// GTD expiry is evaluated at the head of the queue, by a time
		// check, before this maker is considered for the step: an
		// expired resting order is removed as if cancelled and the
		// walk continues against whatever is next, rather than being
		// matched one last time past its deadline.
		if maker.HasGTDExpiry() && !maker.GTDExpiry.After(now) {
			level.Unlink(maker)
			maker.Status = Expired
			delete(b.index, maker.OrderID)
			res.Orders = append(res.Orders, OrderOutcome{Order: maker})
			if level.Empty() {
				book.Delete(level.Price)
			}
			res.Deltas = append(res.Deltas, BookDelta{Symbol: b.Symbol.String(), Side: restingSide, Price: level.Price, NewQty: level.TotalQty})
			continue
		}

		if maker.UserID == o.UserID {
			level.Unlink(maker)
			maker.Status = Cancelled
			delete(b.index, maker.OrderID)
			res.Orders = append(res.Orders, OrderOutcome{Order: maker, SelfTradePrevented: true})
			if level.Empty() {
				book.Delete(level.Price)
			}
			res.Deltas = append(res.Deltas, BookDelta{Symbol: b.Symbol.String(), Side: restingSide, Price: level.Price, NewQty: level.TotalQty})
			continue
		}

		qty := min(o.Remaining, maker.Remaining)

		if o.Type == Market && o.Side == Buy && o.QuoteBudget > 0 {
			notional := level.Price * qty
			if notional > remainingBudget {
				qty = remainingBudget / level.Price
				qty -= qty % b.Symbol.QtyStep
				if qty <= 0 {
					return
				}
			}
			remainingBudget -= level.Price * qty
		}

		price := level.Price
		o.RecordFill(price, qty)
		maker.RecordFill(price, qty)
		level.Fill(qty)
		b.LastTradePrice = price

		res.Trades = append(res.Trades, Trade{
			TradeID:      uuid.NewString(),
			Symbol:       b.Symbol.String(),
			Price:        price,
			Qty:          qty,
			TakerOrderID: o.OrderID,
			MakerOrderID: maker.OrderID,
			TakerUserID:  o.UserID,
			MakerUserID:  maker.UserID,
			TakerSide:    o.Side,
		})

		if maker.Remaining == 0 {
			level.DetachFilled()
			delete(b.index, maker.OrderID)
		}
		res.Orders = append(res.Orders, OrderOutcome{Order: maker})

		if level.Empty() {
			book.Delete(level.Price)
		}
		res.Deltas = append(res.Deltas, BookDelta{Symbol: b.Symbol.String(), Side: restingSide, Price: price, NewQty: level.TotalQty})
	}
}

// probeFillable sums the quantity available to o at marketable prices,
// excluding same-user resting orders that would be skipped by
// self-trade prevention and orders that would be evicted as expired
// before they could be matched — neither is really fillable liquidity.
// Used by FOK's pre-trade check; stops as soon as it has seen enough to
// satisfy o.
func (b *OrderBook) probeFillable(o *Order, now time.Time) int64 {
	book := b.treeFor(opposite(o.Side))
	var total int64

	walk := book.WalkAsc
	if o.Side == Sell {
		walk = book.WalkDesc
	}
	walk(func(level *PriceLevel) bool {
		if !priceMarketable(o, level.Price) {
			return false
		}
		for ord := level.Head(); ord != nil; ord = ord.Next() {
			if ord.UserID != o.UserID && !(ord.HasGTDExpiry() && !ord.GTDExpiry.After(now)) {
				total += ord.Remaining
			}
			if total >= o.Remaining {
				return false
			}
		}
		return true
	})
	return total
}

func (b *OrderBook) wouldCross(o *Order) bool {
	if o.Side == Buy {
		best := b.Asks.BestMin()
		return best != nil && o.Price >= best.Price
	}
	best := b.Bids.BestMax()
	return best != nil && o.Price <= best.Price
}

func (b *OrderBook) rest(o *Order) {
	b.treeFor(o.Side).GetOrCreate(o.Price).Enqueue(o)
	b.index[o.OrderID] = o
}

// Restore re-inserts an order that was already resting at snapshot
// time, skipping the matching walk entirely: a loaded snapshot is, by
// construction, a set of orders that already cleared the book against
// each other, so re-matching them would be both wasted work and wrong
// (they'd trade against each other a second time).
func (b *OrderBook) Restore(o *Order) {
	if o.CreatedSeq > b.LastSeq.Load() {
		b.LastSeq.Store(o.CreatedSeq)
	}
	b.rest(o)
}

func (b *OrderBook) treeFor(s Side) *RBTree {
	if s == Buy {
		return b.Bids
	}
	return b.Asks
}

func (b *OrderBook) levelFor(s Side, price int64) *PriceLevel {
	return b.treeFor(s).Find(price)
}

// priceMarketable reports whether a resting level at price is
// marketable against taker o. Market and StopMarket orders have no
// price guard; every other type stops once the level crosses its
// limit price.
func priceMarketable(o *Order, price int64) bool {
	if o.Type == Market || o.Type == StopMarket {
		return true
	}
	if o.Side == Buy {
		return price <= o.Price
	}
	return price >= o.Price
}

func bestOf(book *RBTree, takerSide Side) *PriceLevel {
	if takerSide == Buy {
		return book.BestMin()
	}
	return book.BestMax()
}

func opposite(s Side) Side {
	if s == Buy {
		return Sell
	}
	return Buy
}
