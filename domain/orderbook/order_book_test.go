package orderbook

import (
	"testing"
	"time"
)

func testSymbol() Symbol {
	return Symbol{Base: "BTC", Quote: "USD", PriceTick: 1, QtyStep: 1}
}

func newOrder(id, user uint64, side Side, typ OrderType, price, qty int64) *Order {
	return &Order{
		OrderID:    id,
		UserID:     user,
		Symbol:     "BTC/USD",
		Side:       side,
		Type:       typ,
		Price:      price,
		Qty:        qty,
		Remaining:  qty,
		CreatedSeq: id,
	}
}

func TestLimitOrderInsertAndMatch(t *testing.T) {
	book := NewOrderBook(testSymbol())
	book.Place(newOrder(1, 1, Sell, Limit, 100, 5))
	res := book.Place(newOrder(2, 2, Buy, Limit, 100, 5))

	if len(res.Trades) != 1 || res.Trades[0].Qty != 5 || res.Trades[0].Price != 100 {
		t.Fatalf("expected a single 5@100 trade, got %+v", res.Trades)
	}
	if book.Bids.Size() != 0 || book.Asks.Size() != 0 {
		t.Error("orders should have matched and book emptied")
	}
}

func TestPriceTimePriority(t *testing.T) {
	// Resting: Sell 1 @ 100 (X, seq 1), Sell 1 @ 100 (Y, seq 2).
	// Buy Market qty 1.5 arrives: fill 1 against X, 0.5 against Y.
	book := NewOrderBook(Symbol{Base: "BTC", Quote: "USD", PriceTick: 1, QtyStep: 1})
	x := newOrder(1, 10, Sell, Limit, 100, 10)
	y := newOrder(2, 11, Sell, Limit, 100, 10)
	book.Place(x)
	book.Place(y)

	taker := newOrder(3, 12, Buy, Market, 0, 15)
	res := book.Place(taker)

	if len(res.Trades) != 2 {
		t.Fatalf("expected two trades, got %d", len(res.Trades))
	}
	if res.Trades[0].MakerOrderID != x.OrderID || res.Trades[1].MakerOrderID != y.OrderID {
		t.Error("expected fills in arrival order (X before Y)")
	}
	if res.Trades[0].Qty != 10 || res.Trades[1].Qty != 5 {
		t.Errorf("unexpected split: %+v", res.Trades)
	}
	if y.Remaining != 5 {
		t.Errorf("expected Y to have 5 remaining, got %d", y.Remaining)
	}
}

func TestPostOnlyRejection(t *testing.T) {
	book := NewOrderBook(testSymbol())
	book.Place(newOrder(1, 1, Sell, Limit, 99, 5))

	taker := newOrder(2, 2, Buy, Limit, 100, 5)
	taker.PostOnly = true
	res := book.Place(taker)

	if !res.Rejected || res.RejectReason != ErrWouldCross {
		t.Fatalf("expected WouldCross rejection, got %+v", res)
	}
	if len(res.Trades) != 0 {
		t.Error("post-only rejection must never trade")
	}
	if taker.Status != Rejected {
		t.Errorf("expected Rejected status, got %s", taker.Status)
	}
}

func TestIOCPartialThenCancel(t *testing.T) {
	book := NewOrderBook(testSymbol())
	book.Place(newOrder(1, 1, Sell, Limit, 100, 1))

	taker := newOrder(2, 2, Buy, IOC, 100, 2)
	res := book.Place(taker)

	if len(res.Trades) != 1 || res.Trades[0].Qty != 1 {
		t.Fatalf("expected one trade of qty 1, got %+v", res.Trades)
	}
	if taker.Status != Cancelled || taker.Filled != 1 {
		t.Errorf("expected Cancelled with filled=1, got status=%s filled=%d", taker.Status, taker.Filled)
	}
	if book.Bids.Size() != 0 {
		t.Error("IOC remainder must never rest")
	}
}

func TestFOKFailsAtomically(t *testing.T) {
	book := NewOrderBook(testSymbol())
	book.Place(newOrder(1, 1, Sell, Limit, 100, 1))

	taker := newOrder(2, 2, Buy, FOK, 100, 2)
	res := book.Place(taker)

	if len(res.Trades) != 0 {
		t.Errorf("FOK that cannot fully fill must produce zero trades, got %+v", res.Trades)
	}
	if !res.Rejected || res.RejectReason != ErrWouldNotFill {
		t.Fatalf("expected WouldNotFill rejection, got %+v", res)
	}
	if taker.Status != Rejected {
		t.Errorf("expected Rejected status, got %s", taker.Status)
	}
}

func TestSelfTradePrevention(t *testing.T) {
	book := NewOrderBook(testSymbol())
	maker := newOrder(1, 42, Sell, Limit, 100, 5)
	book.Place(maker)

	taker := newOrder(2, 42, Buy, Limit, 100, 5)
	res := book.Place(taker)

	if len(res.Trades) != 0 {
		t.Errorf("expected no trade between same user's orders, got %+v", res.Trades)
	}
	if maker.Status != Cancelled {
		t.Errorf("expected maker cancelled by self-trade prevention, got %s", maker.Status)
	}
	found := false
	for _, oc := range res.Orders {
		if oc.Order == maker && oc.SelfTradePrevented {
			found = true
		}
	}
	if !found {
		t.Error("expected a SelfTradePrevented outcome for the maker")
	}
	// taker should now rest since the crossing maker was removed, not traded.
	if book.Bids.Size() != 1 {
		t.Error("taker should rest after its only counterparty was self-trade-cancelled")
	}
}

func TestCancelRacesFill(t *testing.T) {
	book := NewOrderBook(testSymbol())
	resting := newOrder(1, 1, Buy, Limit, 100, 5)
	book.Place(resting)
	book.Place(newOrder(2, 2, Sell, Limit, 100, 5))

	res, err := book.Cancel(resting.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Orders[0].Order.Status != Filled {
		t.Errorf("cancel racing a fill must return the terminal status, got %s", res.Orders[0].Order.Status)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	book := NewOrderBook(testSymbol())
	if _, err := book.Cancel(999); err != ErrUnknownOrder {
		t.Errorf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestNonCrossedBookInvariant(t *testing.T) {
	book := NewOrderBook(testSymbol())
	book.Place(newOrder(1, 1, Buy, Limit, 99, 5))
	book.Place(newOrder(2, 2, Sell, Limit, 101, 5))

	bidPrice, _, hasBid := book.BestBid()
	askPrice, _, hasAsk := book.BestAsk()
	if hasBid && hasAsk && bidPrice >= askPrice {
		t.Errorf("book crossed: bid=%d ask=%d", bidPrice, askPrice)
	}
}

func TestMarketBuyBudgetBound(t *testing.T) {
	book := NewOrderBook(testSymbol())
	book.Place(newOrder(1, 1, Sell, Limit, 100, 10))

	taker := newOrder(2, 2, Buy, Market, 0, 10)
	taker.QuoteBudget = 550 // affords 5 units at price 100
	res := book.Place(taker)

	if len(res.Trades) != 1 || res.Trades[0].Qty != 5 {
		t.Fatalf("expected a single 5-unit trade bounded by budget, got %+v", res.Trades)
	}
}

func TestGTDExpiryEvictsRestingOrderAtHeadOfQueue(t *testing.T) {
	book := NewOrderBook(testSymbol())
	resting := newOrder(1, 1, Sell, Limit, 100, 5)
	resting.GTDExpiry = time.Unix(1000, 0)
	book.Place(resting)

	taker := newOrder(2, 2, Buy, Limit, 100, 5)
	res := book.PlaceAt(taker, time.Unix(2000, 0))

	if len(res.Trades) != 0 {
		t.Fatalf("expired resting order must not trade, got %+v", res.Trades)
	}
	var sawExpired bool
	for _, oc := range res.Orders {
		if oc.Order.OrderID == resting.OrderID && oc.Order.Status == Expired {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Fatalf("expected resting order to be reported Expired, got %+v", res.Orders)
	}
	if book.Asks.Size() != 0 {
		t.Error("expired order should have been removed from the book")
	}
	// The taker itself never expired and nothing else was resting, so
	// it now rests alone at the top of an empty book.
	if taker.Status != Open {
		t.Errorf("expected taker to rest after the only maker expired, got %s", taker.Status)
	}
}
