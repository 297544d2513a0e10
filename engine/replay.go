package engine

import (
	"fmt"
	"time"

	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/infra/memory"
	"clobcore/infra/wal/entry"
	"clobcore/snapshot"
)

// Bootstrap restores this engine's book to where it was before the
// last shutdown: first the snapshot (if one exists), then every WAL
// record after the snapshot's seq. It must run before Run is started
// and before the gateway can dispatch any Task — nothing else may
// touch the book concurrently while this runs.
//
// Only RecordPlace and RecordCancel are replayed. RecordMatch is not:
// replaying a Place runs it through the same deterministic matching
// walk that produced the original trades, so the trades and the
// resulting book state come back identical without replaying them a
// second time. RecordSnapshot is a marker only; the snapshot itself
// was already loaded above.
func (e *Engine) Bootstrap(snapDir, walDir string, pool *memory.Pool[orderbook.Order]) (uint64, error) {
	snapSeq, err := snapshot.LoadBook(snapshot.BookPath(snapDir, e.Symbol.String()), e.book, pool)
	if err != nil {
		return 0, fmt.Errorf("engine: load snapshot for %s: %w", e.Symbol, err)
	}

	lastSeq, err := entry.Replay(walDir, func(rec *entry.Record) error {
		if rec.Seq <= snapSeq {
			return nil
		}
		switch rec.Type {
		case entry.RecordPlace:
			return e.replayPlace(rec)
		case entry.RecordCancel:
			return e.replayCancel(rec)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("engine: replay WAL for %s: %w", e.Symbol, err)
	}

	if snapSeq > lastSeq {
		lastSeq = snapSeq
	}
	return lastSeq, nil
}

func (e *Engine) replayPlace(rec *entry.Record) error {
	p, err := entry.DecodePlacePayload(rec.Data)
	if err != nil {
		return fmt.Errorf("decode place payload at seq %d: %w", rec.Seq, err)
	}
	o := &orderbook.Order{
		OrderID:       p.OrderID,
		ClientOrderID: p.ClientOrderID,
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Side:          orderbook.Side(p.Side),
		Type:          orderbook.OrderType(p.Type),
		TimeInForce:   orderbook.TimeInForce(p.TimeInForce),
		PostOnly:      p.PostOnly,
		ReduceOnly:    p.ReduceOnly,
		Price:         p.Price,
		StopPrice:     p.StopPrice,
		Qty:           p.Qty,
		Remaining:     p.Qty,
		QuoteBudget:   p.QuoteBudget,
		CreatedSeq:    p.CreatedSeq,
	}
	if p.GTDExpiry != 0 {
		o.GTDExpiry = time.Unix(0, p.GTDExpiry)
	}

	if p.ReserveAmount > 0 {
		e.reservations[o.OrderID] = &reservation{user: p.UserID, asset: p.ReserveAsset, remaining: p.ReserveAmount}
	}

	// Reusing the record's own original timestamp, not the restart's
	// wall clock, keeps a GTD order's expiry check identical to what
	// the original run saw.
	res := e.book.PlaceAt(o, time.Unix(0, rec.Time))

	// Replaying a Place re-runs the same matching walk that produced the
	// original trades, so each trade here consumed reservation the same
	// way settleTrade did the first time around. The ledger itself is
	// not touched again — its balances already came back from its own
	// durable store — only this engine's in-memory reservation
	// bookkeeping needs to catch up.
	for _, t := range res.Trades {
		e.replayDebitReservation(t)
	}
	for _, oc := range res.Orders {
		if oc.Order.Status.Terminal() {
			delete(e.reservations, oc.Order.OrderID)
		}
	}
	if res.Rejected {
		delete(e.reservations, o.OrderID)
	}
	return nil
}

func (e *Engine) replayDebitReservation(trade orderbook.Trade) {
	notional := trade.Price * trade.Qty
	takerFee := ledger.Fee(notional, e.Symbol.TakerFeeRateBps, e.Symbol.PriceTick)
	makerFee := ledger.Fee(notional, e.Symbol.MakerFeeRateBps, e.Symbol.PriceTick)

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
}

func (e *Engine) replayCancel(rec *entry.Record) error {
	c, err := entry.DecodeCancelPayload(rec.Data)
	if err != nil {
		return fmt.Errorf("decode cancel payload at seq %d: %w", rec.Seq, err)
	}
	_, err = e.book.Cancel(c.OrderID)
	if err != nil && err != orderbook.ErrUnknownOrder {
		return err
	}
	delete(e.reservations, c.OrderID)
	return nil
}
