package snapshot

import (
	"encoding/gob"
	"os"

	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/infra/memory"
)

// LoadBook restores a symbol's book from its snapshot file, if one
// exists, and returns the seq it was taken at (0, nil if no snapshot
// is on disk yet). The engine truncates WAL segments a snapshot
// covers, so once that has happened the snapshot is the only record
// of the orders resting at its seq.
func LoadBook(
	path string,
	book *orderbook.OrderBook,
	pool *memory.Pool[orderbook.Order],
) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return 0, err
	}

	for _, e := range s.Orders {
		o := pool.Get()
		*o = orderbook.Order{
			OrderID:       e.OrderID,
			ClientOrderID: e.ClientOrderID,
			UserID:        e.UserID,
			Symbol:        e.Symbol,
			Side:          orderbook.Side(e.Side),
			Type:          orderbook.OrderType(e.Type),
			TimeInForce:   orderbook.TimeInForce(e.TimeInForce),
			PostOnly:      e.PostOnly,
			ReduceOnly:    e.ReduceOnly,
			Price:         e.Price,
			StopPrice:     e.StopPrice,
			Qty:           e.Qty,
			Remaining:     e.Remaining,
			Filled:        e.Filled,
			QuoteBudget:   e.QuoteBudget,
			CreatedSeq:    e.CreatedSeq,
			Status:        orderbook.Open,
		}
		if e.Filled > 0 {
			o.Status = orderbook.PartiallyFilled
		}
		book.Restore(o)
	}

	return s.Seq, nil
}

// LoadLedger restores every (user, asset) balance from the shared
// ledger snapshot file, if one exists. Call this exactly once at
// startup, before any symbol's WAL replay runs — unlike LoadBook,
// it is not safe to call once per symbol, since the ledger is shared
// and a second call would double-credit every balance.
func LoadLedger(path string, led *ledger.Ledger) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	var s LedgerSnapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return 0, err
	}

	for _, b := range s.Balances {
		if b.Available > 0 {
			if err := led.Credit(b.User, b.Asset, b.Available); err != nil {
				return 0, err
			}
		}
		if b.Reserved > 0 {
			if err := led.Credit(b.User, b.Asset, b.Reserved); err != nil {
				return 0, err
			}
			if err := led.Reserve(b.User, b.Asset, b.Reserved); err != nil {
				return 0, err
			}
		}
	}

	return s.Seq, nil
}
