package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
)

// Writer persists book and ledger checkpoints under one directory.
// Each symbol's book gets its own file (engines are single-writer per
// symbol, so WriteBook must be called from that book's owning
// goroutine); the ledger is shared across symbols and gets one file,
// written independently via WriteLedger.
type Writer struct {
	Dir string
}

// BookPath returns where a symbol's book snapshot lives under dir.
// Exported so replay code can locate it without importing a *Writer.
func BookPath(dir, symbol string) string {
	return filepath.Join(dir, filenameFor(symbol)+".snapshot.bin")
}

// LedgerPath returns where the shared ledger snapshot lives under dir.
func LedgerPath(dir string) string {
	return filepath.Join(dir, "ledger.snapshot.bin")
}

// filenameFor sanitizes a symbol ("BTC/USD") into a safe filename
// component, since "/" would otherwise be read as a path separator.
func filenameFor(symbol string) string {
	out := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if r == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func (w *Writer) bookPath(symbol string) string {
	return BookPath(w.Dir, symbol)
}

func (w *Writer) ledgerPath() string {
	return LedgerPath(w.Dir)
}

func (w *Writer) writeAtomic(path string, v any) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteBook snapshots one symbol's resting orders at seq.
func (w *Writer) WriteBook(seq uint64, symbol string, book *orderbook.OrderBook) error {
	s := Snapshot{
		Seq:     seq,
		Created: time.Now(),
		Orders:  make([]OrderEntry, 0, 1024),
	}

	walkLevel := func(lvl *orderbook.PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			if o.Status.Terminal() {
				continue
			}
			s.Orders = append(s.Orders, OrderEntry{
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				UserID:        o.UserID,
				Symbol:        o.Symbol,
				Side:          int(o.Side),
				Type:          int(o.Type),
				TimeInForce:   int(o.TimeInForce),
				PostOnly:      o.PostOnly,
				ReduceOnly:    o.ReduceOnly,
				Price:         o.Price,
				StopPrice:     o.StopPrice,
				Qty:           o.Qty,
				Remaining:     o.Remaining,
				Filled:        o.Filled,
				QuoteBudget:   o.QuoteBudget,
				CreatedSeq:    o.CreatedSeq,
			})
		}
		return true
	}
	book.BidsWalk(walkLevel)
	book.AsksWalk(walkLevel)

	return w.writeAtomic(w.bookPath(symbol), &s)
}

// WriteLedger snapshots every (user, asset) balance at seq. Unlike
// WriteBook, this may be called from any goroutine: Ledger.AllBalances
// locks its own shards.
func (w *Writer) WriteLedger(seq uint64, led *ledger.Ledger) error {
	s := LedgerSnapshot{
		Seq:      seq,
		Created:  time.Now(),
		Balances: make([]BalanceEntry, 0, 256),
	}
	led.AllBalances(func(user uint64, asset string, b ledger.Balance) {
		s.Balances = append(s.Balances, BalanceEntry{
			User: user, Asset: asset, Available: b.Available, Reserved: b.Reserved,
		})
	})
	return w.writeAtomic(w.ledgerPath(), &s)
}
