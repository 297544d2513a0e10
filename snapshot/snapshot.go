package snapshot

import "time"

// Snapshot is a point-in-time capture of a symbol's resting orders,
// taken at Seq (the highest WAL seq reflected for that symbol).
// Replay starts from LoadBook's return value and only needs WAL records
// after it.
type Snapshot struct {
	Seq     uint64
	Created time.Time
	Orders  []OrderEntry
}

// LedgerSnapshot is the ledger's half of a checkpoint: every (user,
// asset) balance as of Seq. It is written and loaded independently of
// any one symbol's book snapshot, since the ledger is shared across
// all symbols — restoring it once, rather than once per symbol, is
// what keeps LoadLedger from double-crediting.
type LedgerSnapshot struct {
	Seq      uint64
	Created  time.Time
	Balances []BalanceEntry
}

// OrderEntry is the durable projection of a resting orderbook.Order:
// enough to reconstruct it and re-insert it into the book on Load.
type OrderEntry struct {
	OrderID       uint64
	ClientOrderID string
	UserID        uint64
	Symbol        string
	Side          int
	Type          int
	TimeInForce   int
	PostOnly      bool
	ReduceOnly    bool
	Price         int64
	StopPrice     int64
	Qty           int64
	Remaining     int64
	Filled        int64
	QuoteBudget   int64
	CreatedSeq    uint64
}

// BalanceEntry is one (user, asset) ledger row.
type BalanceEntry struct {
	User      uint64
	Asset     string
	Available int64
	Reserved  int64
}
