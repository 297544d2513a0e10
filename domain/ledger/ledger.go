// Package ledger holds per-(user, asset) balances and the atomic
// operations the matching core settles trades through. Reservation at
// order submission and settlement at match time are always
// single-asset per call; only Settle ever touches more than one
// balance, and it does so under a total lock order to avoid deadlock
// (see Settle).
package ledger

import (
	"fmt"
	"sort"
	"sync"
)

const shardCount = 256

// FeeAccount is the synthetic user fees settle into. It is never a
// real trading participant.
const FeeAccount uint64 = 0

type shard struct {
	mu       sync.Mutex
	balances map[key]*Balance
}

// Ledger is shared across every symbol's matching task. Each
// (user, asset) pair is guarded by one of a fixed number of shards
// rather than a single global lock, so unrelated settlements never
// contend.
type Ledger struct {
	shards [shardCount]*shard
	store  *Store
}

func New(store *Store) (*Ledger, error) {
	l := &Ledger{store: store}
	for i := range l.shards {
		l.shards[i] = &shard{balances: make(map[key]*Balance)}
	}
	if store != nil {
		loaded, err := store.LoadAllBalances()
		if err != nil {
			return nil, fmt.Errorf("ledger: warm start: %w", err)
		}
		for k, b := range loaded {
			bb := b
			l.shardFor(k).balances[k] = &bb
		}
	}
	return l, nil
}

func (l *Ledger) shardFor(k key) *shard {
	return l.shards[l.shardIndexFor(k)]
}

func (l *Ledger) shardIndexFor(k key) uint32 {
	return fnv1a(k.User, k.Asset) % shardCount
}

func fnv1a(user uint64, asset string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < 8; i++ {
		h ^= uint32(user >> (8 * i) & 0xff)
		h *= 16777619
	}
	for i := 0; i < len(asset); i++ {
		h ^= uint32(asset[i])
		h *= 16777619
	}
	return h
}

func (l *Ledger) entry(s *shard, k key) *Balance {
	b, ok := s.balances[k]
	if !ok {
		b = &Balance{}
		s.balances[k] = b
	}
	return b
}

func (l *Ledger) persist(k key, b Balance) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveBalance(k.User, k.Asset, b); err != nil {
		// Durability failure does not unwind the in-memory mutation: the
		// in-memory ledger remains the source of truth for the running
		// process. The error is dropped, not retried; balances are
		// reloaded from this store at startup and WAL replay does not
		// rebuild them, so a write lost here is not recovered.
		_ = err
	}
}

// AllBalances returns every (user, asset) balance currently held,
// across all shards. Used by the snapshot writer; callers only need a
// consistent-enough view for a periodic durability checkpoint, not a
// transactional one, so shards are visited one at a time rather than
// under a single global lock.
func (l *Ledger) AllBalances(fn func(user uint64, asset string, b Balance)) {
	for _, s := range l.shards {
		s.mu.Lock()
		for k, b := range s.balances {
			fn(k.User, k.Asset, *b)
		}
		s.mu.Unlock()
	}
}

// Balance returns a snapshot of the user's balance in asset.
func (l *Ledger) Balance(user uint64, asset string) Balance {
	k := key{User: user, Asset: asset}
	s := l.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	return *l.entry(s, k)
}

// Reserve moves amount from available to reserved, failing with
// ErrInsufficientFunds if the user does not have enough available.
// Single-asset, called by the Gateway at order submission.
func (l *Ledger) Reserve(user uint64, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	k := key{User: user, Asset: asset}
	s := l.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := l.entry(s, k)
	if b.Available < amount {
		return ErrInsufficientFunds
	}
	b.Available -= amount
	b.Reserved += amount
	l.persist(k, *b)
	return nil
}

// Release moves amount back from reserved to available: a cancel, a
// rejection, or the unused portion of a partially-filled reservation.
// It fails with ErrInconsistent if reserved < amount — the caller's
// own reservation bookkeeping should never ask to release more than
// was ever reserved.
func (l *Ledger) Release(user uint64, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	k := key{User: user, Asset: asset}
	s := l.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := l.entry(s, k)
	if b.Reserved < amount {
		return ErrInconsistent
	}
	b.Reserved -= amount
	b.Available += amount
	l.persist(k, *b)
	return nil
}

// Credit adds amount to the user's available balance — deposits and
// other collaborator-driven inflows outside the matching critical
// section.
func (l *Ledger) Credit(user uint64, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	k := key{User: user, Asset: asset}
	s := l.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := l.entry(s, k)
	b.Available += amount
	l.persist(k, *b)
	return nil
}

// Debit removes amount from the user's available balance — withdrawals.
func (l *Ledger) Debit(user uint64, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	k := key{User: user, Asset: asset}
	s := l.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := l.entry(s, k)
	if b.Available < amount {
		return ErrInsufficientFunds
	}
	b.Available -= amount
	l.persist(k, *b)
	return nil
}

// Trade is the settlement-relevant projection of a matched trade: a
// buy taker debits quote reserved and credits base available; a sell
// maker debits base reserved and credits quote available; the fee
// account credits both fee legs. The engine builds this from the
// orderbook.Trade its Book produced plus the fees the ledger's own Fee
// function computes.
type Trade struct {
	BaseAsset  string
	QuoteAsset string
	Price      int64
	Qty        int64

	TakerUser uint64
	MakerUser uint64
	TakerSide string // "buy" or "sell", from the taker's perspective

	TakerFee int64
	MakerFee int64
}

// Settle applies a single matched trade atomically: the taker and
// maker's reserved/available balances move, and both fees accrue to
// FeeAccount. Two users and up to two assets are touched; the distinct
// shards those balances live in are locked in ascending shard-index
// order, which makes two-asset settlement deadlock-free regardless of
// which side initiated the lock first.
func (l *Ledger) Settle(t Trade) error {
	notional := t.Price * t.Qty
	isBuyTaker := t.TakerSide == "buy"

	type mutation struct {
		k              key
		reservedDelta  int64 // subtracted from Reserved
		availableDelta int64 // added to Available
	}

	var muts []mutation
	if isBuyTaker {
		muts = []mutation{
			{key{t.TakerUser, t.QuoteAsset}, notional + t.TakerFee, 0},
			{key{t.TakerUser, t.BaseAsset}, 0, t.Qty},
			{key{t.MakerUser, t.BaseAsset}, t.Qty, 0},
			{key{t.MakerUser, t.QuoteAsset}, 0, notional - t.MakerFee},
			{key{FeeAccount, t.QuoteAsset}, 0, t.TakerFee + t.MakerFee},
		}
	} else {
		muts = []mutation{
			{key{t.TakerUser, t.BaseAsset}, t.Qty, 0},
			{key{t.TakerUser, t.QuoteAsset}, 0, notional - t.TakerFee},
			{key{t.MakerUser, t.QuoteAsset}, notional + t.MakerFee, 0},
			{key{t.MakerUser, t.BaseAsset}, 0, t.Qty},
			{key{FeeAccount, t.QuoteAsset}, 0, t.TakerFee + t.MakerFee},
		}
	}

	// Two distinct (user, asset) keys can hash to the same shard, so
	// sorting the mutation keys and locking shards in first-touch order
	// of that list does not give a consistent order over the shards
	// themselves: two concurrent Settle calls touching different keys
	// that happen to collide on shard membership could still acquire a
	// shared pair of shards in opposite order and deadlock. Locking must
	// order the distinct shard indices directly.
	seen := make(map[uint32]bool, len(muts))
	var idxs []uint32
	for _, m := range muts {
		idx := l.shardIndexFor(m.k)
		if !seen[idx] {
			seen[idx] = true
			idxs = append(idxs, idx)
		}
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	for _, idx := range idxs {
		l.shards[idx].mu.Lock()
	}
	defer func() {
		for i := len(idxs) - 1; i >= 0; i-- {
			l.shards[idxs[i]].mu.Unlock()
		}
	}()

	persisted := make(map[key]Balance, len(muts))
	for _, m := range muts {
		s := l.shardFor(m.k)
		b := l.entry(s, m.k)
		if m.reservedDelta > 0 && b.Reserved < m.reservedDelta {
			return fmt.Errorf("%w: user %d asset %s: reserved %d < %d",
				ErrInconsistent, m.k.User, m.k.Asset, b.Reserved, m.reservedDelta)
		}
		b.Reserved -= m.reservedDelta
		b.Available += m.availableDelta
		persisted[m.k] = *b
	}

	if l.store != nil {
		if err := l.store.SaveBalances(persisted); err != nil {
			_ = err // see persist: in-memory state remains authoritative; the failed write is not retried
		}
	}
	return nil
}
