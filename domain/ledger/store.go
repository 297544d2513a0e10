package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
)

// Store is the durable side of the ledger: every mutation the Ledger
// applies in memory is mirrored here before the call returns, so a
// restart can reload balances without replaying the entire WAL.
type Store struct {
	db *pebble.DB
}

func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		BytesPerSync: 512 << 10,
		MaxOpenFiles: 500,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// keys: bal:<userID>:<asset>
func balanceKey(user uint64, asset string) []byte {
	return []byte(fmt.Sprintf("bal:%020d:%s", user, asset))
}

func balancePrefix(user uint64) []byte {
	return []byte(fmt.Sprintf("bal:%020d:", user))
}

func (s *Store) SaveBalance(user uint64, asset string, b Balance) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("ledger: marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(user, asset), data, pebble.Sync); err != nil {
		return fmt.Errorf("ledger: save balance: %w", err)
	}
	return nil
}

// SaveBalances persists a batch of balances in a single Pebble batch so
// a settle's five-balance mutation lands durably as one write.
func (s *Store) SaveBalances(entries map[key]Balance) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for k, b := range entries {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("ledger: marshal balance: %w", err)
		}
		if err := batch.Set(balanceKey(k.User, k.Asset), data, nil); err != nil {
			return fmt.Errorf("ledger: batch balance: %w", err)
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) LoadBalance(user uint64, asset string) (Balance, bool, error) {
	data, closer, err := s.db.Get(balanceKey(user, asset))
	if err == pebble.ErrNotFound {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("ledger: load balance: %w", err)
	}
	defer closer.Close()

	var b Balance
	if err := json.Unmarshal(data, &b); err != nil {
		return Balance{}, false, fmt.Errorf("ledger: unmarshal balance: %w", err)
	}
	return b, true, nil
}

// LoadAllBalances reloads every (user, asset) balance in the store, for
// warming the Ledger's in-memory shards at startup.
func (s *Store) LoadAllBalances() (map[key]Balance, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("bal:"),
		UpperBound: []byte("bal;"), // ';' == ':' + 1
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: iterate balances: %w", err)
	}
	defer iter.Close()

	out := make(map[key]Balance)
	for iter.First(); iter.Valid(); iter.Next() {
		k, ok := parseBalanceKey(iter.Key())
		if !ok {
			continue
		}
		var b Balance
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue
		}
		out[k] = b
	}
	return out, nil
}

func parseBalanceKey(raw []byte) (key, bool) {
	s := string(raw)
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "bal" {
		return key{}, false
	}
	user, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return key{}, false
	}
	return key{User: user, Asset: parts[2]}, true
}

// LoadUserBalances returns every asset balance held by a single user,
// keyed by asset.
func (s *Store) LoadUserBalances(user uint64) (map[string]Balance, error) {
	prefix := balancePrefix(user)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte{}, prefix...), 0xff),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: iterate user balances: %w", err)
	}
	defer iter.Close()

	out := make(map[string]Balance)
	for iter.First(); iter.Valid(); iter.Next() {
		k, ok := parseBalanceKey(iter.Key())
		if !ok {
			continue
		}
		var b Balance
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue
		}
		out[k.Asset] = b
	}
	return out, nil
}
