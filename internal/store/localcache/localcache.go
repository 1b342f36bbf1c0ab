// Package localcache durably tracks which (owner, token) balances the
// indexer has observed changing since the last successful auction build,
// so the solvable-orders cache can refetch exactly those balances instead
// of the full order set on every tick.
package localcache

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/shoalfin/auctioncore/internal/cache"
)

// Store is a pebble-backed durable set of dirty balance keys.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func dirtyKey(k cache.BalanceKey) []byte {
	return append([]byte("dirty:"), []byte(k.Owner.Hex()+":"+k.Token.Hex())...)
}

// MarkDirty records that key's balance may have changed on-chain and needs
// to be refetched before it's next trusted.
func (s *Store) MarkDirty(key cache.BalanceKey) error {
	if err := s.db.Set(dirtyKey(key), []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}
	return nil
}

// MarkDirtyBatch records several dirty keys in one batch write.
func (s *Store) MarkDirtyBatch(keys []cache.BalanceKey) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Set(dirtyKey(k), []byte{1}, nil); err != nil {
			return fmt.Errorf("batch set: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit dirty batch: %w", err)
	}
	return nil
}

// DirtyKeys returns every balance key currently marked dirty.
func (s *Store) DirtyKeys() ([]cache.BalanceKey, error) {
	prefix := []byte("dirty:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("new iter: %w", err)
	}
	defer iter.Close()

	var out []cache.BalanceKey
	for iter.First(); iter.Valid(); iter.Next() {
		key, err := parseDirtyKey(iter.Key())
		if err != nil {
			continue
		}
		out = append(out, key)
	}
	return out, iter.Error()
}

// Clear removes the dirty mark for every given key, called once the cache
// has successfully incorporated a fresh balance for each of them.
func (s *Store) Clear(keys []cache.BalanceKey) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete(dirtyKey(k), nil); err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit clear batch: %w", err)
	}
	return nil
}

// parseDirtyKey decodes keys written as "dirty:<owner-hex>:<token-hex>".
func parseDirtyKey(raw []byte) (cache.BalanceKey, error) {
	s := string(raw)
	const prefixLen = len("dirty:")
	const ownerLen = 42 // "0x" + 40 hex chars
	if len(s) <= prefixLen+ownerLen {
		return cache.BalanceKey{}, fmt.Errorf("malformed dirty key %q", s)
	}
	rest := s[prefixLen:]
	ownerHex := rest[:ownerLen]
	tokenHex := rest[ownerLen+1:]
	return cache.BalanceKey{
		Owner: common.HexToAddress(ownerHex),
		Token: common.HexToAddress(tokenHex),
	}, nil
}

func keyUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
