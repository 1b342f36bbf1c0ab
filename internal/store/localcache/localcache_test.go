package localcache

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/internal/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "dirty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMarkDirtyAndDirtyKeysRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	key := cache.BalanceKey{
		Owner: common.HexToAddress("0x00000000000000000000000000000000000001"),
		Token: common.HexToAddress("0x00000000000000000000000000000000000002"),
	}
	require.NoError(t, s.MarkDirty(key))

	keys, err := s.DirtyKeys()
	require.NoError(t, err)
	assert.Equal(t, []cache.BalanceKey{key}, keys)
}

func TestMarkDirtyBatchAndClear(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	keys := []cache.BalanceKey{
		{
			Owner: common.HexToAddress("0x00000000000000000000000000000000000001"),
			Token: common.HexToAddress("0x00000000000000000000000000000000000002"),
		},
		{
			Owner: common.HexToAddress("0x00000000000000000000000000000000000003"),
			Token: common.HexToAddress("0x00000000000000000000000000000000000004"),
		},
	}
	require.NoError(t, s.MarkDirtyBatch(keys))

	got, err := s.DirtyKeys()
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.Clear(keys))
	got, err = s.DirtyKeys()
	require.NoError(t, err)
	assert.Empty(t, got)
}
