package tokenquality

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDeniedShortCircuitsOnStaticDenylist(t *testing.T) {
	t.Parallel()

	bad := common.HexToAddress("0x00000000000000000000000000000000000bad")
	c := New(nil, []common.Address{bad})

	denied, err := c.IsDenied(context.Background(), bad)
	require.NoError(t, err)
	assert.True(t, denied)
}

func TestIsDeniedDoesNotCacheStaticDenylistVerdict(t *testing.T) {
	t.Parallel()

	bad := common.HexToAddress("0x00000000000000000000000000000000000bad")
	c := New(nil, []common.Address{bad})

	_, err := c.IsDenied(context.Background(), bad)
	require.NoError(t, err)

	c.mu.Lock()
	_, cached := c.cache[bad]
	c.mu.Unlock()
	// Statically denylisted tokens short-circuit before ever entering the
	// probe cache.
	assert.False(t, cached)
}
