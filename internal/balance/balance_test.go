package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErc20ABIPacksBalanceOfAndAllowance(t *testing.T) {
	t.Parallel()

	_, ok := erc20ABI.Methods["balanceOf"]
	assert.True(t, ok)
	_, ok = erc20ABI.Methods["allowance"]
	assert.True(t, ok)
}
