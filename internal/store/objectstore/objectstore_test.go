package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectNameIsStablePerAuction(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "auctions/42.json", objectName(42))
	assert.NotEqual(t, objectName(1), objectName(2))
}
