package bytespool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocReturnsAtLeastRequestedSize(t *testing.T) {
	for _, size := range []int32{1, 100, MinPoolSize - 1, MinPoolSize, MinPoolSize + 1, 65536} {
		b := Alloc(size)
		assert.GreaterOrEqual(t, len(b), int(size), "size %d", size)
		Free(b)
	}
}

func TestGetPoolBounds(t *testing.T) {
	assert.NotNil(t, GetPool(MinPoolSize))
	assert.NotNil(t, GetPool(1))
	// Beyond the largest pool there is nothing to reuse.
	assert.Nil(t, GetPool(MinPoolSize<<numPools))
}

func TestFreeIgnoresSmallSlices(t *testing.T) {
	// Must not panic or pollute a pool with an undersized buffer.
	Free(make([]byte, 16))
	b := Alloc(MinPoolSize)
	assert.GreaterOrEqual(t, len(b), MinPoolSize)
}
