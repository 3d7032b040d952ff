// Package bytespool pools the scratch buffers used when moving payload
// bytes between guest memory and host-side stream buffers.
package bytespool

import "sync"

func createAllocFunc(size int32) func() any {
	return func() any {
		return make([]byte, size)
	}
}

// There are numPools pools. Starting from MinPoolSize, each pool holds
// buffers sizeMulti times larger than the previous one. Reads larger than
// the largest pool fall back to plain allocation. The floor sits at 512:
// guests read responses in chunks from a few hundred bytes up to a few
// kilobytes, and buffers below the floor are cheap enough to allocate
// directly.
const (
	numPools    = 6
	sizeMulti   = 2
	MinPoolSize = 512
)

var (
	pool     [numPools]sync.Pool
	poolSize [numPools]int32
)

func init() {
	size := int32(MinPoolSize)
	for i := range numPools {
		pool[i] = sync.Pool{
			New: createAllocFunc(size),
		}
		poolSize[i] = size
		size *= sizeMulti
	}
}

// GetPool returns a sync.Pool that generates byte slices with at least the
// given size. It may return nil if no such pool exists.
func GetPool(size int32) *sync.Pool {
	for idx, ps := range poolSize {
		if size <= ps {
			return &pool[idx]
		}
	}
	return nil
}

// Alloc returns a byte slice with at least the given size.
// It tries to get the slice from internal pools for sizes larger than MinPoolSize.
func Alloc(size int32) []byte {
	if size >= MinPoolSize {
		pool := GetPool(size)
		if pool != nil {
			return pool.Get().([]byte)
		}
	}
	return make([]byte, size)
}

// Free puts a byte slice back into the internal pool.
// Slices smaller than MinPoolSize are ignored.
func Free(b []byte) {
	size := int32(cap(b))
	if size < MinPoolSize {
		return
	}
	for i := numPools - 1; i >= 0; i-- {
		if size >= poolSize[i] {
			pool[i].Put(b[0:size])
			return
		}
	}
}
