package abi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Allocator reserves and releases blocks of guest linear memory. The
// production implementation calls back into the guest; tests substitute a
// bump allocator over a fake memory.
type Allocator interface {
	Allocate(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr uint32) error
}

// GuestAllocator manages memory allocation within the Wasm guest.
// It requires the guest to export the C allocator pair `malloc`/`free`.
type GuestAllocator struct {
	malloc api.Function
	free   api.Function
}

// NewGuestAllocator creates an allocator from the guest's `malloc` and
// `free` exports.
func NewGuestAllocator(module api.Module) (*GuestAllocator, error) {
	malloc := module.ExportedFunction("malloc")
	if malloc == nil {
		return nil, fmt.Errorf("guest module must export `malloc`")
	}
	free := module.ExportedFunction("free")
	if free == nil {
		return nil, fmt.Errorf("guest module must export `free`")
	}
	return &GuestAllocator{malloc: malloc, free: free}, nil
}

// Allocate reserves a block of memory in the guest.
func (a *GuestAllocator) Allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := a.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("guest malloc(%d) failed: %w", size, err)
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest malloc(%d) returned NULL", size)
	}
	return ptr, nil
}

// Free releases a block of memory in the guest.
func (a *GuestAllocator) Free(ctx context.Context, ptr uint32) error {
	if _, err := a.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("guest free(0x%x) failed: %w", ptr, err)
	}
	return nil
}
