package bsdnet

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wasmgate/wazero-bsdnet/abi"
	"github.com/wasmgate/wazero-bsdnet/manager/addrs"
)

// GetHostByName resolves a name through the translator. Every name
// resolves: peer targets land in the peer range, anything else gets a
// hashed hostname address, so the call only fails on a bad pointer.
func (i *netImpl) GetHostByName(_ context.Context, mod api.Module, namePtr uint32) int32 {
	return i.getHostByName(mod.Memory(), namePtr)
}

func (i *netImpl) getHostByName(mem api.Memory, namePtr uint32) int32 {
	name, ok := readCString(mem, namePtr)
	if !ok {
		return -errnoFault
	}
	i.host.translator.Resolve(name)
	return 0
}

// GetAddrInfo resolves the name, allocates a sockaddr block and an addrinfo
// block in guest memory, links them, and registers the pair so
// freeaddrinfo can release both in one call. The hints and service
// arguments are accepted and ignored; the result is always a single IPv4
// stream/TCP entry.
func (i *netImpl) GetAddrInfo(ctx context.Context, mod api.Module, namePtr, servicePtr, hintsPtr, resultPtr uint32) int32 {
	alloc, err := i.host.allocator(mod)
	if err != nil {
		i.host.logger.Warn("guest allocator unavailable", "error", err)
		return eaiMemory
	}
	return i.getAddrInfo(ctx, mod.Memory(), alloc, namePtr, resultPtr)
}

func (i *netImpl) getAddrInfo(ctx context.Context, mem api.Memory, alloc abi.Allocator, namePtr, resultPtr uint32) int32 {
	name, ok := readCString(mem, namePtr)
	if !ok {
		return -errnoFault
	}
	addr := i.host.translator.Resolve(name)

	sockaddrPtr, err := alloc.Allocate(ctx, sockaddrInSize)
	if err != nil {
		return eaiMemory
	}
	infoPtr, err := alloc.Allocate(ctx, addrInfoSize)
	if err != nil {
		_ = alloc.Free(ctx, sockaddrPtr)
		return eaiMemory
	}

	if !writeSockaddrIn(mem, sockaddrPtr, addr) || !writeAddrInfo(mem, infoPtr, sockaddrPtr) {
		_ = alloc.Free(ctx, sockaddrPtr)
		_ = alloc.Free(ctx, infoPtr)
		return -errnoFault
	}
	if !mem.WriteUint32Le(resultPtr, infoPtr) {
		_ = alloc.Free(ctx, sockaddrPtr)
		_ = alloc.Free(ctx, infoPtr)
		return -errnoFault
	}

	i.host.addrInfos.Insert(addrs.AddrInfoRecord{AddrPtr: sockaddrPtr, InfoPtr: infoPtr})
	return 0
}

// FreeAddrInfo releases the pair of blocks behind one getaddrinfo result,
// exactly once. An unknown or already-freed handle is reported as EINVAL
// and frees nothing, so a guest double free cannot corrupt its heap.
func (i *netImpl) FreeAddrInfo(ctx context.Context, mod api.Module, infoPtr uint32) int32 {
	alloc, err := i.host.allocator(mod)
	if err != nil {
		return -errnoInval
	}
	return i.freeAddrInfo(ctx, alloc, infoPtr)
}

func (i *netImpl) freeAddrInfo(ctx context.Context, alloc abi.Allocator, infoPtr uint32) int32 {
	if infoPtr == 0 {
		return 0 // freeaddrinfo(NULL) is a no-op
	}
	rec, ok := i.host.addrInfos.Pop(infoPtr)
	if !ok {
		return -errnoInval
	}
	if err := alloc.Free(ctx, rec.AddrPtr); err != nil {
		i.host.logger.Warn("free sockaddr block failed", "ptr", rec.AddrPtr, "error", err)
	}
	if err := alloc.Free(ctx, rec.InfoPtr); err != nil {
		i.host.logger.Warn("free addrinfo block failed", "ptr", rec.InfoPtr, "error", err)
	}
	return 0
}
