package bsdnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmgate/wazero-bsdnet/manager/addrs"
)

func TestGetAddrInfoAllocatesLinkedPair(t *testing.T) {
	i, mem := newTestImpl()
	alloc := newBumpAllocator(4096)
	ctx := context.Background()

	// Pointer 0 is NULL to the C-string reader, so the name lives above it.
	const namePtr, resultPtr = uint32(16), uint32(64)
	writeCString(t, mem, namePtr, "files.example.com")

	require.Equal(t, int32(0), i.getAddrInfo(ctx, mem, alloc, namePtr, resultPtr))
	require.Equal(t, 1, i.host.addrInfos.Len())

	infoPtr, ok := mem.ReadUint32Le(resultPtr)
	require.True(t, ok)

	// The addrinfo block links the sockaddr block, and the sockaddr holds
	// the translator's synthetic address for the name.
	sockaddrPtr, _ := mem.ReadUint32Le(infoPtr + addrInfoAddrOff)
	got, ok := readSockaddrIn(mem, sockaddrPtr)
	require.True(t, ok)
	assert.Equal(t, i.host.translator.Resolve("files.example.com"), got)

	family, _ := mem.ReadUint32Le(infoPtr + addrInfoFamilyOff)
	socktype, _ := mem.ReadUint32Le(infoPtr + addrInfoSockTypeOff)
	proto, _ := mem.ReadUint32Le(infoPtr + addrInfoProtocolOff)
	next, _ := mem.ReadUint32Le(infoPtr + addrInfoNextOff)
	assert.Equal(t, uint32(afInet), family)
	assert.Equal(t, uint32(sockStream), socktype)
	assert.Equal(t, uint32(ipprotoTCP), proto)
	assert.Equal(t, uint32(0), next)
}

func TestFreeAddrInfoReleasesBothBlocksOnce(t *testing.T) {
	i, mem := newTestImpl()
	alloc := newBumpAllocator(4096)
	ctx := context.Background()

	writeCString(t, mem, 16, "master.example.com")
	require.Equal(t, int32(0), i.getAddrInfo(ctx, mem, alloc, 16, 64))
	infoPtr, _ := mem.ReadUint32Le(64)

	require.Equal(t, int32(0), i.freeAddrInfo(ctx, alloc, infoPtr))
	assert.Len(t, alloc.freed, 2, "sockaddr and addrinfo blocks both released")
	assert.Equal(t, 0, i.host.addrInfos.Len())

	// Double free: reported, nothing released again.
	assert.Equal(t, -int32(errnoInval), i.freeAddrInfo(ctx, alloc, infoPtr))
	assert.Len(t, alloc.freed, 2)

	// freeaddrinfo(NULL) stays a no-op.
	assert.Equal(t, int32(0), i.freeAddrInfo(ctx, alloc, 0))
	assert.Len(t, alloc.freed, 2)
}

func TestGetAddrInfoPeerName(t *testing.T) {
	i, mem := newTestImpl()
	alloc := newBumpAllocator(4096)

	writeCString(t, mem, 16, "relay.7")
	require.Equal(t, int32(0), i.getAddrInfo(context.Background(), mem, alloc, 16, 64))

	infoPtr, _ := mem.ReadUint32Le(64)
	sockaddrPtr, _ := mem.ReadUint32Le(infoPtr + addrInfoAddrOff)
	got, ok := readSockaddrIn(mem, sockaddrPtr)
	require.True(t, ok)
	assert.Equal(t, [4]byte{101, 101, 0, 7}, got.IP)
}

func TestGetHostByNameResolves(t *testing.T) {
	i, mem := newTestImpl()

	writeCString(t, mem, 16, "files.example.com")
	require.Equal(t, int32(0), i.getHostByName(mem, 16))

	// connect can now reach the hostname through its synthetic address. The
	// expected address comes from a throwaway translator: the forward mapping
	// is a pure function of the name, and resolving on the host's own
	// translator would record the reverse mapping this test asserts.
	expected := addrs.NewTranslator().Resolve("files.example.com")
	host, ok := i.host.translator.HostFor(expected.IP)
	require.True(t, ok)
	assert.Equal(t, "files.example.com", host)
}
