package bsdnet

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmgate/wazero-bsdnet/manager/sockets"
)

// guestMemory implements api.Memory over a plain byte slice so the
// syscall-shaped functions can be exercised without a wasm binary. The
// interface is sealed by an unexported marker method; embedding a nil
// api.Memory satisfies it, and every method actually called is overridden
// below.
type guestMemory struct {
	api.Memory

	data []byte
}

func newGuestMemory(size uint32) *guestMemory {
	return &guestMemory{data: make([]byte, size)}
}

func (m *guestMemory) Definition() api.MemoryDefinition { return nil }
func (m *guestMemory) Size() uint32                     { return uint32(len(m.data)) }

func (m *guestMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.data)) / 65536
	m.data = append(m.data, make([]byte, deltaPages*65536)...)
	return prev, true
}

func (m *guestMemory) in(offset, count uint32) bool {
	return uint64(offset)+uint64(count) <= uint64(len(m.data))
}

func (m *guestMemory) ReadByte(offset uint32) (byte, bool) {
	if !m.in(offset, 1) {
		return 0, false
	}
	return m.data[offset], true
}

func (m *guestMemory) ReadUint16Le(offset uint32) (uint16, bool) {
	if !m.in(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), true
}

func (m *guestMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.in(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), true
}

func (m *guestMemory) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(offset)
	return math.Float32frombits(v), ok
}

func (m *guestMemory) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.in(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), true
}

func (m *guestMemory) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	return math.Float64frombits(v), ok
}

func (m *guestMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.in(offset, byteCount) {
		return nil, false
	}
	return m.data[offset : offset+byteCount : offset+byteCount], true
}

func (m *guestMemory) WriteByte(offset uint32, v byte) bool {
	if !m.in(offset, 1) {
		return false
	}
	m.data[offset] = v
	return true
}

func (m *guestMemory) WriteUint16Le(offset uint32, v uint16) bool {
	if !m.in(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.data[offset:], v)
	return true
}

func (m *guestMemory) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.in(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.data[offset:], v)
	return true
}

func (m *guestMemory) WriteFloat32Le(offset uint32, v float32) bool {
	return m.WriteUint32Le(offset, math.Float32bits(v))
}

func (m *guestMemory) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.in(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.data[offset:], v)
	return true
}

func (m *guestMemory) WriteFloat64Le(offset uint32, v float64) bool {
	return m.WriteUint64Le(offset, math.Float64bits(v))
}

func (m *guestMemory) Write(offset uint32, v []byte) bool {
	if !m.in(offset, uint32(len(v))) {
		return false
	}
	copy(m.data[offset:], v)
	return true
}

func (m *guestMemory) WriteString(offset uint32, v string) bool {
	return m.Write(offset, []byte(v))
}

// bumpAllocator hands out guest memory sequentially and records frees, so
// tests can assert exactly-once release.
type bumpAllocator struct {
	next  uint32
	freed []uint32
}

func newBumpAllocator(base uint32) *bumpAllocator {
	return &bumpAllocator{next: base}
}

func (a *bumpAllocator) Allocate(_ context.Context, size uint32) (uint32, error) {
	ptr := a.next
	a.next += size
	return ptr, nil
}

func (a *bumpAllocator) Free(_ context.Context, ptr uint32) error {
	a.freed = append(a.freed, ptr)
	return nil
}

// writeCString places a NUL-terminated string at ptr.
func writeCString(t *testing.T, mem *guestMemory, ptr uint32, s string) {
	t.Helper()
	require.True(t, mem.Write(ptr, append([]byte(s), 0)))
}

func TestSockaddrInRoundTrip(t *testing.T) {
	mem := newGuestMemory(64)
	in := sockets.Addr{IP: [4]byte{101, 101, 4, 57}, Port: 27015}

	require.True(t, writeSockaddrIn(mem, 8, in))
	out, ok := readSockaddrIn(mem, 8)
	require.True(t, ok)
	assert.Equal(t, in, out)

	// Fixed field placement, not just round-trip symmetry.
	family, _ := mem.ReadUint16Le(8 + sockaddrFamilyOff)
	assert.Equal(t, uint16(afInet), family)
	raw, _ := mem.Read(8+sockaddrPortOff, 2)
	assert.Equal(t, uint16(27015), binary.BigEndian.Uint16(raw))
	octets, _ := mem.Read(8+sockaddrAddrOff, 4)
	assert.Equal(t, []byte{101, 101, 4, 57}, octets)
}

func TestReadSockaddrInRejectsNonInet(t *testing.T) {
	mem := newGuestMemory(64)
	require.True(t, writeSockaddrIn(mem, 0, sockets.Addr{}))
	require.True(t, mem.WriteUint16Le(sockaddrFamilyOff, 10)) // AF_INET6

	_, ok := readSockaddrIn(mem, 0)
	assert.False(t, ok)
}

func TestWriteAddrInfoLayout(t *testing.T) {
	mem := newGuestMemory(128)
	require.True(t, writeAddrInfo(mem, 32, 96))

	read := func(off uint32) uint32 {
		v, ok := mem.ReadUint32Le(32 + off)
		require.True(t, ok)
		return v
	}
	assert.Equal(t, uint32(0), read(addrInfoFlagsOff))
	assert.Equal(t, uint32(afInet), read(addrInfoFamilyOff))
	assert.Equal(t, uint32(sockStream), read(addrInfoSockTypeOff))
	assert.Equal(t, uint32(ipprotoTCP), read(addrInfoProtocolOff))
	assert.Equal(t, uint32(sockaddrInSize), read(addrInfoAddrLenOff))
	assert.Equal(t, uint32(96), read(addrInfoAddrOff))
	assert.Equal(t, uint32(0), read(addrInfoCanonOff))
	assert.Equal(t, uint32(0), read(addrInfoNextOff))
}

func TestReadCString(t *testing.T) {
	mem := newGuestMemory(512)
	writeCString(t, mem, 10, "master.example.com")

	s, ok := readCString(mem, 10)
	require.True(t, ok)
	assert.Equal(t, "master.example.com", s)

	// NULL pointer reads as the empty name.
	s, ok = readCString(mem, 0)
	require.True(t, ok)
	assert.Equal(t, "", s)

	// A missing terminator must not walk the whole memory.
	for p := uint32(100); p < 100+maxCStringLen+8; p++ {
		mem.WriteByte(p, 'x')
	}
	_, ok = readCString(mem, 100)
	assert.False(t, ok)
}
