package bsdnet

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"

	"github.com/wasmgate/wazero-bsdnet/manager/sockets"
)

// Fixed little-endian layouts shared by the read and write paths. The guest
// hands pointers into its linear memory; every access goes through these
// offsets.
//
// sockaddr_in, 16 bytes:
//
//	[family:u16 LE][port:u16 BE][4 address octets][8 reserved]
//
// addrinfo, 32 bytes, every field u32 LE:
//
//	[flags][family][socktype][protocol][addrlen][addr ptr][canonname ptr][next ptr]
const (
	sockaddrInSize    = 16
	sockaddrFamilyOff = 0
	sockaddrPortOff   = 2
	sockaddrAddrOff   = 4

	addrInfoSize        = 32
	addrInfoFlagsOff    = 0
	addrInfoFamilyOff   = 4
	addrInfoSockTypeOff = 8
	addrInfoProtocolOff = 12
	addrInfoAddrLenOff  = 16
	addrInfoAddrOff     = 20
	addrInfoCanonOff    = 24
	addrInfoNextOff     = 28
)

// The few POSIX constants the emulation interprets.
const (
	afInet     = 2
	sockStream = 1
	ipprotoTCP = 6
)

// errno values surfaced through the negative-return convention. Would-block
// additionally stores errnoAgain into the errno cell; hard failures leave
// the cell untouched.
const (
	errnoBadF        = 9   // EBADF: unknown or closed socket handle
	errnoAgain       = 11  // EAGAIN: no data yet, try again
	errnoFault       = 14  // EFAULT: pointer outside guest memory
	errnoInval       = 22  // EINVAL: malformed argument / double free
	errnoNotConn     = 107 // ENOTCONN: stream call before connect
	errnoConnRefused = 111 // ECONNREFUSED: unresolvable connect target
)

// eaiMemory is the getaddrinfo-specific allocation failure code (EAI_MEMORY).
const eaiMemory = -10

// readSockaddrIn decodes a guest sockaddr_in. Only AF_INET addresses are
// accepted; anything else reports failure.
func readSockaddrIn(mem api.Memory, ptr uint32) (sockets.Addr, bool) {
	raw, ok := mem.Read(ptr, sockaddrInSize)
	if !ok {
		return sockets.Addr{}, false
	}
	if binary.LittleEndian.Uint16(raw[sockaddrFamilyOff:]) != afInet {
		return sockets.Addr{}, false
	}
	var addr sockets.Addr
	addr.Port = binary.BigEndian.Uint16(raw[sockaddrPortOff:])
	copy(addr.IP[:], raw[sockaddrAddrOff:sockaddrAddrOff+4])
	return addr, true
}

// writeSockaddrIn encodes addr into a guest sockaddr_in, zeroing the
// reserved tail.
func writeSockaddrIn(mem api.Memory, ptr uint32, addr sockets.Addr) bool {
	buf := make([]byte, sockaddrInSize)
	binary.LittleEndian.PutUint16(buf[sockaddrFamilyOff:], afInet)
	binary.BigEndian.PutUint16(buf[sockaddrPortOff:], addr.Port)
	copy(buf[sockaddrAddrOff:], addr.IP[:])
	return mem.Write(ptr, buf)
}

// writeAddrInfo fills a guest addrinfo block with the fixed resolver
// defaults (IPv4, stream socket, TCP) pointing at the sockaddr block.
func writeAddrInfo(mem api.Memory, ptr, sockaddrPtr uint32) bool {
	buf := make([]byte, addrInfoSize)
	binary.LittleEndian.PutUint32(buf[addrInfoFlagsOff:], 0)
	binary.LittleEndian.PutUint32(buf[addrInfoFamilyOff:], afInet)
	binary.LittleEndian.PutUint32(buf[addrInfoSockTypeOff:], sockStream)
	binary.LittleEndian.PutUint32(buf[addrInfoProtocolOff:], ipprotoTCP)
	binary.LittleEndian.PutUint32(buf[addrInfoAddrLenOff:], sockaddrInSize)
	binary.LittleEndian.PutUint32(buf[addrInfoAddrOff:], sockaddrPtr)
	binary.LittleEndian.PutUint32(buf[addrInfoCanonOff:], 0)
	binary.LittleEndian.PutUint32(buf[addrInfoNextOff:], 0)
	return mem.Write(ptr, buf)
}

// readCString reads a NUL-terminated string from guest memory, capped at
// maxCStringLen to keep a missing terminator from walking the whole memory.
const maxCStringLen = 256

func readCString(mem api.Memory, ptr uint32) (string, bool) {
	if ptr == 0 {
		return "", true
	}
	out := make([]byte, 0, 32)
	for off := uint32(0); off < maxCStringLen; off++ {
		b, ok := mem.ReadByte(ptr + off)
		if !ok {
			return "", false
		}
		if b == 0 {
			return string(out), true
		}
		out = append(out, b)
	}
	return "", false
}
