package bsdnet

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wasmgate/wazero-bsdnet/manager/sockets"
)

// The exported methods are the wazero host functions; each decodes guest
// pointers and delegates to an unexported core that takes api.Memory, which
// is what the tests drive directly.

// Socket allocates a new emulated descriptor. It never fails; resource
// exhaustion is not modeled.
func (i *netImpl) Socket(_ context.Context, _ api.Module, family, typ, proto int32) int32 {
	handle := i.host.sockets.Add(&sockets.Socket{
		Family:   int(family),
		Type:     int(typ),
		Protocol: int(proto),
	})
	return int32(handle)
}

// Bind records the local address on the socket.
func (i *netImpl) Bind(_ context.Context, mod api.Module, fd int32, addrPtr, addrLen uint32) int32 {
	return i.bind(mod.Memory(), fd, addrPtr)
}

func (i *netImpl) bind(mem api.Memory, fd int32, addrPtr uint32) int32 {
	sock, ok := i.lookup(fd)
	if !ok {
		return -errnoBadF
	}
	addr, ok := readSockaddrIn(mem, addrPtr)
	if !ok {
		return -errnoInval
	}
	sock.Bound = &addr
	return 0
}

// SendTo forwards one datagram to the external sender. The socket only has
// to exist; the destination comes entirely from the caller's sockaddr.
func (i *netImpl) SendTo(_ context.Context, mod api.Module, fd int32, bufPtr, bufLen uint32, flags int32, addrPtr, addrLen uint32) int32 {
	return i.sendTo(mod.Memory(), fd, bufPtr, bufLen, addrPtr)
}

func (i *netImpl) sendTo(mem api.Memory, fd int32, bufPtr, bufLen uint32, addrPtr uint32) int32 {
	if _, ok := i.lookup(fd); !ok {
		return -errnoBadF
	}
	if bufLen == 0 {
		return 0
	}
	dest, ok := readSockaddrIn(mem, addrPtr)
	if !ok {
		return -errnoInval
	}
	data, ok := mem.Read(bufPtr, bufLen)
	if !ok {
		return -errnoFault
	}
	return i.forward(data, dest)
}

// SendToBatch sends count packets in one call; all share the destination
// sockaddr. The guest passes an array of payload pointers and a parallel
// array of sizes. Returns the total bytes accepted.
func (i *netImpl) SendToBatch(_ context.Context, mod api.Module, fd int32, pktsPtr, sizesPtr uint32, count, flags int32, addrPtr, addrLen uint32) int32 {
	return i.sendToBatch(mod.Memory(), fd, pktsPtr, sizesPtr, count, addrPtr)
}

func (i *netImpl) sendToBatch(mem api.Memory, fd int32, pktsPtr, sizesPtr uint32, count int32, addrPtr uint32) int32 {
	if _, ok := i.lookup(fd); !ok {
		return -errnoBadF
	}
	if count <= 0 {
		return 0
	}
	dest, ok := readSockaddrIn(mem, addrPtr)
	if !ok {
		return -errnoInval
	}

	var total int32
	for n := uint32(0); n < uint32(count); n++ {
		ptr, ok := mem.ReadUint32Le(pktsPtr + n*4)
		if !ok {
			return -errnoFault
		}
		size, ok := mem.ReadUint32Le(sizesPtr + n*4)
		if !ok {
			return -errnoFault
		}
		if ptr == 0 || size == 0 {
			continue
		}
		data, ok := mem.Read(ptr, size)
		if !ok {
			return -errnoFault
		}
		total += i.forward(data, dest)
	}
	return total
}

// forward hands a payload to the configured sender. The payload is copied
// out of guest memory first: the sender may retain it past this call, and
// the guest is free to reuse its buffer immediately. A missing transport or
// a send failure accepts zero bytes, matching a dropped datagram.
func (i *netImpl) forward(data []byte, dest sockets.Addr) int32 {
	if i.host.sender == nil {
		return 0
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	if err := i.host.sender.SendTo(sockets.Packet{Data: payload, Addr: dest}); err != nil {
		i.host.logger.Debug("datagram send failed", "dest_port", dest.Port, "error", err)
		return 0
	}
	return int32(len(data))
}

// RecvFrom pulls the oldest packet from the shared inbound queue. All
// datagram sockets drain the same queue: there is a single underlying
// transport channel. An empty queue is would-block, never an error.
func (i *netImpl) RecvFrom(_ context.Context, mod api.Module, fd int32, bufPtr, bufLen uint32, flags int32, addrPtr, addrLenPtr uint32) int32 {
	return i.recvFrom(mod.Memory(), fd, bufPtr, bufLen, addrPtr, addrLenPtr)
}

func (i *netImpl) recvFrom(mem api.Memory, fd int32, bufPtr, bufLen uint32, addrPtr, addrLenPtr uint32) int32 {
	if _, ok := i.lookup(fd); !ok {
		return -errnoBadF
	}

	pkt, ok := i.host.queue.TryPull()
	if !ok {
		i.host.setErrno(errnoAgain)
		return -errnoAgain
	}

	n := uint32(len(pkt.Data))
	if n > bufLen {
		n = bufLen // truncate overflow
	}
	if n > 0 && !mem.Write(bufPtr, pkt.Data[:n]) {
		return -errnoFault
	}
	if addrPtr != 0 {
		if !writeSockaddrIn(mem, addrPtr, pkt.Addr) {
			return -errnoFault
		}
		if addrLenPtr != 0 {
			mem.WriteUint32Le(addrLenPtr, sockaddrInSize)
		}
	}
	return int32(n)
}

// GetSockName writes back the bound address, or the unspecified address if
// bind never ran.
func (i *netImpl) GetSockName(_ context.Context, mod api.Module, fd int32, addrPtr, addrLenPtr uint32) int32 {
	return i.getSockName(mod.Memory(), fd, addrPtr, addrLenPtr)
}

func (i *netImpl) getSockName(mem api.Memory, fd int32, addrPtr, addrLenPtr uint32) int32 {
	sock, ok := i.lookup(fd)
	if !ok {
		return -errnoBadF
	}
	var addr sockets.Addr
	if sock.Bound != nil {
		addr = *sock.Bound
	}
	if !writeSockaddrIn(mem, addrPtr, addr) {
		return -errnoFault
	}
	if addrLenPtr != 0 {
		mem.WriteUint32Le(addrLenPtr, sockaddrInSize)
	}
	return 0
}

// CloseSocket removes the table entry; the table destructor releases any
// stream buffers. Closing twice fails: the handle is gone and handles are
// never reused.
func (i *netImpl) CloseSocket(_ context.Context, _ api.Module, fd int32) int32 {
	return i.closeSocket(fd)
}

func (i *netImpl) closeSocket(fd int32) int32 {
	if fd <= 0 || !i.host.sockets.Remove(uint32(fd)) {
		return -errnoBadF
	}
	return 0
}

// GetHostName writes the configured "<name>.<id>" identity, NUL-terminated
// and truncated to the caller's buffer. Returns the bytes written, not
// counting the terminator.
func (i *netImpl) GetHostName(_ context.Context, mod api.Module, namePtr, nameLen uint32) int32 {
	return i.getHostName(mod.Memory(), namePtr, nameLen)
}

func (i *netImpl) getHostName(mem api.Memory, namePtr, nameLen uint32) int32 {
	if nameLen == 0 {
		return -errnoInval
	}
	name := i.host.hostname()
	n := uint32(len(name))
	if n >= nameLen {
		n = nameLen - 1
	}
	if n > 0 && !mem.Write(namePtr, []byte(name[:n])) {
		return -errnoFault
	}
	if !mem.WriteByte(namePtr+n, 0) {
		return -errnoFault
	}
	return int32(n)
}

// Errno exposes the errno cell to the guest-side shim.
func (i *netImpl) Errno(_ context.Context, _ api.Module) int32 {
	return i.host.errno.Load()
}

// lookup resolves a guest descriptor to its socket table entry.
func (i *netImpl) lookup(fd int32) (*sockets.Socket, bool) {
	if fd <= 0 {
		return nil, false
	}
	return i.host.sockets.Get(uint32(fd))
}
