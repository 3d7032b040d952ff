package bsdnet

import (
	"context"

	"github.com/smallnest/ringbuffer"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmgate/wazero-bsdnet/common/bytespool"
	"github.com/wasmgate/wazero-bsdnet/manager/sockets"
	"github.com/wasmgate/wazero-bsdnet/manager/tunnel"
)

// Connect attaches a socket to a hostname-resolved destination. Streams are
// only emulated toward hostnames the translator has seen; peer-range and
// unknown addresses are refused, since the peer relay carries datagrams
// only.
func (i *netImpl) Connect(_ context.Context, mod api.Module, fd int32, addrPtr, addrLen uint32) int32 {
	return i.connect(mod.Memory(), fd, addrPtr)
}

func (i *netImpl) connect(mem api.Memory, fd int32, addrPtr uint32) int32 {
	sock, ok := i.lookup(fd)
	if !ok {
		return -errnoBadF
	}
	dest, ok := readSockaddrIn(mem, addrPtr)
	if !ok {
		return -errnoInval
	}

	sock.State = sockets.StateConnecting
	host, ok := i.host.translator.HostFor(dest.IP)
	if !ok {
		// A failed connect leaves no readable state behind, even when the
		// socket held a response from an earlier connection.
		sock.OutBuf = nil
		sock.In = nil
		sock.State = sockets.StateIdle
		return -errnoConnRefused
	}

	sock.RemoteHost = host
	sock.RemotePort = dest.Port
	sock.OutBuf = nil
	sock.In = nil
	sock.FetchDone = make(chan []byte, 1)
	sock.State = sockets.StateConnected
	return 0
}

// Send appends to the outbound accumulator and, once the accumulated bytes
// contain the header terminator, starts the single fetch this connection
// gets. The call reports the bytes accepted and never waits on the fetch.
func (i *netImpl) Send(_ context.Context, mod api.Module, fd int32, bufPtr, bufLen uint32, flags int32) int32 {
	return i.send(mod.Memory(), fd, bufPtr, bufLen)
}

func (i *netImpl) send(mem api.Memory, fd int32, bufPtr, bufLen uint32) int32 {
	sock, ok := i.lookup(fd)
	if !ok {
		return -errnoBadF
	}
	if !sock.Connected() {
		return -errnoNotConn
	}
	if bufLen == 0 {
		return 0
	}
	data, ok := mem.Read(bufPtr, bufLen)
	if !ok {
		return -errnoFault
	}

	sock.OutBuf = append(sock.OutBuf, data...)

	// One request per connection: once the fetch has started, later bytes
	// just accumulate and are never re-inspected.
	if sock.State == sockets.StateConnected && tunnel.Complete(sock.OutBuf) {
		i.startFetch(sock)
	}
	return int32(bufLen)
}

// startFetch parses the buffered request and launches the outbound fetch in
// the background. The goroutine only ever touches its result channel: the
// channel has capacity 1 so the send can never block, and if the socket is
// closed before completion the result parks in the orphaned channel instead
// of writing into freed state.
func (i *netImpl) startFetch(sock *sockets.Socket) {
	sock.State = sockets.StateFetching

	req, err := tunnel.Parse(sock.OutBuf, sock.RemoteHost, sock.RemotePort)
	if err != nil {
		i.host.logger.Warn("malformed tunneled request", "host", sock.RemoteHost, "error", err)
		sock.FetchDone <- tunnel.InternalErrorResponse()
		return
	}

	fetcher := i.host.fetcher
	logger := i.host.logger
	done := sock.FetchDone
	go func() {
		body, err := fetcher.Fetch(context.Background(), req)
		if err != nil {
			logger.Warn("tunnel fetch failed", "host", req.Host, "port", req.Port, "error", err)
			body = tunnel.InternalErrorResponse()
		}
		done <- body
	}()
}

// drainFetch moves a completed fetch result from the mailbox into the
// inbound buffer. All mutation happens here, on the guest's own call path,
// never on the fetch goroutine.
func (i *netImpl) drainFetch(sock *sockets.Socket) {
	if sock.State != sockets.StateFetching {
		return
	}
	select {
	case body := <-sock.FetchDone:
		capacity := len(body)
		if capacity == 0 {
			capacity = 1
		}
		ring := ringbuffer.New(capacity)
		ring.Write(body)
		sock.In = ring
		sock.OutBuf = nil
		sock.State = sockets.StateResponseReady
	default:
	}
}

// Recv copies buffered response bytes to the guest. Having no data (a fetch
// still in flight, a socket that never connected, or a fully drained
// response) is would-block; end-of-stream is never signaled, the guest stops
// once it has read the advertised content length.
func (i *netImpl) Recv(_ context.Context, mod api.Module, fd int32, bufPtr, bufLen uint32, flags int32) int32 {
	return i.recv(mod.Memory(), fd, bufPtr, bufLen)
}

func (i *netImpl) recv(mem api.Memory, fd int32, bufPtr, bufLen uint32) int32 {
	sock, ok := i.lookup(fd)
	if !ok {
		return -errnoBadF
	}

	i.drainFetch(sock)

	// A socket outside the connected states never yields data, whatever its
	// buffers hold.
	if !sock.Connected() || sock.In == nil || sock.In.Length() == 0 || bufLen == 0 {
		i.host.setErrno(errnoAgain)
		return -errnoAgain
	}

	n := bufLen
	if avail := uint32(sock.In.Length()); avail < n {
		n = avail
	}
	scratch := bytespool.Alloc(int32(n))
	defer bytespool.Free(scratch)
	read, err := sock.In.Read(scratch[:n])
	if err != nil || read == 0 {
		i.host.setErrno(errnoAgain)
		return -errnoAgain
	}
	if !mem.Write(bufPtr, scratch[:read]) {
		return -errnoFault
	}
	return int32(read)
}

// Select is the narrow readiness check the guest actually exercises: it
// counts connected stream sockets with unread response bytes. The fd sets
// and timeout are accepted and ignored; datagram readiness and
// write-readiness are not modeled.
func (i *netImpl) Select(_ context.Context, _ api.Module, nfds int32, readFdsPtr, writeFdsPtr, exceptFdsPtr, timeoutPtr uint32) int32 {
	return i.selectReady()
}

func (i *netImpl) selectReady() int32 {
	var ready int32
	i.host.sockets.Range(func(_ uint32, sock *sockets.Socket) bool {
		i.drainFetch(sock)
		if sock.State == sockets.StateResponseReady && sock.In != nil && sock.In.Length() > 0 {
			ready++
		}
		return true
	})
	return ready
}
