package sockets

import (
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/wasmgate/wazero-bsdnet/abi"
)

// Addr is an IPv4 address and port combination as seen by the guest. The
// address octets are synthetic: they are produced by the translator and are
// never routed on a real network.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// Packet is one inbound or outbound datagram: a raw payload plus the
// source (inbound) or destination (outbound) address.
type Packet struct {
	Data []byte
	Addr Addr
}

// StreamState tracks the tunnel state machine of a stream socket. A
// connection carries exactly one request; there is no reset back to
// StateConnected.
type StreamState uint8

const (
	// StateIdle: fresh socket, no stream role yet.
	StateIdle StreamState = iota
	// StateConnecting: connect in progress (resolution of the destination).
	StateConnecting
	// StateConnected: connected, accumulating outbound bytes until a full
	// request has been seen.
	StateConnected
	// StateFetching: a complete request was recognized and the outbound
	// fetch is in flight.
	StateFetching
	// StateResponseReady: the serialized response is buffered for recv.
	StateResponseReady
	// StateClosed: closesocket ran; all buffers are released.
	StateClosed
)

// Socket is one entry in the emulated socket table. Family, Type and
// Protocol are mirrored from the creation call and are not interpreted
// beyond the datagram/stream split. The stream fields are populated only
// once a connect succeeds.
type Socket struct {
	Family   int
	Type     int
	Protocol int

	// Bound is the local address recorded by bind, nil until then.
	Bound *Addr

	State      StreamState
	RemoteHost string
	RemotePort uint16

	// OutBuf accumulates outbound bytes until they contain a complete
	// request.
	OutBuf []byte

	// In holds the serialized response; its read position is the recv
	// cursor and an empty ring is the would-block condition.
	In *ringbuffer.RingBuffer

	// FetchDone is the per-socket completion mailbox. The fetch goroutine
	// sends the serialized response here (capacity 1, never blocks) and
	// the next recv/select drains it. A result arriving after the socket
	// was closed parks in the orphaned channel and is collected; it can
	// never write into a reused slot.
	FetchDone chan []byte

	closeOnce sync.Once
}

// Connected reports whether the socket passed connect and still holds
// tunnel state.
func (s *Socket) Connected() bool {
	switch s.State {
	case StateConnected, StateFetching, StateResponseReady:
		return true
	}
	return false
}

// Close releases the stream buffers eagerly and marks the socket closed.
// Safe to call more than once.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		s.OutBuf = nil
		s.In = nil
		s.State = StateClosed
	})
}

// Manager is the socket table: a handle table whose destructor releases
// stream buffers when an entry is removed. Handles are monotonically
// increasing and never reused, so a double close or a late fetch completion
// cannot hit a recycled descriptor.
type Manager = abi.ResourceManager[*Socket]

// NewManager creates the socket table.
func NewManager() *Manager {
	return abi.NewResourceManager[*Socket](func(socket *Socket) {
		if socket != nil {
			socket.Close()
		}
	})
}
