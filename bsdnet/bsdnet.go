// Package bsdnet registers a BSD-socket-shaped host module into a wazero
// runtime. The guest is a game engine compiled to wasm32 whose socket calls
// were redirected at link time to imports named lib_net_*; this package
// implements those imports on top of a pluggable datagram sender, a bounded
// inbound packet queue, and outbound HTTP fetches for TCP-like sockets. The
// guest never learns that no real socket exists underneath.
package bsdnet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmgate/wazero-bsdnet/abi"
	"github.com/wasmgate/wazero-bsdnet/manager/addrs"
	"github.com/wasmgate/wazero-bsdnet/manager/sockets"
	"github.com/wasmgate/wazero-bsdnet/manager/tunnel"
)

// Sender delivers an outbound datagram to the real transport (a peer-relay
// data channel in production). A nil sender drops outbound traffic.
type Sender interface {
	SendTo(pkt sockets.Packet) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(pkt sockets.Packet) error

func (f SenderFunc) SendTo(pkt sockets.Packet) error { return f(pkt) }

// Host owns all emulation state for one engine instance: the socket table,
// the inbound packet queue, the address translator, the getaddrinfo
// allocation records, and the tunnel fetcher. There is no package-level
// state; construct one Host per guest.
type Host struct {
	moduleName string
	hostName   string
	hostID     int
	queueCap   int
	logger     *slog.Logger

	sockets    *sockets.Manager
	queue      *sockets.PacketQueue
	translator *addrs.Translator
	addrInfos  *addrs.AddrInfoTable
	fetcher    tunnel.Fetcher
	sender     Sender

	// errno is the guest-visible errno cell, read through lib_net_errno.
	// Only the would-block paths write it.
	errno atomic.Int32

	allocMu sync.Mutex
	alloc   abi.Allocator
}

// Option configures a Host.
type Option func(*Host)

// WithModuleName overrides the host module name (default "env").
func WithModuleName(name string) Option {
	return func(h *Host) { h.moduleName = name }
}

// WithHostName sets the base name reported by gethostname.
func WithHostName(name string) Option {
	return func(h *Host) { h.hostName = name }
}

// WithHostID sets the numeric identifier appended to the hostname and used
// as this peer's identity on the relay.
func WithHostID(id int) Option {
	return func(h *Host) { h.hostID = id }
}

// WithQueueCapacity sets the inbound packet queue capacity (default 128).
func WithQueueCapacity(capacity int) Option {
	return func(h *Host) { h.queueCap = capacity }
}

// WithSender installs the outbound datagram transport.
func WithSender(s Sender) Option {
	return func(h *Host) { h.sender = s }
}

// WithFetcher overrides the tunnel fetcher (default: real HTTP client).
func WithFetcher(f tunnel.Fetcher) Option {
	return func(h *Host) { h.fetcher = f }
}

// WithLogger installs a logger for the silent-recovery paths (queue
// overflow drops, tunnel fetch failures). Default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// NewHost creates a Host with the given options applied.
func NewHost(opts ...Option) *Host {
	h := &Host{
		moduleName: "env",
		hostName:   "host",
		queueCap:   128,
		logger:     slog.New(slog.DiscardHandler),
		sockets:    sockets.NewManager(),
		translator: addrs.NewTranslator(),
		addrInfos:  addrs.NewAddrInfoTable(),
		fetcher:    tunnel.NewHTTPFetcher(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.queue = sockets.NewPacketQueue(h.queueCap)
	return h
}

// Instantiate registers the lib_net_* host module into the runtime. Call it
// before instantiating the guest.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) error {
	i := &netImpl{host: h}

	builder := r.NewHostModuleBuilder(h.moduleName)
	exports := map[string]any{
		"lib_net_socket":        i.Socket,
		"lib_net_bind":          i.Bind,
		"lib_net_connect":       i.Connect,
		"lib_net_send":          i.Send,
		"lib_net_recv":          i.Recv,
		"lib_net_sendto":        i.SendTo,
		"lib_net_sendto_batch":  i.SendToBatch,
		"lib_net_recvfrom":      i.RecvFrom,
		"lib_net_getsockname":   i.GetSockName,
		"lib_net_gethostname":   i.GetHostName,
		"lib_net_gethostbyname": i.GetHostByName,
		"lib_net_getaddrinfo":   i.GetAddrInfo,
		"lib_net_freeaddrinfo":  i.FreeAddrInfo,
		"lib_net_closesocket":   i.CloseSocket,
		"lib_net_select":        i.Select,
		"lib_net_errno":         i.Errno,
	}
	for name, fn := range exports {
		builder.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s host module: %w", h.moduleName, err)
	}
	return nil
}

// PushPacket is the inbound injection point for the external transport. It
// never blocks; under pressure the oldest queued packet is dropped.
func (h *Host) PushPacket(pkt sockets.Packet) {
	if h.queue.Push(pkt) {
		h.logger.Debug("inbound queue full, dropped oldest packet",
			"capacity", h.queueCap, "dropped_total", h.queue.Dropped())
	}
}

// Sockets exposes the socket table.
func (h *Host) Sockets() *sockets.Manager { return h.sockets }

// Queue exposes the inbound packet queue.
func (h *Host) Queue() *sockets.PacketQueue { return h.queue }

// Translator exposes the synthetic address translator.
func (h *Host) Translator() *addrs.Translator { return h.translator }

// AddrInfos exposes the getaddrinfo allocation records.
func (h *Host) AddrInfos() *addrs.AddrInfoTable { return h.addrInfos }

// hostname is the full identity string reported to the guest.
func (h *Host) hostname() string {
	return fmt.Sprintf("%s.%d", h.hostName, h.hostID)
}

func (h *Host) setErrno(errno int32) {
	h.errno.Store(errno)
}

// allocator lazily binds the guest's malloc/free exports. The guest module
// only exists after Instantiate returns, so the first getaddrinfo call does
// the lookup.
func (h *Host) allocator(mod api.Module) (abi.Allocator, error) {
	h.allocMu.Lock()
	defer h.allocMu.Unlock()
	if h.alloc == nil {
		alloc, err := abi.NewGuestAllocator(mod)
		if err != nil {
			return nil, err
		}
		h.alloc = alloc
	}
	return h.alloc, nil
}

// netImpl binds the syscall-shaped functions to one Host. State stays
// explicit per instance; nothing here is a process-wide global.
type netImpl struct {
	host *Host
}
