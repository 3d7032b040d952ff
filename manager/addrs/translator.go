// Package addrs maps between synthetic IPv4-shaped addresses and the opaque
// endpoints they stand for: peer-relay identifiers for datagram traffic and
// real hostnames for the stream tunnel. The two synthetic ranges are
// disjoint, so an address always identifies which transport produced it.
package addrs

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/wasmgate/wazero-bsdnet/manager/sockets"
)

// Synthetic range prefixes. 101.101.x.y carries a peer identifier's two low
// bytes; 230.0.h.h carries a 16-bit hash of a hostname.
const (
	peerOctet0 = 101
	peerOctet1 = 101
	hostOctet0 = 230
	hostOctet1 = 0
)

// Translator owns the bidirectional mapping. hostname->address is a pure
// function of the name (same name, same address, for the whole process);
// address->hostname is recorded on resolve, last write wins. Hash collisions
// between hostnames are an accepted risk, not corrected.
type Translator struct {
	mu    sync.RWMutex
	hosts map[[4]byte]string
}

// NewTranslator creates an empty translator.
func NewTranslator() *Translator {
	return &Translator{hosts: make(map[[4]byte]string)}
}

// Resolve turns a name into a synthetic address. A name of the form
// "base.<digits>" is a peer-relay target and lands in the peer range with
// the identifier's two low bytes in the tail octets. Anything else is
// treated as a real hostname: it lands in the hostname range at its hashed
// slot and the reverse mapping is recorded for connect.
func (t *Translator) Resolve(name string) sockets.Addr {
	if id, ok := peerID(name); ok {
		return sockets.Addr{IP: [4]byte{peerOctet0, peerOctet1, byte(id >> 8), byte(id)}}
	}

	h := hashHost(name)
	addr := sockets.Addr{IP: [4]byte{hostOctet0, hostOctet1, byte(h >> 8), byte(h)}}

	t.mu.Lock()
	t.hosts[addr.IP] = name
	t.mu.Unlock()
	return addr
}

// HostFor returns the hostname a synthetic stream address resolves back to.
func (t *Translator) HostFor(ip [4]byte) (string, bool) {
	if !IsHostAddr(ip) {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.hosts[ip]
	return name, ok
}

// PeerFor extracts the peer identifier encoded in a peer-range address.
func (t *Translator) PeerFor(ip [4]byte) (uint16, bool) {
	if !IsPeerAddr(ip) {
		return 0, false
	}
	return uint16(ip[2])<<8 | uint16(ip[3]), true
}

// IsPeerAddr reports whether ip lies in the peer-relay range.
func IsPeerAddr(ip [4]byte) bool {
	return ip[0] == peerOctet0 && ip[1] == peerOctet1
}

// IsHostAddr reports whether ip lies in the hostname range.
func IsHostAddr(ip [4]byte) bool {
	return ip[0] == hostOctet0 && ip[1] == hostOctet1
}

// peerID matches the "base.<digits>" naming used for peer-relay targets and
// extracts the numeric identifier.
func peerID(name string) (uint16, bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return 0, false
	}
	id, err := strconv.ParseUint(name[dot+1:], 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(id), true
}

// hashHost folds an FNV-1a hash of the hostname to 16 bits. Not collision
// resistant; the synthetic range only has to keep the handful of hosts a
// running engine talks to apart.
func hashHost(name string) uint16 {
	h := fnv.New32a()
	h.Write([]byte(name))
	sum := h.Sum32()
	return uint16(sum>>16) ^ uint16(sum)
}
