package addrs

import "sync"

// AddrInfoRecord tracks the pair of guest-memory blocks backing one
// getaddrinfo result: the sockaddr block and the addrinfo block that points
// at it. freeaddrinfo releases both through the record.
type AddrInfoRecord struct {
	AddrPtr uint32
	InfoPtr uint32
}

// AddrInfoTable keys allocation records by the addrinfo pointer, which is
// the handle the guest passes back to freeaddrinfo. Every successful
// getaddrinfo inserts exactly one record; every valid freeaddrinfo pops it
// exactly once. A pop of an unknown or already-freed handle fails instead of
// silently no-opping, so a double free can be reported rather than
// corrupting the guest heap.
type AddrInfoTable struct {
	mu      sync.Mutex
	records map[uint32]AddrInfoRecord
}

// NewAddrInfoTable creates an empty table.
func NewAddrInfoTable() *AddrInfoTable {
	return &AddrInfoTable{records: make(map[uint32]AddrInfoRecord)}
}

// Insert registers a record under its addrinfo pointer.
func (t *AddrInfoTable) Insert(rec AddrInfoRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.InfoPtr] = rec
}

// Pop removes and returns the record for the given addrinfo pointer.
func (t *AddrInfoTable) Pop(infoPtr uint32) (AddrInfoRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[infoPtr]
	if ok {
		delete(t.records, infoPtr)
	}
	return rec, ok
}

// Len returns the number of outstanding records.
func (t *AddrInfoTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
