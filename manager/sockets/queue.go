package sockets

import "sync"

// PacketQueue is the bounded FIFO of inbound datagrams shared by every
// datagram socket (a single underlying transport channel feeds them all).
// When full, a push evicts the oldest packet instead of growing or
// blocking, modelling receive-buffer overflow under packet floods.
type PacketQueue struct {
	mu       sync.Mutex
	packets  []Packet
	head     int
	size     int
	capacity int
	dropped  uint64
}

// NewPacketQueue creates a queue holding at most capacity packets.
// Capacity must be at least 1.
func NewPacketQueue(capacity int) *PacketQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PacketQueue{
		packets:  make([]Packet, capacity),
		capacity: capacity,
	}
}

// Push appends a packet at the tail. If the queue is at capacity, the
// oldest packet is dropped to make room. Reports whether a drop happened.
func (q *PacketQueue) Push(pkt Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if q.size == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.size--
		q.dropped++
		dropped = true
	}
	q.packets[(q.head+q.size)%q.capacity] = pkt
	q.size++
	return dropped
}

// TryPull removes and returns the oldest packet. It never blocks; ok is
// false when the queue is empty.
func (q *PacketQueue) TryPull() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Packet{}, false
	}
	pkt := q.packets[q.head]
	q.packets[q.head] = Packet{}
	q.head = (q.head + 1) % q.capacity
	q.size--
	return pkt, true
}

// Len returns the number of packets currently queued.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many packets have been evicted since creation.
func (q *PacketQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
