package session

import "time"

// bufferExpiry is the fixed 10-second timeout spec.md §3 invariant 7 and
// §4.F name for buffered messages.
const bufferExpiry = 10 * time.Second

// bufferedMessage is one pending outbound packet awaiting route discovery
// (spec.md §3 BufferedMessage), keyed by destination peer IPv6.
type bufferedMessage struct {
	ip6        [16]byte
	message    []byte
	enqueuedAt time.Time
}

// bufferQueue is the Buffered-Message Queue of spec.md §4.B: at most one
// pending packet per peer, bounded in size, with entries older than 10s
// evicted by the sweeper.
type bufferQueue struct {
	byIP6   map[[16]byte]*bufferedMessage
	maxSize int
	clock   Clock
}

func newBufferQueue(maxSize int, clock Clock) *bufferQueue {
	return &bufferQueue{
		byIP6:   make(map[[16]byte]*bufferedMessage),
		maxSize: maxSize,
		clock:   clock,
	}
}

func (q *bufferQueue) Len() int { return len(q.byIP6) }

// Enqueue implements §4.B's algorithm. ok is true iff the message was
// stored; the caller emits SEARCH_REQ only when ok is true. superseded
// reports whether a prior entry for the same ip6 was dropped to make room
// (for logging the supersession, spec.md §7).
func (q *bufferQueue) Enqueue(ip6 [16]byte, message []byte) (ok bool, superseded bool) {
	if _, exists := q.byIP6[ip6]; exists {
		delete(q.byIP6, ip6)
		superseded = true
	}
	if len(q.byIP6) >= q.maxSize {
		q.SweepExpired()
		if len(q.byIP6) >= q.maxSize {
			return false, superseded
		}
	}
	q.byIP6[ip6] = &bufferedMessage{ip6: ip6, message: message, enqueuedAt: q.clock.Now()}
	return true, superseded
}

// Take implements §4.B take: removes and returns the buffered message for
// ip6, if any.
func (q *bufferQueue) Take(ip6 [16]byte) ([]byte, bool) {
	bm, ok := q.byIP6[ip6]
	if !ok {
		return nil, false
	}
	delete(q.byIP6, ip6)
	return bm.message, true
}

// SweepExpired implements §4.F/§4.B sweep_expired: evicts every entry at
// least bufferExpiry old. Safe against removing entries while iterating
// (Go map deletion during range is well defined). Returns the number
// evicted.
func (q *bufferQueue) SweepExpired() int {
	now := q.clock.Now()
	evicted := 0
	for ip6, bm := range q.byIP6 {
		if now.Sub(bm.enqueuedAt) >= bufferExpiry {
			delete(q.byIP6, ip6)
			evicted++
		}
	}
	return evicted
}
