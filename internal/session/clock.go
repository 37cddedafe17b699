package session

import "time"

// Clock is the time source the manager uses for buffered-message expiry and
// session creation timestamps; the crypto session's handshake timeout reads
// the wall clock itself and does not use it. It is one of the external collaborators
// spec.md §1 lists as out of scope ("timer and clock services"); tests
// substitute a fake implementation to drive scenario S5 (timeout eviction)
// without a real sleep.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
