package session

import (
	"fmt"

	"github.com/meshcore/sessiond/internal/wire"
)

// table is the dual-indexed Session Table of spec.md §4.A: every live
// session is addressable both by peer IPv6 and by locally assigned receive
// handle (invariant 1). Slot assignment is stable for a session's lifetime
// and handles are `slot + firstHandle`, so a restart's randomized
// firstHandle (invariant 2) shifts the whole handle namespace rather than
// reusing the same values across manager instances.
type table struct {
	byIP6    map[[16]byte]*Session
	byHandle map[uint32]*Session

	firstHandle uint32
	nextSlot    uint32
	freeSlots   []uint32

	newCrypto       CryptoSessionFactory
	determineRole   func(peerPublicKey [32]byte) bool
	clock           Clock
}

func newTable(firstHandle uint32, newCrypto CryptoSessionFactory, determineRole func([32]byte) bool, clock Clock) *table {
	return &table{
		byIP6:         make(map[[16]byte]*Session),
		byHandle:      make(map[uint32]*Session),
		firstHandle:   firstHandle,
		newCrypto:     newCrypto,
		determineRole: determineRole,
		clock:         clock,
	}
}

// GetByHandle implements §4.A get_by_handle.
func (t *table) GetByHandle(h uint32) *Session {
	return t.byHandle[h]
}

// GetByIP6 implements §4.A get_by_ip6.
func (t *table) GetByIP6(ip6 [16]byte) *Session {
	return t.byIP6[ip6]
}

// HandleList implements §4.A handle_list.
func (t *table) HandleList() []uint32 {
	out := make([]uint32, 0, len(t.byHandle))
	for h := range t.byHandle {
		out = append(out, h)
	}
	return out
}

// Remove implements §4.A remove: deletes both index entries and marks the
// session Ended. Returns false if the session was already removed.
func (t *table) Remove(s *Session) bool {
	if s.lifecycle == lifecycleEnded {
		return false
	}
	delete(t.byIP6, s.peerIP6)
	delete(t.byHandle, s.receiveHandle)
	t.freeSlots = append(t.freeSlots, s.receiveHandle-t.firstHandle)
	s.lifecycle = lifecycleEnded
	return true
}

// GetOrCreate implements §4.A create's full semantics: if a session for ip6
// already exists, it is returned unmodified except for filling in a zero
// version/send-label; otherwise a new session is allocated with a fresh
// crypto session and inserted into both indexes. created reports whether a
// new Session was allocated, so the caller (ingress/egress/events) can emit
// exactly one SESSION event per creation (invariant 6).
func (t *table) GetOrCreate(ip6 [16]byte, peerPublicKey [32]byte, version uint32, label uint64) (*Session, bool, error) {
	if existing, ok := t.byIP6[ip6]; ok {
		existing.setVersionIfZero(version)
		existing.setSendLabelIfZero(label)
		return existing, false, nil
	}

	initiator := t.determineRole(peerPublicKey)
	crypto, err := t.newCrypto(peerPublicKey, ip6, initiator)
	if err != nil {
		return nil, false, fmt.Errorf("session: open crypto session: %w", err)
	}

	slot := t.allocateSlot()
	handle := slot + t.firstHandle
	if handle <= wire.MaxReservedHandle {
		// Practically unreachable (firstHandle is randomized in
		// [FirstHandleMin, FirstHandleMax)), but invariant 2 forbids it
		// outright, so refuse rather than silently assigning a reserved
		// handle.
		return nil, false, fmt.Errorf("session: computed handle %d collides with reserved range", handle)
	}

	s := &Session{
		manager:         nil, // set by Manager after GetOrCreate returns
		peerIP6:         ip6,
		peerPublicKey:   peerPublicKey,
		crypto:          crypto,
		receiveHandle:   handle,
		version:         version,
		sendSwitchLabel: label,
		timeOfCreation:  t.clock.Now(),
		lifecycle:       lifecycleFresh,
	}
	t.byIP6[ip6] = s
	t.byHandle[handle] = s
	return s, true, nil
}

func (t *table) allocateSlot() uint32 {
	if n := len(t.freeSlots); n > 0 {
		slot := t.freeSlots[n-1]
		t.freeSlots = t.freeSlots[:n-1]
		return slot
	}
	slot := t.nextSlot
	t.nextSlot++
	return slot
}
