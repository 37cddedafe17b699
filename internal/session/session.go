package session

import "time"

// lifecycle tracks the per-session state machine spec.md §4 names: Fresh
// (no handshake received yet from the peer), Established (peer's handshake
// decrypted, send handle learned), Ended (removed from the table).
type lifecycle int32

const (
	lifecycleFresh lifecycle = iota
	lifecycleEstablished
	lifecycleEnded
)

// Session is a bidirectional encrypted channel to one peer (spec.md §3).
// Only the manager's single dispatch goroutine ever mutates a Session, so
// no field here is guarded by a mutex -- the concurrency model (spec.md §5)
// makes that safe by construction. The crypto sub-session is the exception:
// it is a separate external collaborator with its own internal lock.
type Session struct {
	manager *Manager // back-reference set on creation; SESSION_ENDED is emitted by Manager.RemoveSession, which does not read it

	peerIP6       [16]byte
	peerPublicKey [32]byte
	crypto        CryptoSession

	receiveHandle uint32
	sendHandle    uint32

	sendSwitchLabel uint64
	recvSwitchLabel uint64

	version        uint32
	timeOfCreation time.Time

	lifecycle lifecycle
}

// PeerIPv6 returns the peer's overlay address.
func (s *Session) PeerIPv6() [16]byte { return s.peerIP6 }

// PeerPublicKey returns the peer's static public key.
func (s *Session) PeerPublicKey() [32]byte { return s.peerPublicKey }

// ReceiveHandle returns the locally assigned handle peers use to address
// run packets to this session.
func (s *Session) ReceiveHandle() uint32 { return s.receiveHandle }

// SendHandle returns the handle learned from the peer's handshake packet,
// or zero if no handshake has been decrypted yet.
func (s *Session) SendHandle() uint32 { return s.sendHandle }

// Version returns the peer's protocol version.
func (s *Session) Version() uint32 { return s.version }

// SendSwitchLabel returns the best known egress path to the peer.
func (s *Session) SendSwitchLabel() uint64 { return s.sendSwitchLabel }

// RecvSwitchLabel returns the most recently observed ingress path.
func (s *Session) RecvSwitchLabel() uint64 { return s.recvSwitchLabel }

// established reports whether the session has left the Fresh state (a
// peer handshake was decrypted); an Ended session also reports true.
func (s *Session) established() bool { return s.lifecycle != lifecycleFresh }

// setVersionIfZero fills version only if it was never learned, matching
// §4.A create-semantics step 1 ("fill in version if the existing value is
// zero").
func (s *Session) setVersionIfZero(v uint32) {
	if s.version == 0 {
		s.version = v
	}
}

// setSendLabelIfZero fills send_switch_label only if it was never learned.
func (s *Session) setSendLabelIfZero(label uint64) {
	if label != 0 && s.sendSwitchLabel == 0 {
		s.sendSwitchLabel = label
	}
}

// recordIngressPath applies §4.C step 7's path-tracking rule and reports
// whether recv_switch_label changed (the caller emits DISCOVERED_PATH when
// it does).
func (s *Session) recordIngressPath(label uint64) bool {
	if s.sendSwitchLabel == 0 {
		s.sendSwitchLabel = label
	}
	if label != s.recvSwitchLabel {
		s.recvSwitchLabel = label
		return true
	}
	return false
}

// recordSendHandle stores the handle the peer's handshake packet embedded
// and transitions the session to Established.
func (s *Session) recordSendHandle(h uint32) {
	s.sendHandle = h
	s.lifecycle = lifecycleEstablished
}
