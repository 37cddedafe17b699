// Package cryptosession is the concrete implementation of the
// "cryptographic session primitive" spec.md §1 declares an external
// collaborator: handshake, encrypt/decrypt, and state introspection. The
// session manager core depends only on the Session methods below; it never
// reaches into Noise internals.
//
// Both peers' static keys are assumed to already be known before a Session
// is constructed (the session manager learns the peer's key either from the
// route header, a prior NODE event, or the clear-text public key field of
// an incoming handshake packet — see internal/session/ingress.go) so the
// handshake pattern is Noise KK: two messages, neither of which needs to
// transmit a static key, since both sides already hold it.
package cryptosession

import (
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"
)

// HandshakeTimeout is how long a session may sit in an unestablished state
// before ResetIfTimeout restarts the handshake from scratch (spec.md §5:
// "Crypto handshake timeout is delegated to the crypto session").
const HandshakeTimeout = 30 * time.Second

// Session is a bidirectional encrypted channel to one peer, handshaking
// with Noise KK and switching to transport (ChaCha20-Poly1305) ciphers once
// established.
type Session struct {
	mu sync.Mutex

	ourStatic  noise.DHKey
	peerStatic [32]byte
	initiator  bool

	hs   *noise.HandshakeState
	send *noise.CipherState
	recv *noise.CipherState

	state        State
	lastActivity time.Time

	peerIP6 [16]byte
}

// NewSession constructs a Session for a peer whose static public key and
// overlay address are already known. initiator selects the Noise KK role;
// the session manager picks it by comparing both static public keys (the
// greater key initiates), regardless of whether ingress or egress created
// the session.
func NewSession(ourStatic noise.DHKey, peerStatic [32]byte, peerIP6 [16]byte, initiator bool) (*Session, error) {
	s := &Session{
		ourStatic:  ourStatic,
		peerStatic: peerStatic,
		initiator:  initiator,
		peerIP6:    peerIP6,
	}
	if err := s.resetHandshakeLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) resetHandshakeLocked() error {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   CipherSuite,
		Pattern:       noise.HandshakeKK,
		Initiator:     s.initiator,
		StaticKeypair: s.ourStatic,
		PeerStatic:    s.peerStatic[:],
	})
	if err != nil {
		return fmt.Errorf("cryptosession: new handshake state: %w", err)
	}
	s.hs = hs
	s.send = nil
	s.recv = nil
	s.state = StateHandshake1
	s.lastActivity = time.Now()
	return nil
}

// State reports the session's current handshake/transport state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerIPv6 returns the peer's overlay address, fixed at construction time.
func (s *Session) PeerIPv6() [16]byte {
	return s.peerIP6
}

// PeerPublicKey returns the peer's static public key, fixed at construction
// time.
func (s *Session) PeerPublicKey() [32]byte {
	return s.peerStatic
}

// ResetIfTimeout restarts the handshake from scratch if the session has
// been unestablished for longer than HandshakeTimeout, so a peer that never
// replies doesn't wedge the session forever. It is a no-op once established
// or while still within the timeout window. Invoked by the egress pipeline
// on every send attempt (spec.md §4.D step 5).
func (s *Session) ResetIfTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.established() {
		return
	}
	if time.Since(s.lastActivity) < HandshakeTimeout {
		return
	}
	_ = s.resetHandshakeLocked()
}

func (s *Session) established() bool {
	return s.state >= StateHandshake3
}

// Encrypt produces the next outbound message for plaintext. While the
// handshake is in progress this is a Noise handshake message carrying
// plaintext as its payload; once established it is a transport ciphertext.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.established() {
		ct := s.send.Encrypt(nil, nil, plaintext)
		return ct, nil
	}

	switch {
	case s.initiator && s.state == StateHandshake1:
		msg, cs1, cs2, err := s.hs.WriteMessage(nil, plaintext)
		if err != nil {
			return nil, fmt.Errorf("cryptosession: write msg1: %w", err)
		}
		s.state = StateHandshake2
		s.lastActivity = time.Now()
		s.finishIfSplitLocked(cs1, cs2)
		return msg, nil

	case !s.initiator && s.state == StateHandshake2:
		msg, cs1, cs2, err := s.hs.WriteMessage(nil, plaintext)
		if err != nil {
			return nil, fmt.Errorf("cryptosession: write msg2: %w", err)
		}
		s.lastActivity = time.Now()
		s.finishIfSplitLocked(cs1, cs2)
		return msg, nil

	case s.initiator && s.state == StateHandshake2:
		// No reply yet; this is a retransmit, so restart the handshake
		// state machine and re-send a fresh message 1.
		if err := s.resetHandshakeLocked(); err != nil {
			return nil, err
		}
		msg, _, _, err := s.hs.WriteMessage(nil, plaintext)
		if err != nil {
			return nil, fmt.Errorf("cryptosession: retry write msg1: %w", err)
		}
		s.state = StateHandshake2
		s.lastActivity = time.Now()
		return msg, nil

	default:
		return nil, fmt.Errorf("cryptosession: Encrypt called in state %s (initiator=%v)", s.state, s.initiator)
	}
}

// Decrypt consumes an inbound message. It returns the plaintext payload
// whether the message was a handshake message or a transport ciphertext;
// the session manager does not need to know which.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.established() {
		pt, err := s.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("cryptosession: transport decrypt: %w", err)
		}
		s.lastActivity = time.Now()
		return pt, nil
	}

	switch {
	case !s.initiator && s.state == StateHandshake1:
		pt, cs1, cs2, err := s.hs.ReadMessage(nil, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("cryptosession: read msg1: %w", err)
		}
		s.state = StateHandshake2
		s.lastActivity = time.Now()
		s.finishIfSplitLocked(cs1, cs2)
		return pt, nil

	case s.initiator && s.state == StateHandshake2:
		pt, cs1, cs2, err := s.hs.ReadMessage(nil, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("cryptosession: read msg2: %w", err)
		}
		s.lastActivity = time.Now()
		s.finishIfSplitLocked(cs1, cs2)
		return pt, nil

	default:
		return nil, fmt.Errorf("cryptosession: Decrypt called in state %s (initiator=%v)", s.state, s.initiator)
	}
}

// finishIfSplitLocked records the transport ciphers once the Noise
// handshake completes. Per the Noise spec, cs1 always encrypts messages
// initiator->responder and cs2 responder->initiator, regardless of which
// side's WriteMessage/ReadMessage call produced the split.
func (s *Session) finishIfSplitLocked(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if s.initiator {
		s.send, s.recv = cs1, cs2
	} else {
		s.send, s.recv = cs2, cs1
	}
	s.state = StateHandshake3
}
