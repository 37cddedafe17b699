package session

import (
	"fmt"
	"log/slog"

	"github.com/meshcore/sessiond/internal/cryptosession"
	"github.com/meshcore/sessiond/internal/wire"
)

// zeroPublicKey is compared against RouteHeader.PublicKey to detect whether
// the inside interface supplied a destination key (spec.md §4.D step 1).
var zeroPublicKey [32]byte

// EgressFromInside implements the inside->switch pipeline of spec.md §4.D.
// raw begins with a route header naming the destination peer; the
// remainder is the application payload. Must only be called from the
// manager's dispatch goroutine.
func (m *Manager) EgressFromInside(raw []byte) {
	if len(raw) < wire.RouteHeaderSize {
		panic("session: egress input shorter than a route header")
	}
	rh := wire.ParseRouteHeader(raw[:wire.RouteHeaderSize])
	payload := raw[wire.RouteHeaderSize:]

	sess := m.table.GetByIP6(rh.IP6)
	if sess == nil {
		if rh.PublicKey == zeroPublicKey {
			m.enqueueForLookup(rh.IP6, raw)
			return
		}
		created, err := m.getOrCreateSession(rh.IP6, rh.PublicKey, rh.Version, rh.Switch.Label)
		if err != nil {
			m.logger.Error("failed to open session for outbound packet", slog.Any("err", err))
			return
		}
		sess = created
	}

	if rh.Version != 0 {
		sess.version = rh.Version
	}

	var label uint64
	switch {
	case rh.Switch.Label != 0:
		label = rh.Switch.Label
	case sess.sendSwitchLabel != 0:
		label = sess.sendSwitchLabel
	default:
		m.enqueueForLookup(rh.IP6, raw)
		return
	}

	m.sendPacket(sess, label, payload)
}

// enqueueForLookup implements spec.md §4.B's enqueue algorithm plus the
// SEARCH_REQ emission §4.D step 1 and §4.B step 4 call for.
func (m *Manager) enqueueForLookup(ip6 [16]byte, message []byte) {
	ok, superseded := m.buffer.Enqueue(ip6, message)
	if superseded {
		m.logger.Debug("superseding buffered message awaiting lookup")
	}
	if !ok {
		m.dropPacket(reasonBufferFull, "")
		return
	}
	m.metrics.SetBufferedMessages(m.buffer.Len())
	m.emitSearchReq(ip6)
}

// sendPacket implements spec.md §4.D steps 4-10: strip is implicit (the
// caller already passed payload without the route header), reset the
// crypto session's handshake timeout, frame the message according to
// handshake state, encrypt, and forward to the switch interface.
func (m *Manager) sendPacket(sess *Session, label uint64, payload []byte) {
	sess.crypto.ResetIfTimeout()
	state := sess.crypto.State()
	established := state >= cryptosession.StateHandshake3

	var toEncrypt []byte
	if established {
		toEncrypt = payload
	} else {
		// Insert our receive handle so it rides inside the authenticated
		// handshake payload, as spec.md §4.D step 6 requires.
		toEncrypt = make([]byte, wire.HandleSize+len(payload))
		wire.PutHandle(toEncrypt, sess.receiveHandle)
		copy(toEncrypt[wire.HandleSize:], payload)
	}

	ciphertext, err := sess.crypto.Encrypt(toEncrypt)
	if err != nil {
		// Fatal: encrypt failure indicates a crypto-primitive contract
		// violation (spec.md §7 "Fatal -- encrypt failure in egress").
		panic(fmt.Sprintf("session: crypto encrypt failed: %v", err))
	}

	switchHeader := wire.SwitchHeader{Label: label}
	var out []byte
	if established {
		out = make([]byte, wire.SwitchHeaderSize+wire.HandleSize+len(ciphertext))
		wire.PutSwitchHeader(out, switchHeader)
		wire.PutHandle(out[wire.SwitchHeaderSize:], sess.sendHandle)
		copy(out[wire.SwitchHeaderSize+wire.HandleSize:], ciphertext)
	} else {
		out = make([]byte, wire.SwitchHeaderSize+wire.HandleSize+wire.CryptoHeaderSize+len(ciphertext))
		wire.PutSwitchHeader(out, switchHeader)
		wire.PutHandle(out[wire.SwitchHeaderSize:], 0)
		copy(out[wire.SwitchHeaderSize+wire.HandleSize:], m.ourPublicKey[:])
		copy(out[wire.SwitchHeaderSize+wire.HandleSize+wire.CryptoHeaderSize:], ciphertext)
	}

	m.deliverToSwitch(out)
}
