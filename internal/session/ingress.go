package session

import (
	"log/slog"

	"github.com/meshcore/sessiond/internal/address"
	"github.com/meshcore/sessiond/internal/wire"
)

// IngressFromSwitch implements the switch->inside pipeline of spec.md §4.C.
// raw begins with a switch header, followed by either a run packet's
// handle or a handshake packet's nonce + embedded peer public key. Must
// only be called from the manager's dispatch goroutine.
func (m *Manager) IngressFromSwitch(raw []byte) {
	if len(raw) < wire.RunPacketMinSize {
		m.dropPacket(reasonRunt, "packet shorter than switch header + handle + minimal ciphertext")
		return
	}

	switchHeader := wire.ParseSwitchHeader(raw[:wire.SwitchHeaderSize])
	rest := raw[wire.SwitchHeaderSize:]
	nonceOrHandle := wire.ReadHandleOrNonce(rest)

	var sess *Session
	var isSetup bool
	var ciphertext []byte

	if nonceOrHandle > wire.MaxReservedHandle {
		sess = m.table.GetByHandle(nonceOrHandle)
		if sess == nil {
			m.dropPacket(reasonUnrecognizedHandle, "")
			return
		}
		ciphertext = rest[wire.HandleSize:]
		isSetup = false
	} else {
		if len(raw) < wire.HandshakePacketMinSize {
			m.dropPacket(reasonRunt, "handshake packet shorter than switch header + nonce + embedded key + minimal ciphertext")
			return
		}

		var peerKey [32]byte
		copy(peerKey[:], rest[wire.HandleSize:wire.HandleSize+wire.CryptoHeaderSize])

		ip6, ok := address.ForPublicKey(peerKey)
		if !ok {
			m.dropPacket(reasonNonFCKey, "")
			return
		}
		if peerKey == m.ourPublicKey {
			m.dropPacket(reasonSelfHandshake, "")
			return
		}

		created, err := m.getOrCreateSession(ip6, peerKey, 0, switchHeader.Label)
		if err != nil {
			m.logger.Error("failed to open session for inbound handshake", slog.Any("err", err))
			return
		}
		sess = created
		ciphertext = rest[wire.HandleSize+wire.CryptoHeaderSize:]
		isSetup = true
	}

	plaintext, err := sess.crypto.Decrypt(ciphertext)
	if err != nil {
		m.dropPacketForSession(reasonDecryptFailure, sess, err)
		return
	}

	if isSetup {
		if len(plaintext) < wire.HandleSize {
			m.dropPacket(reasonRunt, "decrypted handshake payload too short to carry a send handle")
			return
		}
		sess.recordSendHandle(wire.ReadHandleOrNonce(plaintext[:wire.HandleSize]))
		plaintext = plaintext[wire.HandleSize:]
	}

	out := make([]byte, wire.RouteHeaderSize+len(plaintext))
	wire.PutRouteHeader(out, wire.RouteHeader{
		Switch:    switchHeader,
		Version:   sess.version,
		IP6:       sess.peerIP6,
		PublicKey: sess.peerPublicKey,
	})
	copy(out[wire.RouteHeaderSize:], plaintext)

	if sess.recordIngressPath(switchHeader.Label) {
		m.emitDiscoveredPath(sess)
	}

	m.deliverToInside(out)
}

// getOrCreateSession wraps table.GetOrCreate, wiring the manager
// back-reference and emitting SESSION exactly once per new session
// (invariant 6), per §4.A create's step 3.
func (m *Manager) getOrCreateSession(ip6 [16]byte, peerPublicKey [32]byte, version uint32, label uint64) (*Session, error) {
	sess, created, err := m.table.GetOrCreate(ip6, peerPublicKey, version, label)
	if err != nil {
		return nil, err
	}
	if created {
		sess.manager = m
		m.emitSession(sess)
		m.metrics.SetLiveSessions(len(m.table.byIP6))
	}
	return sess, nil
}

func (m *Manager) dropPacket(reason dropReason, detail string) {
	m.metrics.IncDropped(string(reason))
	if detail != "" {
		m.logger.Debug("dropping packet", slog.String("reason", string(reason)), slog.String("detail", detail))
	} else {
		m.logger.Debug("dropping packet", slog.String("reason", string(reason)))
	}
}

func (m *Manager) dropPacketForSession(reason dropReason, sess *Session, err error) {
	m.metrics.IncDropped(string(reason))
	m.logger.Debug("dropping packet",
		slog.String("reason", string(reason)),
		slog.String("state", sess.crypto.State().String()),
		slog.Any("err", err),
	)
}
