package session

import (
	"fmt"
	"log/slog"

	"github.com/meshcore/sessiond/internal/wire"
)

// dispatchEventFrame decodes and handles one inbound pathfinder frame
// (spec.md §4.E "Consumed"). An unrecognized event code or truncated
// payload is a Protocol assertion (spec.md §7): this halts the process
// rather than being absorbed as a drop, since it indicates the event bus
// contract was violated.
func (m *Manager) dispatchEventFrame(frame []byte) {
	code, sourcePF, payload, err := wire.DecodeFrameHeader(frame)
	if err != nil {
		panic(fmt.Sprintf("session: event frame assertion failed: %v", err))
	}
	switch code {
	case wire.EventNode:
		node, err := wire.DecodeNodePayload(payload)
		if err != nil {
			panic(fmt.Sprintf("session: event frame assertion failed: %v", err))
		}
		m.handleNodeEvent(node)
	case wire.EventSessions:
		m.handleSessionsEvent(sourcePF)
	default:
		panic(fmt.Sprintf("session: event frame assertion failed: unexpected inbound code %s", code))
	}
}

// handleNodeEvent implements spec.md §4.E's NODE handling: resume a
// buffered lookup if one is queued for this peer, otherwise refresh an
// existing session's route/version without auto-creating one.
func (m *Manager) handleNodeEvent(node wire.NodePayload) {
	buffered, hasBuffered := m.buffer.Take(node.IP6)
	if !hasBuffered {
		sess := m.table.GetByIP6(node.IP6)
		if sess == nil {
			return
		}
		sess.sendSwitchLabel = node.Path
		sess.version = node.Version
		return
	}

	sess, created, err := m.table.GetOrCreate(node.IP6, node.PublicKey, node.Version, node.Path)
	if err != nil {
		m.logger.Error("failed to open session resuming buffered lookup", slog.Any("err", err))
		return
	}
	sess.manager = m
	if created {
		m.emitSession(sess)
		m.metrics.SetLiveSessions(len(m.table.byIP6))
	}

	if sess.sendSwitchLabel == 0 {
		m.logger.Debug("dropping resumed buffered message: no route label available")
		return
	}

	payload := buffered[wire.RouteHeaderSize:]
	m.sendPacket(sess, sess.sendSwitchLabel, payload)
}

// handleSessionsEvent implements spec.md §4.E's SESSIONS handling: emit one
// SESSION event per live session back to the requesting pathfinder.
func (m *Manager) handleSessionsEvent(sourcePF uint32) {
	for _, h := range m.table.HandleList() {
		sess := m.table.GetByHandle(h)
		if sess == nil {
			continue
		}
		m.emitEvent(wire.EventSession, sourcePF, nodePayloadFor(sess, sess.sendSwitchLabel))
	}
}

func nodePayloadFor(s *Session, path uint64) []byte {
	return wire.EncodeNodePayload(wire.NodePayload{
		Path:      path,
		Metric:    wire.UnusedMetric,
		Version:   s.version,
		IP6:       s.peerIP6,
		PublicKey: s.peerPublicKey,
	})
}

func (m *Manager) emitEvent(code wire.EventCode, destPF uint32, payload []byte) {
	if m.eventLink == nil {
		return
	}
	frame := wire.EncodeFrame(code, destPF, payload)
	if err := m.eventLink.Send(frame); err != nil {
		m.logger.Error("event bus send failed", slog.String("event", code.String()), slog.Any("err", err))
	}
}

func (m *Manager) emitSession(s *Session) {
	m.emitEvent(wire.EventSession, wire.BroadcastPathfinder, nodePayloadFor(s, s.sendSwitchLabel))
	m.metrics.IncSessionsCreated()
}

func (m *Manager) emitSessionEnded(s *Session) {
	m.emitEvent(wire.EventSessionEnded, wire.BroadcastPathfinder, nodePayloadFor(s, s.sendSwitchLabel))
	m.metrics.IncSessionsEnded()
}

func (m *Manager) emitDiscoveredPath(s *Session) {
	m.emitEvent(wire.EventDiscoveredPath, wire.BroadcastPathfinder, nodePayloadFor(s, s.recvSwitchLabel))
	m.metrics.IncPathDiscovered()
}

func (m *Manager) emitSearchReq(ip6 [16]byte) {
	m.emitEvent(wire.EventSearchReq, wire.BroadcastPathfinder, ip6[:])
}
