package session

import (
	"testing"

	"github.com/meshcore/sessiond/internal/wire"
)

func TestNodeEventResumesBufferedMessage(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	payload := []byte("buffered-payload")
	rig.manager.EgressFromInside(buildRouteHeaderPacket(wire.RouteHeader{IP6: peerIP6}, payload))
	if rig.manager.BufferedCount() != 1 {
		t.Fatalf("BufferedCount() = %d, want 1", rig.manager.BufferedCount())
	}

	node := wire.NodePayload{Path: 99, Metric: wire.UnusedMetric, Version: 1, IP6: peerIP6, PublicKey: peerKey}
	frame := wire.EncodeFrame(wire.EventNode, 0, wire.EncodeNodePayload(node))
	rig.manager.dispatchEventFrame(frame)

	if rig.manager.BufferedCount() != 0 {
		t.Errorf("BufferedCount() = %d, want 0 after resume", rig.manager.BufferedCount())
	}
	if rig.manager.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", rig.manager.SessionCount())
	}
	if len(rig.switchIf.packets) != 1 {
		t.Fatalf("delivered %d packets to switch, want 1", len(rig.switchIf.packets))
	}
}

func TestNodeEventRefreshesExistingSessionWithoutResend(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	rig.manager.IngressFromSwitch(buildHandshakePacket(1, peerKey, make([]byte, 20)))
	if rig.manager.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", rig.manager.SessionCount())
	}

	node := wire.NodePayload{Path: 4242, Metric: wire.UnusedMetric, Version: 3, IP6: peerIP6, PublicKey: peerKey}
	frame := wire.EncodeFrame(wire.EventNode, 0, wire.EncodeNodePayload(node))
	rig.manager.dispatchEventFrame(frame)

	sess := rig.manager.table.GetByIP6(peerIP6)
	if sess.sendSwitchLabel != 4242 {
		t.Errorf("sendSwitchLabel = %d, want 4242", sess.sendSwitchLabel)
	}
	if sess.version != 3 {
		t.Errorf("version = %d, want 3", sess.version)
	}
	if len(rig.switchIf.packets) != 0 {
		t.Errorf("delivered %d packets to switch, want 0 (no buffered message to resume)", len(rig.switchIf.packets))
	}
}

func TestSessionsEventEnumeratesLiveSessions(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerAKey, _ := validOverlayKey(t)
	peerBKey, _ := validOverlayKey(t)
	rig := newTestRig(ourKey)

	rig.manager.IngressFromSwitch(buildHandshakePacket(1, peerAKey, make([]byte, 20)))
	rig.manager.IngressFromSwitch(buildHandshakePacket(2, peerBKey, make([]byte, 20)))
	if rig.manager.SessionCount() != 2 {
		t.Fatalf("SessionCount() = %d, want 2", rig.manager.SessionCount())
	}

	const requester = uint32(7)
	frame := wire.EncodeFrame(wire.EventSessions, requester, nil)
	rig.manager.dispatchEventFrame(frame)

	n := 0
	for _, f := range rig.events.frames {
		code, dest, _, err := wire.DecodeFrameHeader(f)
		if err != nil {
			t.Fatalf("DecodeFrameHeader: %v", err)
		}
		if code == wire.EventSession && dest == requester {
			n++
		}
	}
	if n != 2 {
		t.Errorf("SESSION replies to requester = %d, want 2", n)
	}
}

func TestRemoveSessionEmitsSessionEndedExactlyOnce(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	rig.manager.IngressFromSwitch(buildHandshakePacket(1, peerKey, make([]byte, 20)))
	sess := rig.manager.table.GetByIP6(peerIP6)
	if sess == nil {
		t.Fatal("expected a session")
	}

	removeOnce := func() {
		if rig.manager.table.Remove(sess) {
			rig.manager.emitSessionEnded(sess)
			rig.manager.metrics.SetLiveSessions(len(rig.manager.table.byIP6))
		}
	}

	removeOnce()
	removeOnce()

	if rig.manager.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", rig.manager.SessionCount())
	}
	if got := countEventCode(rig.events.frames, wire.EventSessionEnded); got != 1 {
		t.Errorf("SESSION_ENDED frames = %d, want 1", got)
	}
}
