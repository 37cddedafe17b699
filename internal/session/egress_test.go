package session

import (
	"testing"

	"github.com/meshcore/sessiond/internal/cryptosession"
	"github.com/meshcore/sessiond/internal/wire"
)

func countEventCode(frames [][]byte, want wire.EventCode) int {
	n := 0
	for _, f := range frames {
		code, _, _, err := wire.DecodeFrameHeader(f)
		if err == nil && code == want {
			n++
		}
	}
	return n
}

func TestEgressBuffersAndEmitsSearchReqWhenRouteUnknown(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	_, destIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	raw := buildRouteHeaderPacket(wire.RouteHeader{IP6: destIP6}, []byte("hello"))
	rig.manager.EgressFromInside(raw)

	if rig.manager.BufferedCount() != 1 {
		t.Errorf("BufferedCount() = %d, want 1", rig.manager.BufferedCount())
	}
	if got := countEventCode(rig.events.frames, wire.EventSearchReq); got != 1 {
		t.Errorf("SEARCH_REQ frames = %d, want 1", got)
	}
	if len(rig.switchIf.packets) != 0 {
		t.Errorf("delivered %d packets to switch, want 0", len(rig.switchIf.packets))
	}
}

func TestEgressBufferSupersedesPriorEntryForSamePeer(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	_, destIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	rig.manager.EgressFromInside(buildRouteHeaderPacket(wire.RouteHeader{IP6: destIP6}, []byte("first")))
	rig.manager.EgressFromInside(buildRouteHeaderPacket(wire.RouteHeader{IP6: destIP6}, []byte("second")))

	if rig.manager.BufferedCount() != 1 {
		t.Errorf("BufferedCount() = %d, want 1 (second supersedes first)", rig.manager.BufferedCount())
	}
	if got := countEventCode(rig.events.frames, wire.EventSearchReq); got != 2 {
		t.Errorf("SEARCH_REQ frames = %d, want 2", got)
	}
}

func TestEgressDropsWhenBufferFull(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	_, destA := validOverlayKey(t)
	_, destB := validOverlayKey(t)
	rig := newTestRig(ourKey, WithMaxBufferedMessages(1))

	rig.manager.EgressFromInside(buildRouteHeaderPacket(wire.RouteHeader{IP6: destA}, []byte("a")))
	rig.manager.EgressFromInside(buildRouteHeaderPacket(wire.RouteHeader{IP6: destB}, []byte("b")))

	if rig.manager.BufferedCount() != 1 {
		t.Errorf("BufferedCount() = %d, want 1", rig.manager.BufferedCount())
	}
	if got := countEventCode(rig.events.frames, wire.EventSearchReq); got != 1 {
		t.Errorf("SEARCH_REQ frames = %d, want 1 (second drop does not search)", got)
	}
}

func TestEgressSendsUnestablishedHandshakeFramedPacketWhenKeyAndLabelKnown(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	payload := []byte("payload123")
	rh := wire.RouteHeader{IP6: peerIP6, PublicKey: peerKey, Switch: wire.SwitchHeader{Label: 55}}
	rig.manager.EgressFromInside(buildRouteHeaderPacket(rh, payload))

	if rig.manager.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", rig.manager.SessionCount())
	}
	if len(rig.switchIf.packets) != 1 {
		t.Fatalf("delivered %d packets to switch, want 1", len(rig.switchIf.packets))
	}

	wantLen := wire.SwitchHeaderSize + wire.HandleSize + wire.CryptoHeaderSize + wire.HandleSize + len(payload)
	if got := len(rig.switchIf.packets[0]); got != wantLen {
		t.Errorf("unestablished packet length = %d, want %d", got, wantLen)
	}
}

func TestEgressSendsEstablishedRunFramedPacketOnceHandshakeComplete(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	rh := wire.RouteHeader{IP6: peerIP6, PublicKey: peerKey, Switch: wire.SwitchHeader{Label: 55}}
	rig.manager.EgressFromInside(buildRouteHeaderPacket(rh, []byte("first")))

	fc := rig.crypto.get(peerIP6)
	if fc == nil {
		t.Fatal("expected a fake crypto session to have been recorded")
	}
	fc.setState(cryptosession.StateHandshake3)

	payload := []byte("established-payload")
	rig.manager.EgressFromInside(buildRouteHeaderPacket(wire.RouteHeader{IP6: peerIP6}, payload))

	if len(rig.switchIf.packets) != 2 {
		t.Fatalf("delivered %d packets to switch, want 2", len(rig.switchIf.packets))
	}

	wantLen := wire.SwitchHeaderSize + wire.HandleSize + len(payload)
	if got := len(rig.switchIf.packets[1]); got != wantLen {
		t.Errorf("established packet length = %d, want %d", got, wantLen)
	}
}
