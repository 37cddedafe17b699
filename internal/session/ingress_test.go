package session

import (
	"testing"

	"github.com/meshcore/sessiond/internal/wire"
)

func TestIngressHandshakeCreatesSessionAndEmitsEvents(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)

	rig := newTestRig(ourKey)
	raw := buildHandshakePacket(42, peerKey, make([]byte, 20))

	rig.manager.IngressFromSwitch(raw)

	sess := rig.manager.table.GetByIP6(peerIP6)
	if sess == nil {
		t.Fatal("expected a session to be created")
	}
	if sess.lifecycle != lifecycleEstablished {
		t.Errorf("lifecycle = %v, want lifecycleEstablished", sess.lifecycle)
	}
	if rig.manager.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", rig.manager.SessionCount())
	}

	// first packet from this peer moves recv_switch_label from its zero
	// value, so it also counts as path discovery (§4.C step 7).
	var sessionFrames, discoveredFrames int
	for _, f := range rig.events.frames {
		code, _, _, err := wire.DecodeFrameHeader(f)
		if err != nil {
			t.Fatalf("DecodeFrameHeader: %v", err)
		}
		switch code {
		case wire.EventSession:
			sessionFrames++
		case wire.EventDiscoveredPath:
			discoveredFrames++
		}
	}
	if sessionFrames != 1 {
		t.Errorf("SESSION frames = %d, want 1", sessionFrames)
	}
	if discoveredFrames != 1 {
		t.Errorf("DISCOVERED_PATH frames = %d, want 1", discoveredFrames)
	}

	if len(rig.inside.packets) != 1 {
		t.Fatalf("delivered %d packets upward, want 1", len(rig.inside.packets))
	}
	rh := wire.ParseRouteHeader(rig.inside.packets[0][:wire.RouteHeaderSize])
	if rh.IP6 != peerIP6 {
		t.Errorf("route header IP6 = %x, want %x", rh.IP6, peerIP6)
	}
}

func TestIngressDropsRuntPacket(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	rig := newTestRig(ourKey)

	rig.manager.IngressFromSwitch(make([]byte, 4))

	if rig.manager.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", rig.manager.SessionCount())
	}
	if len(rig.inside.packets) != 0 {
		t.Errorf("delivered %d packets upward, want 0", len(rig.inside.packets))
	}
}

func TestIngressDropsUnrecognizedHandle(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	rig := newTestRig(ourKey)

	raw := buildRunPacket(7, 999999, make([]byte, 20))
	rig.manager.IngressFromSwitch(raw)

	if len(rig.inside.packets) != 0 {
		t.Errorf("delivered %d packets upward, want 0", len(rig.inside.packets))
	}
}

func TestIngressDropsNonFCKey(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	rig := newTestRig(ourKey)

	var badKey [32]byte
	for i := range badKey {
		badKey[i] = 0x01
	}
	raw := buildHandshakePacket(1, badKey, make([]byte, 20))
	rig.manager.IngressFromSwitch(raw)

	if rig.manager.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", rig.manager.SessionCount())
	}
}

func TestIngressDropsSelfHandshake(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	rig := newTestRig(ourKey)

	raw := buildHandshakePacket(1, ourKey, make([]byte, 20))
	rig.manager.IngressFromSwitch(raw)

	if rig.manager.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", rig.manager.SessionCount())
	}
}

func TestIngressDropsDecryptFailure(t *testing.T) {
	ourKey, _ := validOverlayKey(t)
	peerKey, peerIP6 := validOverlayKey(t)
	rig := newTestRig(ourKey)

	// First packet establishes the session.
	rig.manager.IngressFromSwitch(buildHandshakePacket(1, peerKey, make([]byte, 20)))
	if rig.manager.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", rig.manager.SessionCount())
	}

	fc := rig.crypto.get(peerIP6)
	if fc == nil {
		t.Fatal("expected a fake crypto session to have been recorded")
	}
	fc.setDecryptErr(errFakeDecrypt)

	sess := rig.manager.table.GetByIP6(peerIP6)
	raw := buildRunPacket(1, sess.receiveHandle, make([]byte, 20))

	rig.manager.IngressFromSwitch(raw)

	if len(rig.inside.packets) != 1 {
		t.Errorf("delivered %d packets upward, want 1 (only the first)", len(rig.inside.packets))
	}
}
