package session

import (
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/meshcore/sessiond/internal/address"
	"github.com/meshcore/sessiond/internal/cryptosession"
	"github.com/meshcore/sessiond/internal/wire"
)

// This file is intentionally a white-box (package session, not
// session_test) test helper file: the manager's dispatch-loop entry
// points (IngressFromSwitch, EgressFromInside, dispatchEventFrame) are
// synchronous methods meant to run on a single dedicated goroutine
// (spec.md §5); calling them directly here, single-threaded, lets the
// test suite exercise the pipelines' logic without standing up the
// channel/goroutine plumbing Run provides for production callers.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// validOverlayKey returns a random public key that hashes into the
// overlay's reserved address range, along with the address it derives.
func validOverlayKey(t *testing.T) (pub [32]byte, ip6 [16]byte) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if _, err := rand.Read(pub[:]); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}
		if ip, ok := address.ForPublicKey(pub); ok {
			return pub, ip
		}
	}
	t.Fatal("failed to find a valid overlay key after many attempts")
	return pub, ip6
}

// fakeClock is a controllable Clock for deterministic timeout tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCrypto is a bare-bones CryptoSession double: Encrypt/Decrypt are
// identity transforms, and the handshake state is driven directly by
// tests rather than by a real Noise handshake, so the pipelines can be
// exercised without running two real crypto sessions end to end.
type fakeCrypto struct {
	mu sync.Mutex

	peerIP6 [16]byte
	peerKey [32]byte

	state      cryptosession.State
	decryptErr error
	resetCount int
}

func newFakeCrypto(peerIP6 [16]byte, peerKey [32]byte) *fakeCrypto {
	return &fakeCrypto{peerIP6: peerIP6, peerKey: peerKey, state: cryptosession.StateHandshake1}
}

func (f *fakeCrypto) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (f *fakeCrypto) Decrypt(ciphertext []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}

func (f *fakeCrypto) State() cryptosession.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCrypto) setState(s cryptosession.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeCrypto) setDecryptErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decryptErr = err
}

func (f *fakeCrypto) ResetIfTimeout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCount++
}

func (f *fakeCrypto) PeerIPv6() [16]byte      { return f.peerIP6 }
func (f *fakeCrypto) PeerPublicKey() [32]byte { return f.peerKey }

var errFakeDecrypt = errors.New("fake decrypt failure")

// fakeCryptoFactory builds a CryptoSessionFactory backed by fakeCrypto,
// recording every constructed session (keyed by peer ip6) so tests can
// reach in and flip state/errors after a session is created.
type fakeCryptoFactory struct {
	mu       sync.Mutex
	sessions map[[16]byte]*fakeCrypto
}

func newFakeCryptoFactory() *fakeCryptoFactory {
	return &fakeCryptoFactory{sessions: make(map[[16]byte]*fakeCrypto)}
}

func (f *fakeCryptoFactory) factory() CryptoSessionFactory {
	return func(peerPublicKey [32]byte, peerIP6 [16]byte, initiator bool) (CryptoSession, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fc := newFakeCrypto(peerIP6, peerPublicKey)
		f.sessions[peerIP6] = fc
		return fc, nil
	}
}

func (f *fakeCryptoFactory) get(ip6 [16]byte) *fakeCrypto {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[ip6]
}

// fakeEventLink records every frame sent to it. Send is mutex-protected
// since TestManagerRunDispatchesQueuedWork exercises it concurrently with
// the dispatch goroutine via Manager.Run.
type fakeEventLink struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
}

func (f *fakeEventLink) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeEventLink) snapshotFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// fakeInsideSink records packets delivered upward.
type fakeInsideSink struct {
	packets [][]byte
}

func (s *fakeInsideSink) DeliverFromSession(packet []byte) {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	s.packets = append(s.packets, cp)
}

// fakeSwitchSink records packets delivered downward.
type fakeSwitchSink struct {
	packets [][]byte
}

func (s *fakeSwitchSink) DeliverToSwitch(packet []byte) {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	s.packets = append(s.packets, cp)
}

// testRig bundles a Manager with its fake collaborators, all reachable
// for white-box assertions.
type testRig struct {
	manager  *Manager
	crypto   *fakeCryptoFactory
	events   *fakeEventLink
	inside   *fakeInsideSink
	switchIf *fakeSwitchSink
	clock    *fakeClock
}

func newTestRig(ourKey [32]byte, opts ...ManagerOption) *testRig {
	crypto := newFakeCryptoFactory()
	events := &fakeEventLink{}
	inside := &fakeInsideSink{}
	switchIf := &fakeSwitchSink{}
	clock := newFakeClock(time.Unix(1000, 0))

	allOpts := append([]ManagerOption{WithClock(clock)}, opts...)
	mgr := NewManager(discardLogger(), ourKey, crypto.factory(), events, inside, switchIf, allOpts...)

	return &testRig{manager: mgr, crypto: crypto, events: events, inside: inside, switchIf: switchIf, clock: clock}
}

// buildHandshakePacket assembles a raw switch-layer handshake packet:
// switch header + nonce(0) + peer public key + ciphertext.
func buildHandshakePacket(label uint64, peerKey [32]byte, ciphertext []byte) []byte {
	out := make([]byte, wire.SwitchHeaderSize+wire.HandleSize+wire.CryptoHeaderSize+len(ciphertext))
	wire.PutSwitchHeader(out, wire.SwitchHeader{Label: label})
	wire.PutHandle(out[wire.SwitchHeaderSize:], 0)
	copy(out[wire.SwitchHeaderSize+wire.HandleSize:], peerKey[:])
	copy(out[wire.SwitchHeaderSize+wire.HandleSize+wire.CryptoHeaderSize:], ciphertext)
	return out
}

// buildRunPacket assembles a raw switch-layer run packet: switch header +
// handle + ciphertext.
func buildRunPacket(label uint64, handle uint32, ciphertext []byte) []byte {
	out := make([]byte, wire.SwitchHeaderSize+wire.HandleSize+len(ciphertext))
	wire.PutSwitchHeader(out, wire.SwitchHeader{Label: label})
	wire.PutHandle(out[wire.SwitchHeaderSize:], handle)
	copy(out[wire.SwitchHeaderSize+wire.HandleSize:], ciphertext)
	return out
}

// buildRouteHeaderPacket assembles a raw inside-facing packet: route
// header + payload.
func buildRouteHeaderPacket(rh wire.RouteHeader, payload []byte) []byte {
	out := make([]byte, wire.RouteHeaderSize+len(payload))
	wire.PutRouteHeader(out, rh)
	copy(out[wire.RouteHeaderSize:], payload)
	return out
}
