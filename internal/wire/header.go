// Package wire defines the on-the-wire packet layouts shared by the
// switch-facing and inside-facing pipelines: the switch header carried by
// every packet on the lower routing interface, and the route header the
// session manager prepends for the upper, decrypted interface.
package wire

import "encoding/binary"

// SwitchHeaderSize is the size in bytes of the lower routing layer's header.
// The layout beyond the 64-bit label is implementation-defined by the switch
// layer and is treated as opaque by this package; only the label is parsed.
const SwitchHeaderSize = 12

// HandleSize is the width of the handle-or-nonce field at the front of every
// switch-layer payload.
const HandleSize = 4

// FirstHandleMin and FirstHandleMax bound the randomized starting handle
// chosen by a session table at construction (spec.md §4.A, §6).
const (
	FirstHandleMin = 4
	FirstHandleMax = 100000
)

// MaxReservedHandle is the highest handle value reserved for handshake
// nonces; values 0..MaxReservedHandle are never valid receive handles.
const MaxReservedHandle = 3

// RouteHeaderSize is the size of the internal route header prepended to
// every packet delivered upward to the inside interface. Layout:
//
//	SwitchHeader (SwitchHeaderSize bytes)
//	Version      (4 bytes, big-endian)
//	IP6          (16 bytes)
//	PublicKey    (32 bytes)
const RouteHeaderSize = SwitchHeaderSize + 4 + 16 + 32

// RunPacketMinSize is the minimum total length of a switch-layer packet
// carrying a run (handle-addressed) message: switch header + handle + a
// minimal AEAD ciphertext.
const RunPacketMinSize = SwitchHeaderSize + HandleSize + 20

// CryptoHeaderSize is the size of the clear-text public key field embedded
// in a handshake-phase packet: the ingress pipeline reads this field before
// the crypto session exists, so it cannot be folded into the Noise
// ciphertext the way the run-phase handle is (spec.md §4.C step 2).
const CryptoHeaderSize = 32

// HandshakePacketMinSize is the minimum total length of a switch-layer
// packet carrying a handshake-phase message: switch header + nonce +
// embedded public key + a minimal Noise handshake payload.
const HandshakePacketMinSize = SwitchHeaderSize + HandleSize + CryptoHeaderSize + 20

// SwitchHeader is the parsed form of the lower layer's fixed header.
type SwitchHeader struct {
	Label uint64
}

// ParseSwitchHeader reads a SwitchHeader from the front of buf. The caller
// must ensure len(buf) >= SwitchHeaderSize.
func ParseSwitchHeader(buf []byte) SwitchHeader {
	return SwitchHeader{Label: binary.BigEndian.Uint64(buf[:8])}
}

// PutSwitchHeader writes sh into the front of buf. The caller must ensure
// len(buf) >= SwitchHeaderSize.
func PutSwitchHeader(buf []byte, sh SwitchHeader) {
	binary.BigEndian.PutUint64(buf[:8], sh.Label)
	// Remaining bytes (path metric, reserved) are switch-layer internals
	// this package does not interpret; zero them so test fixtures are
	// reproducible.
	for i := 8; i < SwitchHeaderSize; i++ {
		buf[i] = 0
	}
}

// RouteHeader is the parsed form of the internal inside-facing header.
type RouteHeader struct {
	Switch    SwitchHeader
	Version   uint32
	IP6       [16]byte
	PublicKey [32]byte
}

// ParseRouteHeader reads a RouteHeader from the front of buf. The caller
// must ensure len(buf) >= RouteHeaderSize.
func ParseRouteHeader(buf []byte) RouteHeader {
	var rh RouteHeader
	rh.Switch = ParseSwitchHeader(buf[:SwitchHeaderSize])
	off := SwitchHeaderSize
	rh.Version = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	copy(rh.IP6[:], buf[off:off+16])
	off += 16
	copy(rh.PublicKey[:], buf[off:off+32])
	return rh
}

// PutRouteHeader writes rh into the front of buf. The caller must ensure
// len(buf) >= RouteHeaderSize.
func PutRouteHeader(buf []byte, rh RouteHeader) {
	PutSwitchHeader(buf[:SwitchHeaderSize], rh.Switch)
	off := SwitchHeaderSize
	binary.BigEndian.PutUint32(buf[off:off+4], rh.Version)
	off += 4
	copy(buf[off:off+16], rh.IP6[:])
	off += 16
	copy(buf[off:off+32], rh.PublicKey[:])
}

// ReadHandleOrNonce reads the big-endian 32-bit value at the front of buf,
// which is either a handshake nonce (<= MaxReservedHandle) or a receive
// handle (> MaxReservedHandle).
func ReadHandleOrNonce(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[:HandleSize])
}

// PutHandle writes h as a big-endian 32-bit value into the front of buf.
func PutHandle(buf []byte, h uint32) {
	binary.BigEndian.PutUint32(buf[:HandleSize], h)
}
