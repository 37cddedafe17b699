package wire

import (
	"encoding/binary"
	"fmt"
)

// EventCode identifies a frame on the pathfinder event bus (spec.md §4.E).
type EventCode uint32

const (
	// EventSession is emitted core -> pathfinder on session creation.
	EventSession EventCode = iota + 1
	// EventSessionEnded is emitted core -> pathfinder on session destruction.
	EventSessionEnded
	// EventDiscoveredPath is emitted core -> pathfinder when ingress reveals
	// a new path to an existing session.
	EventDiscoveredPath
	// EventSearchReq is emitted core -> pathfinder when egress needs a
	// lookup for a destination with no known route.
	EventSearchReq
	// EventNode is consumed pathfinder -> core: a node record arrived.
	EventNode
	// EventSessions is consumed pathfinder -> core: enumerate all sessions.
	EventSessions
)

func (c EventCode) String() string {
	switch c {
	case EventSession:
		return "SESSION"
	case EventSessionEnded:
		return "SESSION_ENDED"
	case EventDiscoveredPath:
		return "DISCOVERED_PATH"
	case EventSearchReq:
		return "SEARCH_REQ"
	case EventNode:
		return "NODE"
	case EventSessions:
		return "SESSIONS"
	default:
		return fmt.Sprintf("EventCode(%d)", uint32(c))
	}
}

// BroadcastPathfinder is the sentinel dest/source pathfinder id meaning
// "broadcast to all pathfinders" (spec.md §4.E).
const BroadcastPathfinder uint32 = 0xFFFFFFFF

// UnusedMetric is the sentinel value SESSION/SESSION_ENDED/DISCOVERED_PATH
// payloads carry in the reserved metric field: path metric computation is
// an explicit Non-goal (spec.md §1), so the field is always this constant
// rather than a real measurement.
const UnusedMetric uint32 = 0xFFFFFFFF

// NodePayloadSize is the fixed size of the Node event payload (spec.md §6):
// path(8) + metric(4) + version(4) + ip6(16) + public_key(32).
const NodePayloadSize = 8 + 4 + 4 + 16 + 32

// frameHeaderSize is the 4-byte event code + 4-byte dest/source pathfinder
// id every frame carries (spec.md §6).
const frameHeaderSize = 4 + 4

// ErrShortFrame is returned when a frame is too small to contain its
// mandatory header, or shorter than the payload its event code requires.
// Treated as a Protocol assertion (spec.md §7): callers should abort, not
// silently drop.
type ErrShortFrame struct {
	Code EventCode
	Want int
	Got  int
}

func (e ErrShortFrame) Error() string {
	return fmt.Sprintf("wire: short frame for %s: want >= %d bytes, got %d", e.Code, e.Want, e.Got)
}

// ErrUnknownEvent is returned when a frame's event code is outside the
// closed set enumerated by EventCode. Treated as a Protocol assertion.
type ErrUnknownEvent struct{ Code uint32 }

func (e ErrUnknownEvent) Error() string {
	return fmt.Sprintf("wire: unknown event code %d", e.Code)
}

// NodePayload is the shape carried by SESSION, SESSION_ENDED,
// DISCOVERED_PATH (emitted) and NODE (consumed) frames.
type NodePayload struct {
	Path      uint64
	Metric    uint32
	Version   uint32
	IP6       [16]byte
	PublicKey [32]byte
}

// EncodeNodePayload serializes p in the big-endian layout spec.md §6
// describes.
func EncodeNodePayload(p NodePayload) []byte {
	out := make([]byte, NodePayloadSize)
	binary.BigEndian.PutUint64(out[0:8], p.Path)
	binary.BigEndian.PutUint32(out[8:12], p.Metric)
	binary.BigEndian.PutUint32(out[12:16], p.Version)
	copy(out[16:32], p.IP6[:])
	copy(out[32:64], p.PublicKey[:])
	return out
}

// DecodeNodePayload parses a NodePayload, failing with ErrShortFrame if buf
// is truncated.
func DecodeNodePayload(buf []byte) (NodePayload, error) {
	if len(buf) < NodePayloadSize {
		return NodePayload{}, ErrShortFrame{Code: EventNode, Want: NodePayloadSize, Got: len(buf)}
	}
	var p NodePayload
	p.Path = binary.BigEndian.Uint64(buf[0:8])
	p.Metric = binary.BigEndian.Uint32(buf[8:12])
	p.Version = binary.BigEndian.Uint32(buf[12:16])
	copy(p.IP6[:], buf[16:32])
	copy(p.PublicKey[:], buf[32:64])
	return p, nil
}

// EncodeFrame builds a full event bus frame: 4-byte event code, 4-byte
// dest/source pathfinder id, then payload.
func EncodeFrame(code EventCode, pathfinderID uint32, payload []byte) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(code))
	binary.BigEndian.PutUint32(out[4:8], pathfinderID)
	copy(out[8:], payload)
	return out
}

// DecodeFrameHeader parses the event code and pathfinder id off the front
// of a frame, returning the remaining payload slice. It returns
// ErrShortFrame if the frame is smaller than the mandatory header, and
// ErrUnknownEvent if the code is outside the closed set.
func DecodeFrameHeader(frame []byte) (EventCode, uint32, []byte, error) {
	if len(frame) < frameHeaderSize {
		return 0, 0, nil, ErrShortFrame{Want: frameHeaderSize, Got: len(frame)}
	}
	code := EventCode(binary.BigEndian.Uint32(frame[0:4]))
	switch code {
	case EventSession, EventSessionEnded, EventDiscoveredPath, EventSearchReq, EventNode, EventSessions:
	default:
		return 0, 0, nil, ErrUnknownEvent{Code: uint32(code)}
	}
	pfID := binary.BigEndian.Uint32(frame[4:8])
	return code, pfID, frame[frameHeaderSize:], nil
}
