// Package transport implements the length-prefixed framing shared by every
// local socket sessiond speaks over: the switch interface, the inside
// interface, and the pathfinder event bus (spec.md §6). Each is a stream of
// independent messages over a net.Conn with no shared notion of frame
// boundaries beyond a 4-byte big-endian length prefix, so one Link
// implementation covers all three.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// lengthPrefixSize is the width of the frame-length header prepended to
// every frame on the wire.
const lengthPrefixSize = 4

// maxFrameSize bounds a single frame so a corrupt length prefix cannot force
// an unbounded allocation.
const maxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when a peer announces a frame length beyond
// maxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

// FrameHandler processes one inbound frame.
type FrameHandler func(ctx context.Context, frame []byte) error

// Link wraps a net.Conn with length-prefixed framing. Concurrent Send calls
// are serialized with a mutex since net.Conn.Write is not safe for
// concurrent use by multiple goroutines writing overlapping frames.
type Link struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex
}

// NewLink wraps conn as a framed Link. component names the caller for the
// logger (e.g. "switch", "inside", "events").
func NewLink(conn net.Conn, logger *slog.Logger, component string) *Link {
	return &Link{
		conn:   conn,
		logger: logger.With(slog.String("component", "transport.link"), slog.String("link", component)),
	}
}

// Send writes one length-prefixed frame to the underlying connection.
func (l *Link) Send(frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("transport: send: %w", ErrFrameTooLarge)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))

	if _, err := l.conn.Write(prefix[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (l *Link) Close() error {
	return l.conn.Close()
}

// Run reads length-prefixed frames from the connection until ctx is
// cancelled or the connection is closed, dispatching each to handle. The
// caller runs this in its own goroutine alongside the link's siblings.
func (l *Link) Run(ctx context.Context, handle FrameHandler) error {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	for {
		frame, err := l.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("transport: read frame: %w", err)
		}

		if err := handle(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("frame handling failed", slog.Any("err", err))
		}
	}
}

func (l *Link) readFrame() ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(l.conn, prefix[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(l.conn, frame); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}
