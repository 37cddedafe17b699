// Package eventbus implements the pathfinder event link (spec.md §4.E) on
// top of internal/transport's generic length-prefixed framing.
package eventbus

import (
	"context"
	"log/slog"
	"net"

	"github.com/meshcore/sessiond/internal/transport"
)

// ErrFrameTooLarge is returned when a peer announces a frame length beyond
// the transport layer's maximum.
var ErrFrameTooLarge = transport.ErrFrameTooLarge

// Handler processes one inbound event frame, as internal/session.Manager's
// HandleEventFrame does. It is the eventbus package's only dependency on
// the session package's shape, kept as an interface to avoid an import
// cycle.
type Handler interface {
	HandleEventFrame(ctx context.Context, frame []byte) error
}

// Link wraps a net.Conn as the pathfinder event bus and implements
// internal/session.EventLink.
type Link struct {
	link *transport.Link
}

// NewLink wraps conn as an event bus Link.
func NewLink(conn net.Conn, logger *slog.Logger) *Link {
	return &Link{link: transport.NewLink(conn, logger, "events")}
}

// Send implements internal/session.EventLink: writes one length-prefixed
// frame to the underlying connection.
func (l *Link) Send(frame []byte) error {
	return l.link.Send(frame)
}

// Close closes the underlying connection.
func (l *Link) Close() error {
	return l.link.Close()
}

// Run reads frames from the connection until ctx is cancelled or the
// connection is closed, dispatching each to handler. The caller is
// expected to run this in its own goroutine alongside the switch and
// inside readers (spec.md §5).
func (l *Link) Run(ctx context.Context, handler Handler) error {
	return l.link.Run(ctx, handler.HandleEventFrame)
}
