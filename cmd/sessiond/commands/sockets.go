package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/meshcore/sessiond/internal/transport"
)

// linkHolder tracks the single currently-connected client on one of
// sessiond's local sockets (switch, inside, events) so the manager's
// outbound callbacks have somewhere to write even though the link itself
// is only established once a client dials in, and may disconnect and
// reconnect over the daemon's lifetime.
type linkHolder struct {
	mu     sync.Mutex
	link   *transport.Link
	name   string
	logger *slog.Logger
}

func newLinkHolder(name string, logger *slog.Logger) *linkHolder {
	return &linkHolder{name: name, logger: logger}
}

func (h *linkHolder) set(l *transport.Link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.link = l
}

// clear drops l only if it is still the active link, so a stale goroutine
// racing a newer connection can't clobber it.
func (h *linkHolder) clear(l *transport.Link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.link == l {
		h.link = nil
	}
}

func (h *linkHolder) send(frame []byte) error {
	h.mu.Lock()
	l := h.link
	h.mu.Unlock()
	if l == nil {
		return fmt.Errorf("%s: no client connected", h.name)
	}
	return l.Send(frame)
}

// switchSink adapts a linkHolder to session.SwitchSink.
type switchSink struct{ holder *linkHolder }

func (s switchSink) DeliverToSwitch(packet []byte) {
	if err := s.holder.send(packet); err != nil {
		s.holder.logger.Warn("dropping outbound switch packet", slog.Any("err", err))
	}
}

// insideSink adapts a linkHolder to session.InsideSink.
type insideSink struct{ holder *linkHolder }

func (s insideSink) DeliverFromSession(packet []byte) {
	if err := s.holder.send(packet); err != nil {
		s.holder.logger.Warn("dropping inbound packet destined for inside interface", slog.Any("err", err))
	}
}

// eventSink adapts a linkHolder to session.EventLink.
type eventSink struct{ holder *linkHolder }

func (s eventSink) Send(frame []byte) error {
	return s.holder.send(frame)
}

// listenUnix binds a UNIX domain socket at addr, removing any stale socket
// file left behind by a prior, uncleanly terminated run.
func listenUnix(addr string) (net.Listener, error) {
	if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", addr, err)
	}
	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// acceptLoop accepts one client connection at a time on ln, installing it
// into holder and running transport.Link.Run against handle until the
// client disconnects, then waits for the next connection. It returns when
// ctx is cancelled or Accept fails for a reason other than cancellation.
func acceptLoop(
	ctx context.Context,
	ln net.Listener,
	holder *linkHolder,
	logger *slog.Logger,
	handle transport.FrameHandler,
) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: accept: %w", holder.name, err)
		}

		link := transport.NewLink(conn, logger, holder.name)
		holder.set(link)
		logger.Info("client connected", slog.String("socket", holder.name))

		runErr := link.Run(ctx, handle)
		holder.clear(link)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runErr != nil {
			logger.Warn("client disconnected", slog.String("socket", holder.name), slog.Any("err", runErr))
		}
	}
}
