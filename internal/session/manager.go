package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/meshcore/sessiond/internal/wire"
)

// defaultMaxBufferedMessages is the implementation-defined default for
// spec.md §6's max_buffered_messages configuration knob.
const defaultMaxBufferedMessages = 256

// defaultWorkQueueSize bounds the closure queue Manager.Run drains; readers
// (switch, inside, event bus, sweeper) block on a full queue rather than
// dropping silently, matching spec.md §5's "no signal propagates upstream
// beyond log output" backpressure note for the buffered-message queue
// specifically, while still giving callers a way to detect saturation via
// context cancellation.
const defaultWorkQueueSize = 1024

// InsideSink receives fully decrypted, route-headered packets the ingress
// pipeline forwards upward (spec.md §6 "Upward (inside) interface").
type InsideSink interface {
	DeliverFromSession(packet []byte)
}

// SwitchSink receives fully encrypted, switch-headered packets the egress
// pipeline forwards downward (spec.md §6 "Downward (switch) interface").
type SwitchSink interface {
	DeliverToSwitch(packet []byte)
}

// Manager owns the Session Table and Buffered-Message Queue and is the
// single point of mutation for both (spec.md §3 "Ownership"). Every
// exported Push/Handle method enqueues a closure onto workCh; only the
// goroutine running Run ever touches table, buffer or a session's mutable
// fields, giving the whole manager the single-threaded cooperative-loop
// semantics spec.md §5 requires without any internal locking.
type Manager struct {
	logger  *slog.Logger
	clock   Clock
	metrics MetricsReporter

	table  *table
	buffer *bufferQueue

	eventLink EventLink
	inside    InsideSink
	switchIf  SwitchSink

	ourPublicKey [32]byte

	// metricHalflifeMillis is carried but never read by any live code
	// path -- spec.md §9's open question preserves the knob without
	// inventing a metric-aging policy.
	metricHalflifeMillis uint32

	// maxBufferedOverride stages WithMaxBufferedMessages until NewManager
	// constructs the buffer queue; zero means "use the default".
	maxBufferedOverride int

	workCh chan func()
}

// ManagerOption configures optional Manager parameters.
type ManagerOption func(*Manager)

// WithMetrics sets the MetricsReporter the manager updates. If mr is nil
// the manager keeps its no-op default.
func WithMetrics(mr MetricsReporter) ManagerOption {
	return func(m *Manager) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// WithClock overrides the time source; used by tests to drive scenario S5
// (timeout eviction) deterministically.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMaxBufferedMessages overrides spec.md §6's max_buffered_messages.
func WithMaxBufferedMessages(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxBufferedOverride = n
		}
	}
}

// WithMetricHalflifeMillis sets the inert metric_halflife_milliseconds
// config knob (spec.md §6, §9 open question).
func WithMetricHalflifeMillis(ms uint32) ManagerOption {
	return func(m *Manager) { m.metricHalflifeMillis = ms }
}

// WithWorkQueueSize overrides the default closure-queue buffer size.
func WithWorkQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workCh = make(chan func(), n)
		}
	}
}

// NewManager constructs a Manager. ourPublicKey is this node's own static
// identity (used for the ingress self-handshake check and embedded in
// outbound handshake packets); newCrypto opens a CryptoSession for a peer
// whose static key is already known. eventLink may be nil if this node has
// no pathfinder configured yet; inside/switchIf may be nil in tests that
// only inspect the Manager's decisions rather than its forwarded packets.
func NewManager(
	logger *slog.Logger,
	ourPublicKey [32]byte,
	newCrypto CryptoSessionFactory,
	eventLink EventLink,
	inside InsideSink,
	switchIf SwitchSink,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		logger:       logger.With(slog.String("component", "session.manager")),
		clock:        realClock{},
		metrics:      noopMetrics{},
		eventLink:    eventLink,
		inside:       inside,
		switchIf:     switchIf,
		ourPublicKey: ourPublicKey,
		workCh:       make(chan func(), defaultWorkQueueSize),
	}

	maxBuffered := defaultMaxBufferedMessages
	for _, opt := range opts {
		opt(m)
	}
	if m.maxBufferedOverride > 0 {
		maxBuffered = m.maxBufferedOverride
	}

	firstHandle := randomFirstHandle()
	m.table = newTable(firstHandle, newCrypto, m.determineInitiator, m.clock)
	m.buffer = newBufferQueue(maxBuffered, m.clock)
	return m
}

// determineInitiator picks a Noise KK handshake role deterministically
// from both parties' static keys, so two independently constructed
// Sessions (one per side) agree on who sends message 1 without any
// out-of-band coordination: the lexicographically greater public key
// initiates.
func (m *Manager) determineInitiator(peerPublicKey [32]byte) bool {
	return bytes.Compare(m.ourPublicKey[:], peerPublicKey[:]) > 0
}

// randomFirstHandle picks firstHandle uniformly in
// [FirstHandleMin, FirstHandleMax), spec.md §6.
func randomFirstHandle() uint32 {
	span := wire.FirstHandleMax - wire.FirstHandleMin
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		// crypto/rand failure is unrecoverable for a security-sensitive
		// handle base; this is a programming/environment error, not a
		// traffic-driven condition, so it is fatal.
		panic(fmt.Sprintf("session: failed to randomize first handle: %v", err))
	}
	return wire.FirstHandleMin + uint32(n.Int64())
}

// Run drains the closure queue serially until ctx is cancelled, and ticks
// the 10-second sweeper (spec.md §4.F, §5). It is the idiomatic Go analogue
// of the C source's single EventBase loop: everything that touches the
// session table, the buffer map, or a session's mutable fields happens
// here and only here.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.workCh:
			fn()
		case <-ticker.C:
			m.sweep()
		}
	}
}

// enqueue schedules fn to run on the dispatch goroutine. It blocks if the
// queue is full rather than silently dropping, so a sustained overload
// shows up as backpressure on the caller instead of a silent gap in
// processing order.
func (m *Manager) enqueue(ctx context.Context, fn func()) error {
	select {
	case m.workCh <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushFromSwitch accepts a raw packet off the downward (switch) interface
// (spec.md §6).
func (m *Manager) PushFromSwitch(ctx context.Context, raw []byte) error {
	return m.enqueue(ctx, func() { m.IngressFromSwitch(raw) })
}

// PushFromInside accepts a raw packet off the upward (inside) interface
// (spec.md §6).
func (m *Manager) PushFromInside(ctx context.Context, raw []byte) error {
	return m.enqueue(ctx, func() { m.EgressFromInside(raw) })
}

// HandleEventFrame accepts one inbound frame from the pathfinder event
// link (spec.md §4.E "Consumed").
func (m *Manager) HandleEventFrame(ctx context.Context, frame []byte) error {
	return m.enqueue(ctx, func() { m.dispatchEventFrame(frame) })
}

// RemoveSession implements spec.md §4.A remove, emitting exactly one
// SESSION_ENDED (invariant 6) if the session was still live.
func (m *Manager) RemoveSession(ctx context.Context, s *Session) error {
	return m.enqueue(ctx, func() {
		if m.table.Remove(s) {
			m.emitSessionEnded(s)
			m.metrics.SetLiveSessions(len(m.table.byIP6))
		}
	})
}

// SessionCount reports the number of live sessions. Test-only convenience;
// must be called from the dispatch goroutine or before Run starts.
func (m *Manager) SessionCount() int { return len(m.table.byIP6) }

// BufferedCount reports the number of buffered outbound messages awaiting
// route discovery. Test-only convenience; same goroutine contract as
// SessionCount.
func (m *Manager) BufferedCount() int { return m.buffer.Len() }

func (m *Manager) deliverToInside(packet []byte) {
	if m.inside != nil {
		m.inside.DeliverFromSession(packet)
	}
}

func (m *Manager) deliverToSwitch(packet []byte) {
	if m.switchIf != nil {
		m.switchIf.DeliverToSwitch(packet)
	}
}
