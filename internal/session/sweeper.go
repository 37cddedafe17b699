package session

import "log/slog"

// sweepInterval is the fixed 10-second period spec.md §4.F names.
const sweepInterval = 10 // seconds, see manager.go's time.NewTicker(sweepInterval*time.Second)

// sweep implements spec.md §4.F: evict every buffered message older than
// bufferExpiry. Must only be called from the dispatch goroutine.
func (m *Manager) sweep() {
	evicted := m.buffer.SweepExpired()
	if evicted > 0 {
		m.logger.Debug("swept expired buffered messages", slog.Int("count", evicted))
	}
	m.metrics.SetBufferedMessages(m.buffer.Len())
}
