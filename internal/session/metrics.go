package session

// MetricsReporter receives counters the manager updates as it processes
// traffic. internal/metrics.Collector implements this against Prometheus;
// tests and the zero-value Manager use noopMetrics so metrics wiring is
// never load-bearing on the tested invariants.
type MetricsReporter interface {
	IncSessionsCreated()
	IncSessionsEnded()
	SetLiveSessions(n int)
	SetBufferedMessages(n int)
	IncDropped(reason string)
	IncPathDiscovered()
}

type noopMetrics struct{}

func (noopMetrics) IncSessionsCreated()     {}
func (noopMetrics) IncSessionsEnded()       {}
func (noopMetrics) SetLiveSessions(int)     {}
func (noopMetrics) SetBufferedMessages(int) {}
func (noopMetrics) IncDropped(string)       {}
func (noopMetrics) IncPathDiscovered()      {}
