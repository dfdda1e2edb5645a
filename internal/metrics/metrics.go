// Package metrics defines the instrumentation hooks used by the services
// and the scheduler, with Prometheus, in-memory and no-op backends.
package metrics

import "time"

// Recorder receives domain events worth counting.
type Recorder interface {
	// ObserveTick records one scheduler pass and how many links were due.
	ObserveTick(duration time.Duration, due int)
	// IncPingCompleted counts a committed probe. outcome is one of
	// success, failure, timeout or error.
	IncPingCompleted(outcome string)
	// IncPingSkipped counts a due link that was not probed or whose result
	// was discarded, labelled by reason.
	IncPingSkipped(reason string)
	ObservePingLatency(duration time.Duration)

	IncLinkCreated()
	IncLinkDeleted()
	AddCreditDebited(amount int64)
	AddCreditAdded(amount int64)

	IncSubscriptionTransition(action string)

	AddPingsPruned(count int64)
}

type noop struct{}

// NewNoop returns a Recorder that drops every event.
func NewNoop() Recorder { return noop{} }

func (noop) ObserveTick(time.Duration, int) {}
func (noop) IncPingCompleted(string) {}
func (noop) IncPingSkipped(string) {}
func (noop) ObservePingLatency(time.Duration) {}
func (noop) IncLinkCreated() {}
func (noop) IncLinkDeleted() {}
func (noop) AddCreditDebited(int64) {}
func (noop) AddCreditAdded(int64) {}
func (noop) IncSubscriptionTransition(string) {}
func (noop) AddPingsPruned(int64) {}
