package store

import (
	"time"

	"github.com/ChuLiYu/relay/pkg/types"
)

// Metrics is the hook surface the store and reaper call into. It exists so
// internal/metrics can own the Prometheus wiring while this package stays
// free of that dependency; tests pass a no-op or recording stub.
type Metrics interface {
	// IncRetries records one retry transition for a queue.
	IncRetries(queue types.QueueName)
	// IncErrors records a swallowed or surfaced error, labeled by a short
	// type tag such as "in_flight_update" or "retries_update".
	IncErrors(queue types.QueueName, errType string)
	// SetQueueDepth reports the current pending/in-flight job counts for a
	// queue, replacing whatever was last reported for it.
	SetQueueDepth(queue types.QueueName, pending, inFlight int)
	// ObserveLatency records the time between a job's dispatch (Next) and
	// its completion.
	ObserveLatency(queue types.QueueName, d time.Duration)
}

// NopMetrics discards every observation. It is the default when no sink is
// configured.
type NopMetrics struct{}

func (NopMetrics) IncRetries(types.QueueName) {}
func (NopMetrics) IncErrors(types.QueueName, string) {}
func (NopMetrics) SetQueueDepth(types.QueueName, int, int) {}
func (NopMetrics) ObserveLatency(types.QueueName, time.Duration) {}
