// Package types holds the wire-level vocabulary shared across the relay
// core, its backings, and the HTTP surface: job identity, the immutable
// job record, and the mutable envelope the store keeps around it.
package types

import "time"

// JobID uniquely identifies a job within its queue.
type JobID string

// QueueName names an independent FIFO lane.
type QueueName string

// Job is the user-supplied work descriptor. The core never inspects Payload.
type Job struct {
	ID          JobID         `json:"id"`
	Queue       QueueName     `json:"queue"`
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  uint8         `json:"max_retries"`
	PersistData bool          `json:"persist_data"`
	Payload     []byte        `json:"payload,omitempty"`
}

// StoredJob is a Job plus the mutable state the store maintains while the
// job is alive. Heartbeat is non-nil iff the job is currently in-flight.
type StoredJob struct {
	Job       Job        `json:"job"`
	Retries   uint8      `json:"retries"`
	InFlight  bool       `json:"in_flight"`
	State     []byte     `json:"state,omitempty"`
	Heartbeat *time.Time `json:"heartbeat,omitempty"`
}

// Clone returns a deep-enough copy safe to hand outside the queue lock:
// Payload/State slices are shared (treated as immutable once set) but the
// Heartbeat pointer is duplicated so callers can't mutate our timestamp.
func (s StoredJob) Clone() StoredJob {
	clone := s
	if s.Heartbeat != nil {
		hb := *s.Heartbeat
		clone.Heartbeat = &hb
	}
	return clone
}
