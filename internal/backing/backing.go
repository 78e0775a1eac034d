// Package backing defines the durable-storage contract the store relies on
// for crash recovery, plus a no-op implementation used both when no durable
// tier is configured and internally during recovery replay.
package backing

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/relay/pkg/types"
)

// Backing is the pluggable durable collaborator. Implementations must be
// safe for concurrent use; the store makes no attempt to serialize calls
// into it beyond what the queue lock already guarantees.
type Backing interface {
	// Recover returns every job the durable tier believes was live at
	// shutdown, in per-queue enqueue order. A failure here is fatal to
	// store construction, so it is returned rather than streamed lazily.
	Recover(ctx context.Context) ([]types.StoredJob, error)

	// Push persists a newly enqueued job.
	Push(ctx context.Context, stored types.StoredJob) error

	// Update applies a partial update. Nil pointers mean "do not modify".
	Update(ctx context.Context, queue types.QueueName, id types.JobID, u Update) error

	// Remove deletes the durable record. Removing an already-removed job
	// is not an error.
	Remove(ctx context.Context, stored types.StoredJob) error
}

// Update carries the fields an Update call may change. A nil pointer field
// leaves the corresponding StoredJob field untouched. State is itself a
// pointer-to-slice so "absent" (nil *[]byte, do not touch) and "present but
// empty/cleared" (non-nil *[]byte pointing at a nil slice) are distinct —
// a bare []byte can't represent both.
type Update struct {
	State    *[]byte
	Retries  *uint8
	InFlight *bool
}

// Error wraps a durable-operation failure with the labels the reaper and
// store use for metrics and caller-facing messages.
type Error struct {
	Queue types.QueueName
	Type  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backing: queue=%s type=%s: %v", e.Queue, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error labeled with queue and a short error-type tag
// (e.g. "push", "update", "remove", "recover") suitable as a metric label.
func Wrap(queue types.QueueName, errType string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Queue: queue, Type: errType, Err: err}
}
