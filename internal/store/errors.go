package store

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/relay/pkg/types"
)

// JobExistsError is returned by Enqueue when (queue, id) is already known.
type JobExistsError struct {
	Queue types.QueueName
	ID    types.JobID
}

func (e *JobExistsError) Error() string {
	return fmt.Sprintf("job already exists: queue=%s id=%s", e.Queue, e.ID)
}

// JobNotFoundError is returned by Touch/Complete when the queue or id is
// unknown. Complete never returns it for its own removal step — absence
// there is treated as idempotent success — but it can still surface for an
// entirely unknown queue.
type JobNotFoundError struct {
	Queue types.QueueName
	ID    types.JobID
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: queue=%s id=%s", e.Queue, e.ID)
}

// ReaperError reports that a single terminal-drain item failed to remove
// from the durable backing. It does not abort the rest of the drain.
type ReaperError struct {
	Queue   types.QueueName
	ID      types.JobID
	Message string
}

func (e *ReaperError) Error() string {
	return fmt.Sprintf("reaper: queue=%s id=%s: %s", e.Queue, e.ID, e.Message)
}

// Is lets errors.Is(err, ErrJobExists) and friends work as class checks
// without callers needing to know field values.
var (
	ErrJobExists   = &JobExistsError{}
	ErrJobNotFound = &JobNotFoundError{}
)

func (e *JobExistsError) Is(target error) bool {
	_, ok := target.(*JobExistsError)
	return ok
}

func (e *JobNotFoundError) Is(target error) bool {
	_, ok := target.(*JobNotFoundError)
	return ok
}

// AsJobExists extracts queue/id details from an enqueue duplicate error.
func AsJobExists(err error) (*JobExistsError, bool) {
	var target *JobExistsError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
