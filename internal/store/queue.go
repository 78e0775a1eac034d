package store

import (
	"sync"
	"time"

	"github.com/ChuLiYu/relay/pkg/types"
)

// queueState is one queue's serialization point: a single mutex gates its
// job table, ready deque, and in-flight set. Different queues never block
// each other.
type queueState struct {
	mu       sync.Mutex
	jobs     map[types.JobID]*types.StoredJob
	ready    []types.JobID
	inFlight map[types.JobID]struct{}

	// dispatched records when a job was last handed out via Next, purely
	// in-memory bookkeeping for the processing-latency metric — it does
	// not need to survive a crash.
	dispatched map[types.JobID]time.Time
}

func newQueueState() *queueState {
	return &queueState{
		jobs:       make(map[types.JobID]*types.StoredJob),
		ready:      make([]types.JobID, 0),
		inFlight:   make(map[types.JobID]struct{}),
		dispatched: make(map[types.JobID]time.Time),
	}
}

// pushBack appends to the tail of the ready deque — the landing spot for
// freshly enqueued jobs.
func (q *queueState) pushBack(id types.JobID) {
	q.ready = append(q.ready, id)
}

// pushFront prepends to the ready deque — where retried jobs go so they
// preempt newer arrivals.
func (q *queueState) pushFront(id types.JobID) {
	q.ready = append([]types.JobID{id}, q.ready...)
}

// popFront removes and returns the head of the ready deque. ok is false
// when the deque is empty.
func (q *queueState) popFront() (id types.JobID, ok bool) {
	if len(q.ready) == 0 {
		return "", false
	}
	id = q.ready[0]
	q.ready = q.ready[1:]
	return id, true
}
