package store

import (
	"context"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/pkg/types"
)

// ReapResult is one item of a reap drain: a terminated Job, or a Reaper
// error for an item whose durable removal failed. The drain continues
// past a per-item error.
type ReapResult struct {
	Job types.Job
	Err error
}

type retryUpdate struct {
	queue types.QueueName
	id    types.JobID
	stale types.StoredJob
}

type terminalItem struct {
	queue types.QueueName
	id    types.JobID
}

// ReapTimeouts runs one reap cycle: a per-queue scan that retries or marks
// terminal every timed-out in-flight job, followed by a terminal drain
// that calls into the durable backing outside any queue lock held across
// the whole scan. The result is collected into an owned buffer (rather
// than a live stream) so the caller is never handed a value borrowed from
// a lock the Store has already released.
//
// Callers must fully drain one cycle before starting the next; ticks must
// not overlap.
func (s *Store) ReapTimeouts(ctx context.Context) []ReapResult {
	s.mu.RLock()
	names := make([]types.QueueName, 0, len(s.queues))
	queues := make([]*queueState, 0, len(s.queues))
	for name, q := range s.queues {
		names = append(names, name)
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	var terminals []terminalItem

	for i, q := range queues {
		queue := names[i]
		retries := s.scanQueue(queue, q)
		for _, ru := range retries {
			s.applyRetryUpdate(ctx, ru)
		}
		terminals = append(terminals, s.collectTerminals(queue, q)...)
	}

	results := make([]ReapResult, 0, len(terminals))
	for _, t := range terminals {
		if r, ok := s.drainTerminal(ctx, t); ok {
			results = append(results, r)
		}
	}
	return results
}

// scanQueue is phase 1 for a single queue: classify every in-flight job as
// still-alive, retry, or terminal. Terminal ids stay in inFlight for now —
// collectTerminals finalizes them individually right after, so no queue
// lock is ever held across a backing call here.
func (s *Store) scanQueue(queue types.QueueName, q *queueState) []retryUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := s.now()
	var retries []retryUpdate

	for id := range q.inFlight {
		sj, ok := q.jobs[id]
		if !ok {
			delete(q.inFlight, id)
			continue
		}
		if sj.Heartbeat == nil {
			// Invariant violation: in-flight with no heartbeat. Drop
			// silently rather than propagate a state we can't trust.
			delete(q.inFlight, id)
			continue
		}
		if now.Sub(*sj.Heartbeat) < sj.Job.Timeout {
			continue
		}

		terminal := sj.Job.MaxRetries == 0 || sj.Retries >= sj.Job.MaxRetries
		if terminal {
			// Leave in inFlight; collectTerminals finalizes it next.
			continue
		}

		sj.Retries++
		sj.Heartbeat = nil
		sj.InFlight = false
		delete(q.inFlight, id)
		delete(q.dispatched, id)
		q.pushFront(id)
		s.metrics.IncRetries(queue)

		if sj.Job.PersistData {
			retries = append(retries, retryUpdate{queue: queue, id: id, stale: *sj})
		}
	}

	s.metrics.SetQueueDepth(queue, len(q.ready), len(q.inFlight))
	return retries
}

// applyRetryUpdate persists a retry's new attempt count. Failure here does
// not unwind the in-memory retry — the job will still be re-dispensed —
// it only increments an errors{queue,type=retries_update} counter.
func (s *Store) applyRetryUpdate(ctx context.Context, ru retryUpdate) {
	retries := ru.stale.Retries
	inFlight := false
	err := s.backing.Update(ctx, ru.queue, ru.id, backing.Update{Retries: &retries, InFlight: &inFlight})
	if err != nil {
		s.metrics.IncErrors(ru.queue, "retries_update")
		s.log.Warn("retry update failed", "queue", ru.queue, "id", ru.id, "err", err)
	}
}

// collectTerminals identifies ids that scanQueue marked terminal: still in
// inFlight but past timeout with no retries left. It does not mutate the
// queue; drainTerminal finalizes each one under its own short lock.
func (s *Store) collectTerminals(queue types.QueueName, q *queueState) []terminalItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := s.now()
	var terminals []terminalItem
	for id := range q.inFlight {
		sj, ok := q.jobs[id]
		if !ok {
			continue
		}
		if sj.Heartbeat == nil || now.Sub(*sj.Heartbeat) < sj.Job.Timeout {
			continue
		}
		if sj.Job.MaxRetries == 0 || sj.Retries >= sj.Job.MaxRetries {
			terminals = append(terminals, terminalItem{queue: queue, id: id})
		}
	}
	return terminals
}

// drainTerminal finalizes one terminal item under the queue's lock,
// calling into the backing outside any scan-wide critical section. ok is
// false when the job was already removed by a concurrent Complete between
// the scan and the drain — nothing to report for it.
func (s *Store) drainTerminal(ctx context.Context, t terminalItem) (ReapResult, bool) {
	q, exists := s.existingQueue(t.queue)
	if !exists {
		return ReapResult{}, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sj, ok := q.jobs[t.id]
	if !ok {
		delete(q.inFlight, t.id)
		delete(q.dispatched, t.id)
		return ReapResult{}, false
	}

	if sj.Job.PersistData {
		if err := s.backing.Remove(ctx, *sj); err != nil {
			delete(q.inFlight, t.id)
			delete(q.jobs, t.id)
			delete(q.dispatched, t.id)
			s.metrics.SetQueueDepth(t.queue, len(q.ready), len(q.inFlight))
			return ReapResult{
				Job: sj.Job,
				Err: &ReaperError{Queue: t.queue, ID: t.id, Message: err.Error()},
			}, true
		}
	}

	delete(q.inFlight, t.id)
	delete(q.jobs, t.id)
	delete(q.dispatched, t.id)
	s.metrics.SetQueueDepth(t.queue, len(q.ready), len(q.inFlight))
	return ReapResult{Job: sj.Job}, true
}
