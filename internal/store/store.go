// Package store implements the in-memory, multi-queue job broker: the
// state machine of every job, the per-queue serialization discipline, and
// the coordination with a pluggable durable Backing that makes recovery
// after a crash sound.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/pkg/types"
)

// Store owns every queue and mediates enqueue/next/touch/complete. The
// zero value is not usable; construct with New.
type Store struct {
	mu      sync.RWMutex
	queues  map[types.QueueName]*queueState
	backing backing.Backing
	metrics Metrics
	log     *slog.Logger

	now func() time.Time
}

// Option customizes Store construction.
type Option func(*Store)

// WithMetrics wires a Metrics sink. Default is NopMetrics.
func WithMetrics(m Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// withClock overrides the time source; used by tests to control heartbeat
// and timeout arithmetic deterministically.
func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs a Store, replaying b.Recover() into memory via the
// internal no-op backing so recovered jobs are not re-persisted. A
// recovery failure is fatal and no Store is returned.
func New(ctx context.Context, b backing.Backing, opts ...Option) (*Store, error) {
	if b == nil {
		b = backing.NewNoop()
	}

	s := &Store{
		queues:  make(map[types.QueueName]*queueState),
		backing: b,
		metrics: NopMetrics{},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	recovered, err := b.Recover(ctx)
	if err != nil {
		return nil, err
	}

	replay := backing.NewNoop()
	for _, stored := range recovered {
		// Recovered jobs always come back ready, never in-flight: the
		// worker that held them is gone, and at-least-once delivery
		// means re-offering them is correct.
		stored.InFlight = false
		stored.Heartbeat = nil
		if err := s.enqueueStored(ctx, replay, stored); err != nil {
			return nil, err
		}
	}

	s.log.Info("store recovered", "jobs", len(recovered))
	return s, nil
}

// queueFor returns the named queue's state, lazily creating it under a
// brief write lock if unknown. Concurrent lookups of existing queues only
// need the read lock.
func (s *Store) queueFor(name types.QueueName) *queueState {
	s.mu.RLock()
	q, ok := s.queues[name]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[name]; ok {
		return q
	}
	q = newQueueState()
	s.queues[name] = q
	return q
}

// QueueStats is a point-in-time snapshot of one queue's depth.
type QueueStats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
}

// Stats reports pending/in-flight counts for every queue that currently
// exists. A queue with zero jobs left in it still shows up once created.
func (s *Store) Stats() map[types.QueueName]QueueStats {
	s.mu.RLock()
	names := make([]types.QueueName, 0, len(s.queues))
	queues := make([]*queueState, 0, len(s.queues))
	for name, q := range s.queues {
		names = append(names, name)
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	out := make(map[types.QueueName]QueueStats, len(names))
	for i, q := range queues {
		q.mu.Lock()
		out[names[i]] = QueueStats{Pending: len(q.ready), InFlight: len(q.inFlight)}
		q.mu.Unlock()
	}
	return out
}

// existingQueue looks up a queue without creating it.
func (s *Store) existingQueue(name types.QueueName) (*queueState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	return q, ok
}

// Enqueue admits a fresh job. The queue is created lazily if unknown.
// Fails with *JobExistsError on a duplicate id, or a *backing.Error if the
// durable push fails — in which case no in-memory trace is left.
func (s *Store) Enqueue(ctx context.Context, job types.Job) error {
	stored := types.StoredJob{Job: job}
	return s.enqueueStored(ctx, s.backing, stored)
}

// enqueueStored is Enqueue's guts, parameterized over which Backing to
// persist through — the real one for live callers, the no-op one for
// recovery replay, as spec design notes require.
func (s *Store) enqueueStored(ctx context.Context, b backing.Backing, stored types.StoredJob) error {
	q := s.queueFor(stored.Job.Queue)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[stored.Job.ID]; exists {
		return &JobExistsError{Queue: stored.Job.Queue, ID: stored.Job.ID}
	}

	if stored.Job.PersistData {
		if err := b.Push(ctx, stored); err != nil {
			return backing.Wrap(stored.Job.Queue, "push", err)
		}
	}

	job := stored
	q.jobs[stored.Job.ID] = &job
	q.pushBack(stored.Job.ID)
	s.metrics.SetQueueDepth(stored.Job.Queue, len(q.ready), len(q.inFlight))
	return nil
}

// Next dispenses the oldest ready job on queue, if any. ok is false when
// the queue is unknown or empty. A durable in-flight update failure is
// swallowed into an errors{queue,type=in_flight_update} counter rather
// than unwinding the dispatch — the reaper will re-discover the job
// regardless, which is a deliberate availability trade-off.
func (s *Store) Next(ctx context.Context, queue types.QueueName) (job types.Job, ok bool) {
	q, exists := s.existingQueue(queue)
	if !exists {
		return types.Job{}, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id, popped := q.popFront()
	if !popped {
		return types.Job{}, false
	}

	sj := q.jobs[id]
	q.inFlight[id] = struct{}{}
	now := s.now()
	sj.InFlight = true
	sj.Heartbeat = &now
	q.dispatched[id] = now

	if sj.Job.PersistData {
		inFlight := true
		if err := s.backing.Update(ctx, queue, id, backing.Update{InFlight: &inFlight}); err != nil {
			s.metrics.IncErrors(queue, "in_flight_update")
			s.log.Warn("in-flight update failed", "queue", queue, "id", id, "err", err)
		}
	}

	s.metrics.SetQueueDepth(queue, len(q.ready), len(q.inFlight))
	return sj.Job, true
}

// Touch refreshes a worker's heartbeat and optionally checkpoints opaque
// state. A job that is not currently in-flight is silently accepted: a
// worker touching a job it no longer holds is a confusion the store
// swallows rather than rejects.
func (s *Store) Touch(ctx context.Context, queue types.QueueName, id types.JobID, state []byte) error {
	q, exists := s.existingQueue(queue)
	if !exists {
		return &JobNotFoundError{Queue: queue, ID: id}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sj, ok := q.jobs[id]
	if !ok {
		return &JobNotFoundError{Queue: queue, ID: id}
	}
	if sj.Heartbeat == nil {
		return nil
	}

	stateChanged := state != nil || sj.State != nil
	if sj.Job.PersistData && stateChanged {
		// state is passed by reference, not by value, so a clearing touch
		// (state == nil, sj.State != nil) reaches the backing as an
		// explicit "set to nil" rather than "leave untouched".
		if err := s.backing.Update(ctx, queue, id, backing.Update{State: &state}); err != nil {
			return backing.Wrap(queue, "touch_update", err)
		}
	}

	now := s.now()
	sj.Heartbeat = &now
	sj.State = state
	return nil
}

// Complete finalizes a job. Missing from jobs is not an error — Complete
// is idempotent, so a repeated call after the first succeeds as a no-op.
func (s *Store) Complete(ctx context.Context, queue types.QueueName, id types.JobID) error {
	q, exists := s.existingQueue(queue)
	if !exists {
		return &JobNotFoundError{Queue: queue, ID: id}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, id)

	sj, ok := q.jobs[id]
	if !ok {
		delete(q.dispatched, id)
		return nil
	}
	delete(q.jobs, id)

	if dispatchedAt, ok := q.dispatched[id]; ok {
		s.metrics.ObserveLatency(queue, s.now().Sub(dispatchedAt))
		delete(q.dispatched, id)
	}

	if sj.Job.PersistData {
		if err := s.backing.Remove(ctx, *sj); err != nil {
			s.metrics.SetQueueDepth(queue, len(q.ready), len(q.inFlight))
			return backing.Wrap(queue, "remove", err)
		}
	}
	s.metrics.SetQueueDepth(queue, len(q.ready), len(q.inFlight))
	return nil
}
