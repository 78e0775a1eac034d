package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/internal/backing/filelog"
	"github.com/ChuLiYu/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	s, err := New(context.Background(), backing.NewNoop(), withClock(now))
	require.NoError(t, err)
	return s
}

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestSingleAttemptSuccess(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a", Timeout: 10 * time.Second}))

	job, ok := s.Next(ctx, "a")
	require.True(t, ok)
	require.Equal(t, types.JobID("1"), job.ID)

	require.NoError(t, s.Complete(ctx, "a", "1"))

	q, exists := s.existingQueue("a")
	require.True(t, exists)
	require.Empty(t, q.jobs)
	require.Empty(t, q.ready)
	require.Empty(t, q.inFlight)
}

func TestDuplicateRejection(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a"}))
	err := s.Enqueue(ctx, types.Job{ID: "1", Queue: "a"})
	require.Error(t, err)

	var exists *JobExistsError
	require.ErrorAs(t, err, &exists)
	require.Equal(t, types.JobID("1"), exists.ID)
	require.Equal(t, types.QueueName("a"), exists.Queue)
}

func TestTimeoutWithRetryThenTerminal(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a", MaxRetries: 1, Timeout: 0}))

	job, ok := s.Next(ctx, "a")
	require.True(t, ok)
	require.Equal(t, types.JobID("1"), job.ID)

	// Zero timeout: this job is immediately eligible for reap.
	results := s.ReapTimeouts(ctx)
	require.Empty(t, results, "first timeout should retry, not terminate")

	job, ok = s.Next(ctx, "a")
	require.True(t, ok)
	require.Equal(t, types.JobID("1"), job.ID)

	q, _ := s.existingQueue("a")
	q.mu.Lock()
	retries := q.jobs["1"].Retries
	q.mu.Unlock()
	require.Equal(t, uint8(1), retries)

	results = s.ReapTimeouts(ctx)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, types.JobID("1"), results[0].Job.ID)
}

func TestHeartbeatExtension(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a", Timeout: time.Second}))
	_, ok := s.Next(ctx, "a")
	require.True(t, ok)

	now = now.Add(600 * time.Millisecond)
	require.NoError(t, s.Touch(ctx, "a", "1", nil))

	now = now.Add(600 * time.Millisecond)
	results := s.ReapTimeouts(ctx)
	require.Empty(t, results, "heartbeat refresh should prevent reap")
}

func TestRetryFrontOrdering(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a", MaxRetries: 1, Timeout: 0}))
	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "2", Queue: "a", MaxRetries: 1, Timeout: time.Hour}))

	job, ok := s.Next(ctx, "a")
	require.True(t, ok)
	require.Equal(t, types.JobID("1"), job.ID)

	results := s.ReapTimeouts(ctx)
	require.Empty(t, results)

	job, ok = s.Next(ctx, "a")
	require.True(t, ok)
	require.Equal(t, types.JobID("1"), job.ID, "retried job preempts newer arrivals")

	job, ok = s.Next(ctx, "a")
	require.True(t, ok)
	require.Equal(t, types.JobID("2"), job.ID)
}

func TestTouchOnNotInFlightIsNoop(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a"}))
	require.NoError(t, s.Touch(ctx, "a", "1", []byte(`{"n":1}`)))
}

func TestCompleteIsIdempotent(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a"}))
	_, ok := s.Next(ctx, "a")
	require.True(t, ok)

	require.NoError(t, s.Complete(ctx, "a", "1"))
	require.NoError(t, s.Complete(ctx, "a", "1"))
}

func TestEnqueueOnUnknownQueueLazilyCreatesIt(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "fresh"}))
	_, exists := s.existingQueue("fresh")
	require.True(t, exists)
}

func TestTouchClearingStateSurvivesCrashRecovery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.log")

	fl, err := filelog.Open(path, filelog.WithFlushInterval(time.Millisecond))
	require.NoError(t, err)

	s, err := New(ctx, fl)
	require.NoError(t, err)

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a", Timeout: time.Minute, PersistData: true}))
	_, ok := s.Next(ctx, "a")
	require.True(t, ok)

	require.NoError(t, s.Touch(ctx, "a", "1", []byte(`{"n":1}`)))
	// Clear the checkpoint explicitly rather than leaving it untouched.
	require.NoError(t, s.Touch(ctx, "a", "1", nil))

	require.NoError(t, fl.Close())

	fl2, err := filelog.Open(path, filelog.WithFlushInterval(time.Millisecond))
	require.NoError(t, err)
	defer fl2.Close()

	s2, err := New(ctx, fl2)
	require.NoError(t, err)

	q, exists := s2.existingQueue("a")
	require.True(t, exists)
	q.mu.Lock()
	state := q.jobs["1"].State
	q.mu.Unlock()
	require.Nil(t, state, "explicitly cleared checkpoint must not reappear after recovery")
}

func TestNextOnUnknownOrEmptyQueue(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, fixedClock(&now))
	ctx := context.Background()

	_, ok := s.Next(ctx, "nope")
	require.False(t, ok)

	require.NoError(t, s.Enqueue(ctx, types.Job{ID: "1", Queue: "a"}))
	_, ok = s.Next(ctx, "a")
	require.True(t, ok)
	_, ok = s.Next(ctx, "a")
	require.False(t, ok)
}
