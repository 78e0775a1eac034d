package filelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/pkg/types"
)

func TestPushUpdateRecover(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.log")

	s, err := Open(path, WithFlushInterval(time.Millisecond))
	require.NoError(t, err)

	job := types.Job{ID: "1", Queue: "a", PersistData: true, MaxRetries: 2}
	require.NoError(t, s.Push(ctx, types.StoredJob{Job: job}))

	retries := uint8(1)
	inFlight := true
	require.NoError(t, s.Update(ctx, "a", "1", backing.Update{Retries: &retries, InFlight: &inFlight}))

	require.NoError(t, s.Close())

	s2, err := Open(path, WithFlushInterval(time.Millisecond))
	require.NoError(t, err)
	defer s2.Close()

	recovered, err := s2.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, types.JobID("1"), recovered[0].Job.ID)
	require.Equal(t, uint8(1), recovered[0].Retries)
	require.True(t, recovered[0].InFlight)
}

func TestRemoveDropsFromRecover(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.log")

	s, err := Open(path, WithFlushInterval(time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	job := types.Job{ID: "1", Queue: "a", PersistData: true}
	require.NoError(t, s.Push(ctx, types.StoredJob{Job: job}))
	require.NoError(t, s.Remove(ctx, types.StoredJob{Job: job}))

	recovered, err := s.Recover(ctx)
	require.NoError(t, err)
	require.Empty(t, recovered)

	// Removing an already-removed job is not an error.
	require.NoError(t, s.Remove(ctx, types.StoredJob{Job: job}))
}

func TestUpdateClearingStateSurvivesRecover(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.log")

	s, err := Open(path, WithFlushInterval(time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	job := types.Job{ID: "1", Queue: "a", PersistData: true}
	require.NoError(t, s.Push(ctx, types.StoredJob{Job: job}))

	state := []byte(`{"n":1}`)
	require.NoError(t, s.Update(ctx, "a", "1", backing.Update{State: &state}))

	recovered, err := s.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, state, recovered[0].State)

	// A checkpoint explicitly cleared (nil, not merely untouched) must
	// come back nil too, not the stale value from the earlier update.
	var cleared []byte
	require.NoError(t, s.Update(ctx, "a", "1", backing.Update{State: &cleared}))

	recovered, err = s.Recover(ctx)
	require.NoError(t, err)
	require.Nil(t, recovered[0].State)
}

func TestCompactPreservesState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.log")

	s, err := Open(path, WithFlushInterval(time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	job := types.Job{ID: "1", Queue: "a", PersistData: true, MaxRetries: 3}
	require.NoError(t, s.Push(ctx, types.StoredJob{Job: job}))
	retries := uint8(2)
	require.NoError(t, s.Update(ctx, "a", "1", backing.Update{Retries: &retries}))

	require.NoError(t, s.Compact(ctx))

	recovered, err := s.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, uint8(2), recovered[0].Retries)
}
