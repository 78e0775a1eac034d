package backing

import (
	"context"

	"github.com/ChuLiYu/relay/pkg/types"
)

// Noop is the memory-only Backing. The store uses it both as the default
// when no durable tier is configured and internally while replaying a real
// backing's Recover results, so the replay path never re-persists what it
// is loading back.
type Noop struct{}

// NewNoop returns a Backing that does nothing and never fails.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Recover(ctx context.Context) ([]types.StoredJob, error) {
	return nil, nil
}

func (*Noop) Push(ctx context.Context, stored types.StoredJob) error {
	return nil
}

func (*Noop) Update(ctx context.Context, queue types.QueueName, id types.JobID, u Update) error {
	return nil
}

func (*Noop) Remove(ctx context.Context, stored types.StoredJob) error {
	return nil
}
