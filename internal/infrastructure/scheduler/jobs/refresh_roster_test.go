package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	changed  bool
	err      error
	deadline bool
}

func (f *fakeRefresher) Refresh(ctx context.Context) (bool, error) {
	_, f.deadline = ctx.Deadline()
	return f.changed, f.err
}

func TestRefreshRosterJob(t *testing.T) {
	t.Run("counts swaps", func(t *testing.T) {
		r := &fakeRefresher{changed: true}
		job := NewRefreshRosterJob(r, 0, nil)

		require.NoError(t, job.Run(context.Background()))
		require.NoError(t, job.Run(context.Background()))

		assert.Equal(t, int64(2), job.Swaps())
		assert.True(t, r.deadline)
		assert.Equal(t, "refresh_roster", job.Name())
	})

	t.Run("unchanged", func(t *testing.T) {
		job := NewRefreshRosterJob(&fakeRefresher{}, time.Second, nil)
		require.NoError(t, job.Run(context.Background()))
		assert.Zero(t, job.Swaps())
	})

	t.Run("storage failure", func(t *testing.T) {
		boom := errors.New("connection refused")
		job := NewRefreshRosterJob(&fakeRefresher{err: boom}, time.Second, nil)
		assert.ErrorIs(t, job.Run(context.Background()), boom)
		assert.Zero(t, job.Swaps())
	})
}
