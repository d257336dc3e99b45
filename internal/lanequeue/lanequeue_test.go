package lanequeue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsFnResult(t *testing.T) {
	q := New(4)
	err := q.Run(context.Background(), "sess-1", ClassReadOnly, time.Second, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestRunTimesOutOnSlowFn(t *testing.T) {
	q := New(4)
	err := q.Run(context.Background(), "sess-1", ClassMutating, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestRunNoTimeoutWhenZero(t *testing.T) {
	q := New(4)
	done := make(chan struct{})
	err := q.Run(context.Background(), "sess-1", ClassReadOnly, 0, func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)
	<-done
}

func TestRunReleasesLaneAfterTimeoutSoNextCallProceeds(t *testing.T) {
	q := New(4)
	slowStarted := make(chan struct{})
	err := q.Run(context.Background(), "sess-1", ClassMutating, 5*time.Millisecond, func(ctx context.Context) error {
		close(slowStarted)
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	<-slowStarted

	// The lane must be usable again even though the timed-out call's
	// background goroutine may still be unwinding.
	ran := false
	err = q.Run(context.Background(), "sess-1", ClassMutating, time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
