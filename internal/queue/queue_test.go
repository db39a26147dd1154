package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobsRunAndReportErrors(t *testing.T) {
	rqm := NewRequestQueueManager(4, 2)
	defer rqm.Shutdown()

	boom := errors.New("boom")
	errc := make(chan error, 1)
	require.NoError(t, rqm.EnqueueJob(context.Background(), Job{Fn: func() error { return boom }, Errc: errc}))
	assert.ErrorIs(t, <-errc, boom)

	require.NoError(t, rqm.EnqueueJob(context.Background(), Job{Fn: func() error { return nil }, Errc: errc}))
	assert.NoError(t, <-errc)
}

func TestPanickingJobBecomesError(t *testing.T) {
	rqm := NewRequestQueueManager(1, 1)
	defer rqm.Shutdown()

	errc := make(chan error, 1)
	require.NoError(t, rqm.EnqueueJob(context.Background(), Job{Fn: func() error { panic("bad handler") }, Errc: errc}))
	err := <-errc
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")

	require.NoError(t, rqm.EnqueueJob(context.Background(), Job{Fn: func() error { return nil }, Errc: errc}))
	assert.NoError(t, <-errc)
}

func TestEnqueueHonoursContext(t *testing.T) {
	rqm := NewRequestQueueManager(0, 1)
	defer rqm.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, rqm.EnqueueJob(context.Background(), Job{Fn: func() error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rqm.EnqueueJob(ctx, Job{Fn: func() error { return nil }})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	rqm := NewRequestQueueManager(8, 2)

	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, rqm.EnqueueJob(context.Background(), Job{Fn: func() error {
			ran.Add(1)
			return nil
		}}))
	}
	rqm.Shutdown()
	assert.Equal(t, int32(8), ran.Load())

	err := rqm.EnqueueJob(context.Background(), Job{Fn: func() error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
	rqm.Shutdown()
}
