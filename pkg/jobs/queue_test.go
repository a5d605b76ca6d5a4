package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 1})

	require.Error(t, q.Enqueue(Job{ID: "early"}))

	q.Start(context.Background())
	defer q.Stop()
	require.True(t, q.Running())

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: TypeBlobCleanup}))
	select {
	case id := <-done:
		require.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("job not processed")
	}
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	var attempts int32
	exhausted := make(chan Job, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("smtp down")
	}, QueueConfig{
		Workers:     1,
		MaxRetries:  2,
		RetryDelay:  5 * time.Millisecond,
		OnExhausted: func(job Job, err error) { exhausted <- job },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: TypeSendEmail}))
	select {
	case job := <-exhausted:
		require.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never exhausted")
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueStop(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	q.Start(context.Background())
	q.Stop()
	require.False(t, q.Running())
	require.Error(t, q.Enqueue(Job{ID: "late"}))
}

func TestQueueBackoffDoublesUpToCap(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 35 * time.Millisecond,
	})

	require.Equal(t, 10*time.Millisecond, q.backoff(1))
	require.Equal(t, 20*time.Millisecond, q.backoff(2))
	require.Equal(t, 35*time.Millisecond, q.backoff(3))
	require.Equal(t, 35*time.Millisecond, q.backoff(6))
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	started := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if job.ID == "block" {
			close(started)
			<-ctx.Done()
			return nil
		}
		require.NoError(t, ctx.Err())
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "block", Type: TypeBlobCleanup}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "a", Type: TypeBlobCleanup}))
	require.NoError(t, q.Enqueue(Job{ID: "b", Type: TypeBlobCleanup}))
	require.Equal(t, 2, q.Depth())

	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a", "b"}, seen)
	require.Zero(t, q.Depth())
}
