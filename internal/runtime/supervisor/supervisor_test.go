package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd/internal/errors"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStopWaitsForGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	exited := make(chan struct{})
	s.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	require.NoError(t, s.Stop(waitCtx(t)))
	select {
	case <-exited:
	default:
		t.Fatal("Stop returned before the goroutine exited")
	}
	assert.Equal(t, Counters{Active: 0, Started: 1}, s.Counters())
}

func TestSnapshotSeesGoroutineRightAfterGo(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("blocked", func(context.Context) { <-release })

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 1)
	assert.Equal(t, "blocked", snap.Goroutines[0].Name)
	assert.Equal(t, uint64(1), snap.Goroutines[0].Started)
	assert.Equal(t, int64(1), snap.Goroutines[0].Active)

	close(release)
	require.NoError(t, s.Stop(waitCtx(t)))
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom")

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 1)
	assert.Equal(t, uint64(1), snap.Goroutines[0].Panics)
	assert.Equal(t, "kaboom", snap.Goroutines[0].LastPanic)
	assert.Contains(t, snap.FirstError, "kaboom")
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("sibling", func(ctx context.Context) { <-ctx.Done() })
	s.Go("failing", func(context.Context) error { return errors.New("disk full") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
	assert.Contains(t, err.Error(), "disk full")
	assert.Error(t, s.Context().Err())
}

func TestErrorsDoNotCancelByDefault(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	done := make(chan struct{})
	s.Go("failing", func(context.Context) error {
		defer close(done)
		return errors.New("transient")
	})
	<-done

	require.NoError(t, s.Context().Err())
	err := s.Stop(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient")
}

func TestCanceledIsNotAFailure(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(waitCtx(t)))
}

func TestGoAfterStopIsRefused(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	require.NoError(t, s.Stop(waitCtx(t)))

	err := s.TryGo("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.Zero(t, s.Counters().Started)
	assert.True(t, s.Snapshot().Stopping)
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestNilSnapshot(t *testing.T) {
	t.Parallel()
	var s *Supervisor
	assert.Equal(t, Snapshot{}, s.Snapshot())
	assert.Equal(t, Counters{}, s.Counters())
}
