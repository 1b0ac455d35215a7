package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd/internal/appstate"
	"amd/internal/errors"
	"amd/internal/eventbus"
	logx "amd/pkg/logx"
)

type countingJob struct {
	name     string
	interval time.Duration
	runs     atomic.Int64
	fn       func(n int64) error
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }

func (j *countingJob) Run(_ context.Context, _ *appstate.State) error {
	n := j.runs.Add(1)
	if j.fn != nil {
		return j.fn(n)
	}
	return nil
}

func waitRuns(t *testing.T, j *countingJob, want int64) {
	t.Helper()
	require.Eventually(t, func() bool { return j.runs.Load() == want }, 2*time.Second, time.Millisecond,
		"job %s: want %d runs, have %d", j.name, want, j.runs.Load())
}

func startScheduler(t *testing.T, clk *fakeClock, jobs ...Job) *Scheduler {
	t.Helper()
	reg, err := NewRegistry(jobs...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(logx.Nop(), WithClock(clk))
	require.NoError(t, s.Start(ctx, reg, &appstate.State{}))
	t.Cleanup(func() {
		cancel()
		stopCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = s.Stop(stopCtx)
	})
	return s
}

func TestStartIsNonBlockingAndDelaysFirstRun(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := &countingJob{name: "status", interval: time.Hour}
	startScheduler(t, clk, j)

	assert.Zero(t, j.runs.Load(), "Start must return before any run")

	clk.BlockUntil(t, 1)
	clk.Advance(time.Hour - time.Second)
	require.Never(t, func() bool { return j.runs.Load() > 0 }, 50*time.Millisecond, time.Millisecond)

	clk.Advance(time.Second)
	waitRuns(t, j, 1)
}

func TestFailingJobKeepsTicking(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := &countingJob{name: "flaky", interval: time.Minute, fn: func(int64) error {
		return errors.Network(errors.New("connection refused"), "fetch roster")
	}}
	startScheduler(t, clk, j)

	const failures = 4
	for i := int64(1); i <= failures+1; i++ {
		clk.BlockUntil(t, 1)
		clk.Advance(time.Minute)
		waitRuns(t, j, i)
	}
	assert.Equal(t, int64(failures+1), j.runs.Load())
}

func TestIndependentCadences(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	short := &countingJob{name: "short", interval: time.Second}
	long := &countingJob{name: "long", interval: 3 * time.Second}
	startScheduler(t, clk, short, long)

	for i := int64(1); i <= 3; i++ {
		clk.BlockUntil(t, 2)
		clk.Advance(time.Second)
		waitRuns(t, short, i)
	}
	waitRuns(t, long, 1)
	assert.Equal(t, int64(3), short.runs.Load())
}

func TestOverrunFiresOnceWithoutCatchUp(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	t0 := clk.Now()
	j := &countingJob{name: "slow", interval: time.Minute}
	j.fn = func(n int64) error {
		if n == 1 {
			clk.Advance(150 * time.Second)
		}
		return nil
	}
	s := startScheduler(t, clk, j)

	clk.BlockUntil(t, 1)
	clk.Advance(time.Minute)
	waitRuns(t, j, 2)
	clk.BlockUntil(t, 1)

	require.Never(t, func() bool { return j.runs.Load() > 2 }, 50*time.Millisecond, time.Millisecond)
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, t0.Add(time.Minute+150*time.Second+time.Minute), snap[0].NextRun)
	assert.Equal(t, uint64(2), snap[0].Runs)
}

func TestPanicIsIsolatedPerJob(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	bad := &countingJob{name: "bad", interval: time.Second, fn: func(int64) error { panic("boom") }}
	good := &countingJob{name: "good", interval: time.Second}
	s := startScheduler(t, clk, bad, good)

	for i := int64(1); i <= 3; i++ {
		clk.BlockUntil(t, 2)
		clk.Advance(time.Second)
		waitRuns(t, bad, i)
		waitRuns(t, good, i)
	}

	clk.BlockUntil(t, 2)
	byName := map[string]JobStatus{}
	for _, st := range s.Snapshot() {
		byName[st.Name] = st
	}
	assert.Equal(t, uint64(3), byName["bad"].Failures)
	assert.Contains(t, byName["bad"].LastErr, "panicked")
	assert.Zero(t, byName["good"].Failures)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	s := startScheduler(t, clk, &countingJob{name: "a", interval: time.Second})

	reg, err := NewRegistry()
	require.NoError(t, err)
	err = s.Start(context.Background(), reg, &appstate.State{})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartWithDoneContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg, err := NewRegistry(&countingJob{name: "a", interval: time.Second})
	require.NoError(t, err)

	s := New(logx.Nop(), WithClock(newFakeClock()))
	require.Error(t, s.Start(ctx, reg, &appstate.State{}))
	assert.Empty(t, s.Snapshot())
}

func TestStopEndsLoops(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	reg, err := NewRegistry(&countingJob{name: "a", interval: time.Hour}, &countingJob{name: "b", interval: time.Hour})
	require.NoError(t, err)

	s := New(logx.Nop(), WithClock(clk))
	require.NoError(t, s.Start(context.Background(), reg, &appstate.State{}))
	clk.BlockUntil(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int64(0), s.Supervisor().Counters().Active)
}

func TestPublishesJobEvents(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, eventbus.TypeJobFailed, eventbus.TypeJobSucceeded)
	defer unsub()

	j := &countingJob{name: "roster", interval: time.Second, fn: func(n int64) error {
		if n == 1 {
			return errors.Malformed("unexpected payload")
		}
		return nil
	}}
	reg, err := NewRegistry(j)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(logx.Nop(), WithClock(clk), WithBus(bus))
	require.NoError(t, s.Start(ctx, reg, &appstate.State{}))

	clk.BlockUntil(t, 1)
	clk.Advance(time.Second)
	e := <-events
	assert.Equal(t, eventbus.TypeJobFailed, e.Type)
	ev := e.Data.(JobEvent)
	assert.Equal(t, "roster", ev.Job)
	assert.Equal(t, errors.KindMalformedResponse.String(), ev.Kind)
	assert.NotEmpty(t, ev.RunID)

	clk.BlockUntil(t, 1)
	clk.Advance(time.Second)
	e = <-events
	assert.Equal(t, eventbus.TypeJobSucceeded, e.Type)
}
