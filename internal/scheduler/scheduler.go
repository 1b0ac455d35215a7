package scheduler

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"amd/internal/appstate"
	"amd/internal/errors"
	"amd/internal/eventbus"
	rtsup "amd/internal/runtime/supervisor"
	logx "amd/pkg/logx"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = b }
}

// JobEvent is the payload of job.succeeded / job.failed events.
type JobEvent struct {
	Job      string        `json:"job"`
	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`
	Kind     string        `json:"kind,omitempty"`
	Err      string        `json:"err,omitempty"`
}

// JobStatus is a point-in-time view of one loop.
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	NextRun   time.Time     `json:"next_run"`
	Running   bool          `json:"running"`
	Runs      uint64        `json:"runs"`
	Failures  uint64        `json:"failures"`
	LastRunAt time.Time     `json:"last_run_at"`
	LastErr   string        `json:"last_err,omitempty"`
}

type Scheduler struct {
	log   logx.Logger
	clock Clock
	bus   eventbus.Bus

	mu      sync.Mutex
	started bool
	sup     *rtsup.Supervisor
	entries []*entry
}

type entry struct {
	job Job

	mu        sync.Mutex
	next      time.Time
	running   bool
	runs      uint64
	failures  uint64
	lastRunAt time.Time
	lastErr   string
}

func New(log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{log: log, clock: SystemClock}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start spawns one execution loop per registered job and returns without
// waiting for any of them. Loops stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context, reg *Registry, st *appstate.State) error {
	if reg == nil {
		return errors.Configuration("scheduler: nil registry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "scheduler: cannot spawn job loops")
	}
	s.started = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.Comp("scheduler.supervisor"))),
		rtsup.WithCancelOnError(false),
	)

	now := s.clock.Now()
	for _, j := range reg.Jobs() {
		e := &entry{job: j, next: now.Add(j.Interval())}
		s.entries = append(s.entries, e)
		s.sup.Go0("job:"+j.Name(), func(c context.Context) {
			s.loop(c, e, st)
		})
	}
	s.log.Info("scheduler started", logx.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels all loops and waits for in-flight runs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Err(err))
	return err
}

// Supervisor exposes goroutine stats for the loops (nil before Start).
func (s *Scheduler) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Snapshot returns one status per job sorted by name.
func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, JobStatus{
			Name:      e.job.Name(),
			Interval:  e.job.Interval(),
			NextRun:   e.next,
			Running:   e.running,
			Runs:      e.runs,
			Failures:  e.failures,
			LastRunAt: e.lastRunAt,
			LastErr:   e.lastErr,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, e *entry, st *appstate.State) {
	interval := e.job.Interval()
	e.mu.Lock()
	next := e.next
	e.mu.Unlock()

	for {
		if !s.sleepUntil(ctx, next) {
			return
		}
		s.invoke(ctx, e, st)

		// Overruns fire once right away; missed ticks are not replayed.
		next = next.Add(interval)
		if now := s.clock.Now(); !next.After(now) {
			next = now
		}
		e.mu.Lock()
		e.next = next
		e.mu.Unlock()
	}
}

// sleepUntil reports false when ctx ended before t.
func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	d := t.Sub(s.clock.Now())
	if d <= 0 {
		return true
	}
	timer := s.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C():
		return ctx.Err() == nil
	}
}

func (s *Scheduler) invoke(ctx context.Context, e *entry, st *appstate.State) {
	name := e.job.Name()
	runID := uuid.NewString()
	log := s.log.With(logx.String("job", name), logx.String("run_id", runID))

	start := s.clock.Now()
	e.mu.Lock()
	e.running = true
	e.lastRunAt = start
	e.mu.Unlock()

	log.Debug("job run started")
	err := runSafe(ctx, e.job, st, log)
	dur := s.clock.Now().Sub(start)

	e.mu.Lock()
	e.running = false
	e.runs++
	if err != nil {
		e.failures++
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
	e.mu.Unlock()

	ev := JobEvent{Job: name, RunID: runID, Duration: dur}
	if err != nil {
		kind := errors.KindOf(err).String()
		ev.Kind, ev.Err = kind, err.Error()
		log.Error("job failed", logx.Duration("took", dur), logx.Err(err))
		s.publish(eventbus.TypeJobFailed, ev)
		return
	}
	log.Info("job finished", logx.Duration("took", dur))
	s.publish(eventbus.TypeJobSucceeded, ev)
}

func runSafe(ctx context.Context, j Job, st *appstate.State, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = errors.Newf("job %s panicked: %v", j.Name(), r)
		}
	}()
	return j.Run(ctx, st)
}

func (s *Scheduler) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
