// Package supervisor runs the daemon's long-lived goroutines under one
// cancellable context and keeps per-name bookkeeping for /healthz.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

// ErrStopped is returned by TryGo once Stop has been called.
var ErrStopped = errors.New("supervisor stopped")

// Supervisor owns a set of named goroutines tied to one context.
// A panic in one goroutine is recovered and recorded as that goroutine's error.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started  atomic.Uint64
	active   atomic.Int64
	stopping atomic.Bool

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr error
	errMu    sync.RWMutex

	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*Stats
}

type Option func(*Supervisor)

// Counters are operational signals only, not a synchronization primitive.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// Stats aggregates every goroutine started under one name.
type Stats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Started     uint64        `json:"started"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastStopAt  time.Time     `json:"last_stop_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
	LastRuntime time.Duration `json:"last_runtime"`
}

type Snapshot struct {
	Counters   Counters `json:"counters"`
	Stopping   bool     `json:"stopping,omitempty"`
	FirstError string   `json:"first_error,omitempty"`
	Goroutines []Stats  `json:"goroutines"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first goroutine failure cancel every sibling.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		stats:  map[string]*Stats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure recorded, or nil.
func (s *Supervisor) Err() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.firstErr
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot is intended for debug output (/healthz), not for synchronization.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters(), Stopping: s.stopping.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	gs := make([]Stats, 0, len(s.stats))
	for _, st := range s.stats {
		gs = append(gs, *st)
	}
	s.mu.Unlock()

	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Active != gs[j].Active {
			return gs[i].Active > gs[j].Active
		}
		return gs[i].Name < gs[j].Name
	})
	snap.Goroutines = gs
	return snap
}

func (s *Supervisor) entry(name string) *Stats {
	st := s.stats[name]
	if st == nil {
		st = &Stats{Name: name}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.entry(name)
	st.Started++
	st.Active++
	st.LastStartAt = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, startedAt time.Time, err error, panicked any) {
	now := time.Now()
	s.mu.Lock()
	st := s.entry(name)
	if st.Active > 0 {
		st.Active--
	}
	st.LastStopAt = now
	st.LastRuntime = now.Sub(startedAt)
	if err != nil {
		st.LastErr = err.Error()
	}
	if panicked != nil {
		st.Panics++
		st.LastPanic = fmt.Sprint(panicked)
	}
	s.mu.Unlock()
}

// Go starts fn under the supervisor. It is a no-op after Stop.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if err := s.TryGo(name, fn); err != nil {
		s.log.Warn("goroutine not started", logx.String("name", name), logx.Err(err))
	}
}

// TryGo is Go but reports ErrStopped instead of logging it.
func (s *Supervisor) TryGo(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if s.stopping.Load() {
		return ErrStopped
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	// Recorded before the goroutine exists so Snapshot sees it immediately.
	startedAt := s.noteStart(name)
	go s.run(name, startedAt, fn)
	return nil
}

func (s *Supervisor) run(name string, startedAt time.Time, fn func(ctx context.Context) error) {
	defer s.wg.Done()
	defer s.active.Add(-1)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := errors.Newf("panic in %s: %v", name, r)
		s.log.Error("goroutine panicked",
			logx.String("name", name),
			logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())))
		s.noteStop(name, startedAt, err, r)
		s.fail(err)
	}()

	s.log.Debug("goroutine started", logx.String("name", name))
	err := fn(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		err = errors.Wrap(err, name)
		s.noteStop(name, startedAt, err, nil)
		s.fail(err)
	} else {
		s.noteStop(name, startedAt, nil, nil)
	}
	s.log.Debug("goroutine stopped", logx.String("name", name))
}

// Go0 is Go for functions that only stop when ctx is done.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Stop cancels the context, refuses new goroutines and waits for the
// running ones until ctx expires.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stopping.Store(true)
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() {
		s.errMu.Lock()
		s.firstErr = err
		s.errMu.Unlock()
	})
	if s.cancelOnErr {
		s.cancel()
	}
}
