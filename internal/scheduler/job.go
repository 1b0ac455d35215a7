package scheduler

import (
	"context"
	"time"

	"amd/internal/appstate"
)

// Job is one unit of recurring work.
//
// Run is called at most once at a time per job, but different jobs run in
// parallel, so Run must only touch st through its synchronized API. A nil
// return is success; failures should be tagged with an errors.Kind.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context, st *appstate.State) error
}

// JobFunc adapts a plain function to Job.
type JobFunc struct {
	JobName string
	Every   time.Duration
	Fn      func(ctx context.Context, st *appstate.State) error
}

func (j JobFunc) Name() string            { return j.JobName }
func (j JobFunc) Interval() time.Duration { return j.Every }

func (j JobFunc) Run(ctx context.Context, st *appstate.State) error {
	if j.Fn == nil {
		return nil
	}
	return j.Fn(ctx, st)
}
