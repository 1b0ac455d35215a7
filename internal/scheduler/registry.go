package scheduler

import (
	"strings"

	"amd/internal/errors"
)

// Registry is the ordered, immutable list of jobs the scheduler runs.
type Registry struct {
	jobs []Job
}

// NewRegistry validates jobs and freezes their order. A nil job, an empty or
// duplicate name, or a non-positive interval is a configuration error; the
// host must not start with a partial registry.
func NewRegistry(jobs ...Job) (*Registry, error) {
	seen := make(map[string]struct{}, len(jobs))
	out := make([]Job, 0, len(jobs))
	for i, j := range jobs {
		if j == nil {
			return nil, errors.Configuration("job #%d is nil", i)
		}
		name := strings.TrimSpace(j.Name())
		if name == "" {
			return nil, errors.Configuration("job #%d has an empty name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Configuration("duplicate job name %q", name)
		}
		if iv := j.Interval(); iv <= 0 {
			return nil, errors.Configuration("job %q: interval must be positive, got %s", name, iv)
		}
		seen[name] = struct{}{}
		out = append(out, j)
	}
	return &Registry{jobs: out}, nil
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	if r == nil {
		return nil
	}
	return append([]Job(nil), r.jobs...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.jobs)
}
