package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd/internal/errors"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()
	ok := JobFunc{JobName: "a", Every: time.Hour}

	tests := []struct {
		name    string
		jobs    []Job
		wantErr bool
	}{
		{name: "empty", jobs: nil},
		{name: "valid", jobs: []Job{ok, JobFunc{JobName: "b", Every: time.Minute}}},
		{name: "nil job", jobs: []Job{ok, nil}, wantErr: true},
		{name: "empty name", jobs: []Job{JobFunc{JobName: "  ", Every: time.Hour}}, wantErr: true},
		{name: "duplicate", jobs: []Job{ok, ok}, wantErr: true},
		{name: "zero interval", jobs: []Job{JobFunc{JobName: "z"}}, wantErr: true},
		{name: "negative interval", jobs: []Job{JobFunc{JobName: "n", Every: -time.Second}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg, err := NewRegistry(tt.jobs...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
				assert.Nil(t, reg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.jobs), reg.Len())
		})
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry(
		JobFunc{JobName: "c", Every: time.Second},
		JobFunc{JobName: "a", Every: time.Second},
		JobFunc{JobName: "b", Every: time.Second},
	)
	require.NoError(t, err)

	var names []string
	for _, j := range reg.Jobs() {
		names = append(names, j.Name())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)

	jobs := reg.Jobs()
	jobs[0] = nil
	assert.NotNil(t, reg.Jobs()[0])
}
