package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	failure := &TaskError{Kind: ErrorKindUpstreamRejected, Message: "bad output"}

	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		outcome Outcome
		wantErr bool
	}{
		{"claim", TaskStatusPending, TaskStatusProcessing, Outcome{}, false},
		{"complete", TaskStatusProcessing, TaskStatusCompleted, Outcome{ResultRef: "ref"}, false},
		{"fail", TaskStatusProcessing, TaskStatusFailed, Outcome{Error: failure}, false},
		{"claim with outcome", TaskStatusPending, TaskStatusProcessing, Outcome{ResultRef: "ref"}, true},
		{"complete without ref", TaskStatusProcessing, TaskStatusCompleted, Outcome{}, true},
		{"complete with error", TaskStatusProcessing, TaskStatusCompleted, Outcome{ResultRef: "ref", Error: failure}, true},
		{"fail without error", TaskStatusProcessing, TaskStatusFailed, Outcome{}, true},
		{"fail with ref", TaskStatusProcessing, TaskStatusFailed, Outcome{ResultRef: "ref", Error: failure}, true},
		{"skip processing", TaskStatusPending, TaskStatusCompleted, Outcome{ResultRef: "ref"}, true},
		{"leave completed", TaskStatusCompleted, TaskStatusFailed, Outcome{Error: failure}, true},
		{"leave failed", TaskStatusFailed, TaskStatusProcessing, Outcome{}, true},
		{"back to pending", TaskStatusProcessing, TaskStatusPending, Outcome{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to, tt.outcome)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusProcessing.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
}
