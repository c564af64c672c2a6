package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{JobStatusAssigned, JobStatusInProgress, true},
		{JobStatusInProgress, JobStatusSubmitted, true},
		{JobStatusSubmitted, JobStatusApproved, true},
		{JobStatusSubmitted, JobStatusNeedsRevision, true},
		{JobStatusNeedsRevision, JobStatusInProgress, true},
		{JobStatusApproved, JobStatusCompleted, true},

		// skipping steps
		{JobStatusAssigned, JobStatusSubmitted, false},
		{JobStatusAssigned, JobStatusApproved, false},
		{JobStatusInProgress, JobStatusApproved, false},

		// backwards
		{JobStatusSubmitted, JobStatusInProgress, false},
		{JobStatusApproved, JobStatusSubmitted, false},

		// terminal states have no exits
		{JobStatusCompleted, JobStatusInProgress, false},
		{JobStatusCancelled, JobStatusAssigned, false},

		// cancellation from any live state
		{JobStatusAssigned, JobStatusCancelled, true},
		{JobStatusInProgress, JobStatusCancelled, true},
		{JobStatusSubmitted, JobStatusCancelled, true},
		{JobStatusNeedsRevision, JobStatusCancelled, true},
		{JobStatusApproved, JobStatusCancelled, true},

		// unknown statuses
		{"BOGUS", JobStatusInProgress, false},
		{JobStatusAssigned, "BOGUS", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{
		JobStatusAssigned, JobStatusInProgress, JobStatusSubmitted,
		JobStatusApproved, JobStatusNeedsRevision, JobStatusCompleted, JobStatusCancelled,
	} {
		assert.True(t, ValidStatus(s), s)
	}

	assert.False(t, ValidStatus("PENDING"))
	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("assigned"))
}

func TestSupportedOperation(t *testing.T) {
	for _, op := range []string{
		OpStatusTransition, OpChecklistCompletion, OpProductionSubmission, OpPhotoCapture,
	} {
		assert.True(t, SupportedOperation(op), op)
	}

	assert.False(t, SupportedOperation("job-deletion"))
	assert.False(t, SupportedOperation(""))
}
