package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobSubject(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{JobCheckResolution, "jobs.conversations.check-resolution"},
		{JobAutoResponseCreate, "jobs.conversations.auto-response.create"},
		{JobHumanSupportRequested, "jobs.conversations.human-support-requested"},
		{JobFilePreviewGenerate, "jobs.files.preview.generate"},
		{JobMessageCreated, "jobs.conversations.message.created"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, JobSubject(tt.name))
	}
}
