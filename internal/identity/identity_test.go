package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := Parse("https://workersandbox.mturk.com/hit?assignmentId=A1&hitId=H1&workerId=W1&turkSubmitTo=https%3A%2F%2Fworkersandbox.mturk.com")
	require.NoError(t, err)

	assert.Equal(t, "A1", id.AssignmentID)
	assert.Equal(t, "H1", id.HITID)
	assert.Equal(t, "W1", id.WorkerID)
	assert.Equal(t, "https://workersandbox.mturk.com", id.TurkSubmitTo)
	assert.False(t, id.Preview())
}

func TestParsePreviewSentinel(t *testing.T) {
	id, err := Parse("https://example.com/hit?assignmentId=ASSIGNMENT_ID_NOT_AVAILABLE&hitId=H1")
	require.NoError(t, err)
	assert.True(t, id.Preview())
}

func TestParseMissingParameters(t *testing.T) {
	cases := []struct {
		name    string
		pageURL string
	}{
		{"no assignmentId", "https://example.com/hit?hitId=H1&turkSubmitTo=https://example.com"},
		{"no hitId", "https://example.com/hit?assignmentId=A1&turkSubmitTo=https://example.com"},
		{"no turkSubmitTo outside preview", "https://example.com/hit?assignmentId=A1&hitId=H1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.pageURL)
			assert.Error(t, err)
		})
	}
}
