package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQueryFrame(t *testing.T) {
	frame := []byte(`{"type":"query","payload":{"html":"<p>Pick one</p>","choices":{"0":"Yes","1":"No"}}}`)

	events, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 1)

	offered, ok := events[0].(QueryOffered)
	require.True(t, ok)
	assert.Equal(t, "<p>Pick one</p>", offered.HTML)
	require.Len(t, offered.Choices, 2)
	assert.Equal(t, Choice{ID: "0", Label: "Yes"}, offered.Choices[0])
	assert.Equal(t, Choice{ID: "1", Label: "No"}, offered.Choices[1])
}

func TestDecodeChoiceOrderIsNumeric(t *testing.T) {
	frame := []byte(`{"type":"query","payload":{"html":"q","choices":{"10":"J","2":"B","0":"A"}}}`)

	events, err := Decode(frame)
	require.NoError(t, err)
	offered := events[0].(QueryOffered)

	ids := make([]string, 0, len(offered.Choices))
	for _, c := range offered.Choices {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"0", "2", "10"}, ids)
}

func TestDecodeBundledFacets(t *testing.T) {
	frame := []byte(`{"total-queries-answered":7,"on-call-duration":60000}`)

	events, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 2)

	progress, ok := events[0].(ProgressUpdate)
	require.True(t, ok)
	assert.Equal(t, 7, progress.TotalAnswered)

	duration, ok := events[1].(SessionDuration)
	require.True(t, ok)
	assert.Equal(t, time.Minute, duration.Duration)
}

func TestDecodeQueryBundledWithProgress(t *testing.T) {
	frame := []byte(`{"type":"query","payload":{"html":"q","choices":{"0":"Go"}},"total-queries-answered":3}`)

	events, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.IsType(t, QueryOffered{}, events[0])
	assert.IsType(t, ProgressUpdate{}, events[1])
}

func TestDecodeControlFrames(t *testing.T) {
	events, err := Decode([]byte(`{"type":"job-cancelled"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.IsType(t, JobCancelled{}, events[0])

	events, err = Decode([]byte(`{"type":"early-termination"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.IsType(t, EarlyTermination{}, events[0])
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"not json", "this is not json"},
		{"unknown type", `{"type":"mystery"}`},
		{"no recognized fields", `{"foo":1,"bar":"baz"}`},
		{"query without payload", `{"type":"query"}`},
		{"negative total", `{"total-queries-answered":-1}`},
		{"negative duration", `{"on-call-duration":-500}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, err := Decode([]byte(tc.frame))
			assert.Error(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestEncodeReady(t *testing.T) {
	frame, err := EncodeReady("A1", "H1", "W1")
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.Equal(t, map[string]string{
		"type":          "ready-message",
		"assignment-id": "A1",
		"hit-id":        "H1",
		"worker-id":     "W1",
	}, m)
}

func TestEncodeQueryResponse(t *testing.T) {
	frame, err := EncodeQueryResponse("2")
	require.NoError(t, err)

	// The server reads the echoed choice ID as a JSON number; a quoted
	// value would break it.
	assert.JSONEq(t, `{"type":"query-response","query-response":2}`, string(frame))

	var m map[string]any
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.Equal(t, float64(2), m["query-response"])
}

func TestEncodeQueryResponseRejectsNonNumericID(t *testing.T) {
	_, err := EncodeQueryResponse("two")
	assert.Error(t, err)
}

func TestEncodeTurnIn(t *testing.T) {
	frame, err := EncodeTurnIn()
	require.NoError(t, err)
	assert.JSONEq(t, `{"request":"turn-in"}`, string(frame))
}
