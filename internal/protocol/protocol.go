package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Frame type discriminators used by the work-socket service. These are
// wire-contract values and must match the server exactly.
const (
	frameTypeReady            = "ready-message"
	frameTypeQueryResponse    = "query-response"
	frameTypeQuery            = "query"
	frameTypeJobCancelled     = "job-cancelled"
	frameTypeEarlyTermination = "early-termination"
)

// ErrUnrecognized is returned by Decode when a frame parses as JSON but
// carries none of the recognized fields.
var ErrUnrecognized = errors.New("frame carries no recognized fields")

// Choice is one answer option of a query, keyed by the ID the server
// offered it under. IDs are echoed back verbatim in the answer.
type Choice struct {
	ID    string
	Label string
}

// Event is one decoded inbound concern. The concrete types are QueryOffered,
// JobCancelled, EarlyTermination, ProgressUpdate and SessionDuration.
type Event interface {
	event()
}

// QueryOffered carries a new unit of work for the worker.
type QueryOffered struct {
	HTML    string
	Choices []Choice
}

// JobCancelled tells the worker there is no more work for the moment.
type JobCancelled struct{}

// EarlyTermination tells the worker the server is releasing them early.
type EarlyTermination struct{}

// ProgressUpdate carries the server-side count of answered queries.
type ProgressUpdate struct {
	TotalAnswered int
}

// SessionDuration announces the total on-call time for this session.
type SessionDuration struct {
	Duration time.Duration
}

func (QueryOffered) event()     {}
func (JobCancelled) event()     {}
func (EarlyTermination) event() {}
func (ProgressUpdate) event()   {}
func (SessionDuration) event()  {}

type queryPayload struct {
	HTML    string            `json:"html"`
	Choices map[string]string `json:"choices"`
}

// rawFrame mirrors the loosely-typed server frame. Any subset of the fields
// may be present; each present field is decoded as an independent event.
type rawFrame struct {
	Type           string        `json:"type"`
	Payload        *queryPayload `json:"payload"`
	TotalAnswered  *int          `json:"total-queries-answered"`
	OnCallDuration *int64        `json:"on-call-duration"`
}

// Decode parses one inbound frame into zero or more events. A single frame
// may bundle several concerns; each is decoded independently. A frame that
// is not JSON, or that carries no recognized field, yields no events and an
// error for the caller to log.
func Decode(frame []byte) ([]Event, error) {
	var raw rawFrame
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}

	var events []Event

	switch raw.Type {
	case frameTypeQuery:
		if raw.Payload != nil {
			events = append(events, QueryOffered{
				HTML:    raw.Payload.HTML,
				Choices: orderChoices(raw.Payload.Choices),
			})
		}
	case frameTypeJobCancelled:
		events = append(events, JobCancelled{})
	case frameTypeEarlyTermination:
		events = append(events, EarlyTermination{})
	}

	if raw.TotalAnswered != nil && *raw.TotalAnswered >= 0 {
		events = append(events, ProgressUpdate{TotalAnswered: *raw.TotalAnswered})
	}
	if raw.OnCallDuration != nil && *raw.OnCallDuration >= 0 {
		events = append(events, SessionDuration{
			Duration: time.Duration(*raw.OnCallDuration) * time.Millisecond,
		})
	}

	if len(events) == 0 {
		return nil, ErrUnrecognized
	}
	return events, nil
}

// orderChoices flattens the server's index-keyed choice object into the
// order it was offered in: numeric IDs ascending, then any non-numeric IDs
// lexicographically.
func orderChoices(m map[string]string) []Choice {
	choices := make([]Choice, 0, len(m))
	for id, label := range m {
		choices = append(choices, Choice{ID: id, Label: label})
	}
	sort.Slice(choices, func(i, j int) bool {
		a, aerr := strconv.Atoi(choices[i].ID)
		b, berr := strconv.Atoi(choices[j].ID)
		if aerr == nil && berr == nil {
			return a < b
		}
		if aerr == nil {
			return true
		}
		if berr == nil {
			return false
		}
		return choices[i].ID < choices[j].ID
	})
	return choices
}

type readyMessage struct {
	Type         string `json:"type"`
	AssignmentID string `json:"assignment-id"`
	HITID        string `json:"hit-id"`
	WorkerID     string `json:"worker-id"`
}

type queryResponse struct {
	Type     string `json:"type"`
	Response int    `json:"query-response"`
}

type turnInRequest struct {
	Request string `json:"request"`
}

// EncodeReady serializes the announcement sent once the socket opens.
func EncodeReady(assignmentID, hitID, workerID string) ([]byte, error) {
	return json.Marshal(readyMessage{
		Type:         frameTypeReady,
		AssignmentID: assignmentID,
		HITID:        hitID,
		WorkerID:     workerID,
	})
}

// EncodeQueryResponse serializes one answer. The server reads the echoed
// choice ID as a JSON number, so the offered ID must parse as an integer.
func EncodeQueryResponse(choiceID string) ([]byte, error) {
	id, err := strconv.Atoi(choiceID)
	if err != nil {
		return nil, fmt.Errorf("choice id %q is not numeric: %w", choiceID, err)
	}
	return json.Marshal(queryResponse{
		Type:     frameTypeQueryResponse,
		Response: id,
	})
}

// EncodeTurnIn serializes the final turn-in request.
func EncodeTurnIn() ([]byte, error) {
	return json.Marshal(turnInRequest{Request: "turn-in"})
}
