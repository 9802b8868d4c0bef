package identity

import (
	"fmt"
	"net/url"
)

// AssignmentIDNotAvailable is the sentinel MTurk puts in the assignmentId
// parameter while a worker is previewing a HIT they have not yet accepted.
const AssignmentIDNotAvailable = "ASSIGNMENT_ID_NOT_AVAILABLE"

// Identity holds the per-session worker parameters extracted from the HIT
// page URL. All fields are immutable for the lifetime of the session.
type Identity struct {
	AssignmentID string
	HITID        string
	WorkerID     string
	TurkSubmitTo string
}

// Parse extracts the session identity from the HIT page URL query string.
func Parse(pageURL string) (*Identity, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	q := u.Query()
	id := &Identity{
		AssignmentID: q.Get("assignmentId"),
		HITID:        q.Get("hitId"),
		WorkerID:     q.Get("workerId"),
		TurkSubmitTo: q.Get("turkSubmitTo"),
	}

	if id.AssignmentID == "" {
		return nil, fmt.Errorf("assignmentId parameter is required")
	}
	if id.HITID == "" {
		return nil, fmt.Errorf("hitId parameter is required")
	}
	if !id.Preview() && id.TurkSubmitTo == "" {
		return nil, fmt.Errorf("turkSubmitTo parameter is required")
	}

	return id, nil
}

// Preview reports whether the worker is only previewing the HIT. A preview
// session never connects to the work socket.
func (id *Identity) Preview() bool {
	return id.AssignmentID == AssignmentIDNotAvailable
}
