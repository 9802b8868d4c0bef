package payout

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keenon/lense/internal/identity"
)

const (
	submitPath = "/mturk/externalSubmit"
	returnPath = "/mturk/return"

	httpTimeout = 30 * time.Second
)

// Client performs the terminal hand-off to the paying platform. Submit is
// the payout action every terminal session path converges on; Return is the
// preview/decline path only.
type Client struct {
	httpClient *http.Client
	submitURL  string
	returnURL  string

	assignmentID string
	hitID        string
}

// NewClient builds a payout client for the given session identity.
func NewClient(id *identity.Identity) *Client {
	base := strings.TrimSuffix(id.TurkSubmitTo, "/")
	return &Client{
		httpClient:   &http.Client{Timeout: httpTimeout},
		submitURL:    base + submitPath,
		returnURL:    base + returnPath,
		assignmentID: id.AssignmentID,
		hitID:        id.HITID,
	}
}

// Submit posts the assignment back to the platform so the worker is paid.
func (c *Client) Submit() error {
	form := url.Values{
		"assignmentId": {c.assignmentID},
		"hitId":        {c.hitID},
	}

	log.Info().Str("url", c.submitURL).Msg("submitting work for payout")
	return c.post(c.submitURL, form)
}

// Return gives the assignment back unworked. Only reachable from the
// preview/decline path, never from the normal terminal flow.
func (c *Client) Return() error {
	form := url.Values{
		"hitId": {c.hitID},
	}

	log.Info().Str("url", c.returnURL).Msg("returning assignment")
	return c.post(c.returnURL, form)
}

func (c *Client) post(target string, form url.Values) error {
	resp, err := c.httpClient.PostForm(target, form)
	if err != nil {
		return fmt.Errorf("post %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("post %s: unexpected status %s", target, resp.Status)
	}
	return nil
}
