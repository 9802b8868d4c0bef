// Package console is a terminal presentation collaborator: it renders
// queries and session notices to stdout and maps typed input onto the
// session's answer and collect affordances.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/keenon/lense/internal/query"
	"github.com/keenon/lense/internal/session"
)

// Console renders the session to a terminal. It implements query.Renderer,
// retainer.Display and session.Presenter.
type Console struct {
	out io.Writer

	mu        sync.Mutex
	onLine    func(line string)
	bonus     string
	countdown string
}

// New creates a console presenter writing to out.
func New(out io.Writer) *Console {
	return &Console{out: out}
}

// Run reads input lines until ctx is cancelled or in is exhausted and
// forwards each to the currently armed line handler.
func (c *Console) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		handler := c.onLine
		c.mu.Unlock()

		if handler != nil {
			handler(strings.TrimSpace(scanner.Text()))
		}
	}
}

func (c *Console) arm(handler func(line string)) {
	c.mu.Lock()
	c.onLine = handler
	c.mu.Unlock()
}

// PromptOptIn invites the worker on call; the next input line opts in.
func (c *Console) PromptOptIn(optIn func() error) {
	fmt.Fprintln(c.out, "Press enter to go on call.")
	c.arm(func(string) {
		c.arm(nil)
		if err := optIn(); err != nil {
			fmt.Fprintf(c.out, "Could not start the session: %v\n", err)
		}
	})
}

// ─────────────────────────────────────────────
// query.Renderer
// ─────────────────────────────────────────────

// RenderQuery prints the query and its choices and arms the input handler
// so the next matching key answers it.
func (c *Console) RenderQuery(q *query.Query, answer func(shortcut rune)) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, q.HTML)
	for _, choice := range q.Choices {
		fmt.Fprintf(c.out, "  [%c] %s\n", choice.Shortcut, choice.Label)
	}
	fmt.Fprint(c.out, "> ")

	c.arm(func(line string) {
		if line == "" {
			return
		}
		first, _ := utf8.DecodeRuneInString(line)
		answer(unicode.ToLower(first))
	})
}

// Alert draws attention with a terminal bell.
func (c *Console) Alert(message string) {
	fmt.Fprintf(c.out, "\a*** %s ***\n", message)
}

// HasFocus reports whether the worker is assumed to be watching. A terminal
// session is treated as attended.
func (c *Console) HasFocus() bool {
	return true
}

// ─────────────────────────────────────────────
// retainer.Display
// ─────────────────────────────────────────────

// UpdateBonus refreshes the status line with the new pay figure.
func (c *Console) UpdateBonus(display string) {
	c.mu.Lock()
	c.bonus = display
	c.mu.Unlock()
	c.drawStatus()
}

// UpdateCountdown refreshes the status line with the new remaining time.
func (c *Console) UpdateCountdown(display string) {
	c.mu.Lock()
	c.countdown = display
	c.mu.Unlock()
	c.drawStatus()
}

func (c *Console) drawStatus() {
	c.mu.Lock()
	bonus, countdown := c.bonus, c.countdown
	c.mu.Unlock()

	if countdown == "" {
		fmt.Fprintf(c.out, "\r[on call] bonus %s", bonus)
		return
	}
	fmt.Fprintf(c.out, "\r[on call] %s left, bonus %s", countdown, bonus)
}

// ─────────────────────────────────────────────
// session.Presenter
// ─────────────────────────────────────────────

// ShowNotice prints the worker-facing message for a session notice.
func (c *Console) ShowNotice(n session.Notice) {
	var text string
	switch n {
	case session.NoticePreview:
		text = "Accept the HIT to get started!"
	case session.NoticeNoWork:
		text = "There's no more work from the server for the moment. " +
			"Stay on call so we can pay you; we'll alert you if more work shows up."
	case session.NoticeEarlyRelease:
		text = "The server has decided to give you the rest of your time back! " +
			"You're going to get this HIT approved, plus all the bonus, and you " +
			"won't have to wait till the end of the clock. Congratulations."
	case session.NoticeConnectionLost:
		text = "Sorry, but there's some problem with your socket or the server " +
			"is down. We're going to pay you for the work you did so far, minus " +
			"the retainer. Turning in the HIT shortly."
	default:
		text = string(n)
	}
	fmt.Fprintf(c.out, "\n%s\n", text)
}

// ShowCollectAffordance arms the input handler so the next line collects
// the worker's earnings.
func (c *Console) ShowCollectAffordance(collect func()) {
	fmt.Fprintln(c.out, "\nYour time is up! Press enter to collect your earnings.")
	c.arm(func(string) {
		c.arm(nil)
		collect()
	})
}
