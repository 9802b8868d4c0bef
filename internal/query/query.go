package query

import (
	"errors"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/keenon/lense/internal/protocol"
)

var (
	// ErrQueryPending means a new offer arrived while one is unresolved.
	ErrQueryPending = errors.New("a query is already pending")

	// ErrNoPendingQuery means an answer arrived with nothing to answer.
	ErrNoPendingQuery = errors.New("no pending query")

	// ErrAlreadyResolved means an answer arrived for a resolved query.
	ErrAlreadyResolved = errors.New("query already resolved")

	// ErrUnknownShortcut means the pressed key was not assigned to any
	// choice of the pending query.
	ErrUnknownShortcut = errors.New("shortcut not assigned to this query")
)

// Choice is one answer option with its assigned keyboard shortcut.
type Choice struct {
	ID       string
	Label    string
	Shortcut rune
}

// Query is one unit of work awaiting exactly one answer.
type Query struct {
	HTML    string
	Choices []Choice
}

// Renderer is the presentation collaborator that displays a query and
// reports the worker's answer back through the supplied callback.
type Renderer interface {
	RenderQuery(q *Query, answer func(shortcut rune))
	Alert(message string)
	HasFocus() bool
}

// Manager holds at most one pending query and guarantees exactly one answer
// per accepted offer. The respond callback receives the chosen option's
// originally-offered ID.
type Manager struct {
	renderer Renderer
	respond  func(choice Choice)

	mu       sync.Mutex
	pending  *Query
	bindings map[rune]Choice
	resolved bool
}

// NewManager creates a lifecycle manager with an empty pending slot.
func NewManager(renderer Renderer, respond func(choice Choice)) *Manager {
	return &Manager{
		renderer: renderer,
		respond:  respond,
	}
}

// Offer accepts a new query if none is pending and renders it. An offer
// that arrives while one is unresolved is ignored; the server is trusted
// not to do this, but the manager never opens a second acceptance window
// itself.
func (m *Manager) Offer(offered protocol.QueryOffered) error {
	q, err := m.Accept(offered)
	if err != nil {
		return err
	}
	m.Render(q)
	return nil
}

// Accept places a new query in the pending slot without rendering it. It
// never calls back into the renderer, so callers that need acceptance to be
// atomic with their own state may invoke it under their lock and render
// afterwards.
func (m *Manager) Accept(offered protocol.QueryOffered) (*Query, error) {
	m.mu.Lock()
	if m.pending != nil && !m.resolved {
		m.mu.Unlock()
		log.Warn().Msg("ignoring query offer while one is pending")
		return nil, ErrQueryPending
	}

	q := &Query{HTML: offered.HTML, Choices: assignShortcuts(offered.Choices)}
	bindings := make(map[rune]Choice, len(q.Choices))
	for _, c := range q.Choices {
		bindings[c.Shortcut] = c
	}

	m.pending = q
	m.bindings = bindings
	m.resolved = false
	m.mu.Unlock()
	return q, nil
}

// Render shows an accepted query and arms the answer callback.
func (m *Manager) Render(q *Query) {
	if !m.renderer.HasFocus() {
		m.renderer.Alert("There's a task available for you now")
	}
	m.renderer.RenderQuery(q, func(shortcut rune) {
		if err := m.Resolve(shortcut); err != nil {
			log.Debug().Err(err).Str("shortcut", string(shortcut)).Msg("input ignored")
		}
	})
}

// Resolve answers the pending query with the choice bound to shortcut. Only
// the first valid resolution takes effect; late or duplicate input is
// rejected so exactly one answer leaves per offered query.
func (m *Manager) Resolve(shortcut rune) error {
	m.mu.Lock()
	if m.pending == nil {
		m.mu.Unlock()
		return ErrNoPendingQuery
	}
	if m.resolved {
		m.mu.Unlock()
		return ErrAlreadyResolved
	}
	choice, ok := m.bindings[shortcut]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownShortcut
	}

	m.resolved = true
	m.bindings = nil
	m.mu.Unlock()

	log.Info().Str("choice", choice.ID).Str("label", choice.Label).Msg("query answered")
	m.respond(choice)
	return nil
}

// Pending returns the live query, or nil when the slot is empty or the
// current query is already resolved.
func (m *Manager) Pending() *Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved {
		return nil
	}
	return m.pending
}

// assignShortcuts gives every choice a keyboard shortcut, in offer order:
// the lowercase first character of the label when it is still free,
// otherwise the first unused letter from a to z.
func assignShortcuts(offered []protocol.Choice) []Choice {
	used := make(map[rune]bool, len(offered))
	choices := make([]Choice, 0, len(offered))

	for _, c := range offered {
		var key rune
		if c.Label != "" {
			first, _ := utf8.DecodeRuneInString(c.Label)
			key = unicode.ToLower(first)
		}
		if key == 0 || used[key] {
			for r := 'a'; r <= 'z'; r++ {
				if !used[r] {
					key = r
					break
				}
			}
		}
		used[key] = true
		choices = append(choices, Choice{ID: c.ID, Label: c.Label, Shortcut: key})
	}
	return choices
}
