package query

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keenon/lense/internal/protocol"
)

type fakeRenderer struct {
	mu       sync.Mutex
	rendered []*Query
	answer   func(shortcut rune)
	alerts   []string
	focus    bool
}

func (r *fakeRenderer) RenderQuery(q *Query, answer func(shortcut rune)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, q)
	r.answer = answer
}

func (r *fakeRenderer) Alert(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
}

func (r *fakeRenderer) HasFocus() bool { return r.focus }

func (r *fakeRenderer) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rendered)
}

type answerRecorder struct {
	mu      sync.Mutex
	choices []Choice
}

func (a *answerRecorder) record(c Choice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.choices = append(a.choices, c)
}

func (a *answerRecorder) all() []Choice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Choice(nil), a.choices...)
}

func newTestManager() (*Manager, *fakeRenderer, *answerRecorder) {
	renderer := &fakeRenderer{focus: true}
	answers := &answerRecorder{}
	return NewManager(renderer, answers.record), renderer, answers
}

func offer(labels ...string) protocol.QueryOffered {
	offered := protocol.QueryOffered{HTML: "<p>q</p>"}
	for i, label := range labels {
		offered.Choices = append(offered.Choices, protocol.Choice{
			ID:    string(rune('0' + i)),
			Label: label,
		})
	}
	return offered
}

func TestShortcutAssignment(t *testing.T) {
	cases := []struct {
		name   string
		labels []string
		want   []rune
	}{
		{"no collisions", []string{"Yes", "No"}, []rune{'y', 'n'}},
		{"first-letter collisions", []string{"Apple", "Avocado", "Banana"}, []rune{'a', 'b', 'c'}},
		{"identical labels", []string{"same", "same", "same"}, []rune{'s', 'a', 'b'}},
		{"empty label falls back", []string{"", "yes"}, []rune{'a', 'y'}},
		{"uppercase lowered", []string{"YES", "NO"}, []rune{'y', 'n'}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, renderer, _ := newTestManager()
			require.NoError(t, m.Offer(offer(tc.labels...)))

			q := renderer.rendered[0]
			got := make([]rune, 0, len(q.Choices))
			seen := make(map[rune]bool)
			for _, c := range q.Choices {
				got = append(got, c.Shortcut)
				assert.False(t, seen[c.Shortcut], "duplicate shortcut %c", c.Shortcut)
				seen[c.Shortcut] = true
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSecondOfferRejectedWhilePending(t *testing.T) {
	m, renderer, answers := newTestManager()

	require.NoError(t, m.Offer(offer("Yes", "No")))
	assert.ErrorIs(t, m.Offer(offer("Maybe")), ErrQueryPending)
	assert.Equal(t, 1, renderer.renderCount())
	assert.Empty(t, answers.all(), "no answer may leave for an ignored offer")

	// Resolving frees the slot for the next offer.
	require.NoError(t, m.Resolve('y'))
	require.NoError(t, m.Offer(offer("Maybe")))
	assert.Equal(t, 2, renderer.renderCount())
}

func TestExactlyOneAnswerPerQuery(t *testing.T) {
	m, renderer, answers := newTestManager()
	require.NoError(t, m.Offer(offer("Yes", "No")))

	// First input resolves; everything after is ignored.
	renderer.answer('n')
	renderer.answer('n')
	renderer.answer('y')
	assert.ErrorIs(t, m.Resolve('y'), ErrAlreadyResolved)

	got := answers.all()
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID, "answer carries the originally offered choice ID")
	assert.Equal(t, 'n', got[0].Shortcut)
}

func TestAcceptDefersRendering(t *testing.T) {
	m, renderer, _ := newTestManager()

	q, err := m.Accept(offer("Yes", "No"))
	require.NoError(t, err)
	assert.Equal(t, 0, renderer.renderCount(), "accept must not call into the renderer")
	require.NotNil(t, m.Pending())

	m.Render(q)
	assert.Equal(t, 1, renderer.renderCount())
	require.NoError(t, m.Resolve('y'))
}

func TestResolveUnknownShortcut(t *testing.T) {
	m, _, answers := newTestManager()
	require.NoError(t, m.Offer(offer("Yes", "No")))

	assert.ErrorIs(t, m.Resolve('z'), ErrUnknownShortcut)
	assert.Empty(t, answers.all())

	require.NoError(t, m.Resolve('y'))
	assert.Len(t, answers.all(), 1)
}

func TestResolveWithoutPendingQuery(t *testing.T) {
	m, _, _ := newTestManager()
	assert.ErrorIs(t, m.Resolve('a'), ErrNoPendingQuery)
}

func TestPendingAccessor(t *testing.T) {
	m, _, _ := newTestManager()
	assert.Nil(t, m.Pending())

	require.NoError(t, m.Offer(offer("Yes")))
	require.NotNil(t, m.Pending())

	require.NoError(t, m.Resolve('y'))
	assert.Nil(t, m.Pending())
}

func TestAlertWhenUnfocused(t *testing.T) {
	m, renderer, _ := newTestManager()
	renderer.focus = false

	require.NoError(t, m.Offer(offer("Yes")))
	require.Len(t, renderer.alerts, 1)
	assert.Contains(t, renderer.alerts[0], "task available")
}

func TestNoAlertWhenFocused(t *testing.T) {
	m, renderer, _ := newTestManager()

	require.NoError(t, m.Offer(offer("Yes")))
	assert.Empty(t, renderer.alerts)
}
