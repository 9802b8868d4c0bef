package session

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/keenon/lense/internal/identity"
	"github.com/keenon/lense/internal/protocol"
	"github.com/keenon/lense/internal/query"
	"github.com/keenon/lense/internal/retainer"
	"github.com/keenon/lense/internal/transport"
)

const (
	// Grace delay between an early-termination frame and the payout.
	earlyTerminationGrace = 4 * time.Second

	// Grace delay between a connection failure and the payout.
	connectionLostGrace = 6 * time.Second
)

// State is the session phase. Every path out of the non-terminal states
// converges on Completed through exactly one payout submission.
type State string

const (
	StatePreview    State = "preview"
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateDraining   State = "draining"
	StateCompleted  State = "completed"
)

// Notice identifies a worker-facing message; the presenter owns the wording.
type Notice string

const (
	// NoticePreview: the HIT must be accepted before work can start.
	NoticePreview Notice = "preview"

	// NoticeNoWork: no queries right now, stay on call.
	NoticeNoWork Notice = "no-work"

	// NoticeEarlyRelease: the server released the worker early with full pay.
	NoticeEarlyRelease Notice = "early-release"

	// NoticeConnectionLost: socket trouble, paying out what was earned.
	NoticeConnectionLost Notice = "connection-lost"
)

// Session outcomes recorded in the local history.
const (
	outcomeTurnedIn         = "turned-in"
	outcomeEarlyTermination = "early-termination"
	outcomeConnectionLost   = "connection-lost"
	outcomeReturned         = "returned"
)

// ErrNotIdle is returned when OptIn is called outside the Idle state.
var ErrNotIdle = errors.New("session is not idle")

// Presenter is the presentation collaborator for session-level affordances.
type Presenter interface {
	ShowNotice(n Notice)
	ShowCollectAffordance(collect func())
}

// Payer performs the terminal hand-off to the paying platform.
type Payer interface {
	Submit() error
	Return() error
}

// History records session activity locally. Implementations must tolerate
// being called from timer and socket goroutines.
type History interface {
	RecordAnswer(choiceID, shortcut string)
	FinishSession(outcome string)
}

// Wire is the outbound half of the transport the controller owns.
type Wire interface {
	Open()
	Send(frame []byte)
	Close() error
}

// Config wires a Controller to its collaborators.
type Config struct {
	Identity  *identity.Identity
	Clock     clockwork.Clock
	Renderer  query.Renderer
	Display   retainer.Display
	Presenter Presenter
	Payer     Payer
	History   History

	// Dial constructs the session's single connection. The controller is
	// passed back as the lifecycle handler.
	Dial func(transport.Handler) Wire
}

// Controller is the session state machine. It owns the connection, the
// pending query, and the countdown/billing state for the session lifetime.
type Controller struct {
	id        *identity.Identity
	clock     clockwork.Clock
	presenter Presenter
	payer     Payer
	history   History
	dial      func(transport.Handler) Wire

	queries  *query.Manager
	retainer *retainer.Tracker

	mu         sync.Mutex
	state      State
	wire       Wire
	payoutDone bool
}

// New builds a controller in the Preview or Idle state depending on the
// assignment identity.
func New(cfg Config) *Controller {
	c := &Controller{
		id:        cfg.Identity,
		clock:     cfg.Clock,
		presenter: cfg.Presenter,
		payer:     cfg.Payer,
		history:   cfg.History,
		dial:      cfg.Dial,
		state:     StateIdle,
	}
	if cfg.Identity.Preview() {
		c.state = StatePreview
	}

	c.queries = query.NewManager(cfg.Renderer, c.sendAnswer)
	c.retainer = retainer.NewTracker(cfg.Clock, cfg.Display, c.onTimeExpired)
	return c
}

// State returns the current session phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OptIn is the worker accepting the on-call session: the connection is
// opened and the base pay figure shown. Valid only in the Idle state.
func (c *Controller) OptIn() error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		log.Warn().Str("state", string(state)).Msg("opt-in ignored")
		return ErrNotIdle
	}
	c.state = StateConnecting
	wire := c.dial(c)
	c.wire = wire
	c.mu.Unlock()

	log.Info().Str("worker", c.id.WorkerID).Msg("worker opted in, connecting")
	c.retainer.RecordProgress(0)
	wire.Open()
	return nil
}

// Decline gives the assignment back unworked. Only meaningful before a
// session has started; it closes the session without a payout.
func (c *Controller) Decline() error {
	c.mu.Lock()
	if c.state != StatePreview && c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		log.Warn().Str("state", string(state)).Msg("decline ignored")
		return nil
	}
	c.state = StateCompleted
	c.payoutDone = true
	c.mu.Unlock()

	if c.history != nil {
		c.history.FinishSession(outcomeReturned)
	}
	return c.payer.Return()
}

// ─────────────────────────────────────────────
// Connection lifecycle (implements transport.Handler)
// ─────────────────────────────────────────────

// OnOpen announces the worker as ready and enters the Active state.
func (c *Controller) OnOpen() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	wire := c.wire
	c.mu.Unlock()

	frame, err := protocol.EncodeReady(c.id.AssignmentID, c.id.HITID, c.id.WorkerID)
	if err != nil {
		log.Error().Err(err).Msg("encode ready message")
		return
	}
	wire.Send(frame)
	log.Info().Msg("session active")
}

// OnMessage decodes one inbound frame and dispatches every event it
// carries. Malformed or unrecognized frames are dropped with a diagnostic
// and change no state.
func (c *Controller) OnMessage(frame []byte) {
	events, err := protocol.Decode(frame)
	if err != nil {
		log.Debug().Err(err).Msg("dropping frame")
		return
	}
	for _, ev := range events {
		c.dispatch(ev)
	}
}

// OnError is a terminal condition: no reconnect is attempted, the worker is
// shown a compensation notice and paid out after the grace window.
func (c *Controller) OnError(err error) {
	c.failConnection()
}

// OnClose handles the server ending the connection; same terminal path as
// an error unless the session is already draining or complete.
func (c *Controller) OnClose() {
	c.failConnection()
}

func (c *Controller) failConnection() {
	c.mu.Lock()
	terminal := c.state == StateDraining || c.state == StateCompleted
	c.mu.Unlock()
	if terminal {
		return
	}

	c.presenter.ShowNotice(NoticeConnectionLost)
	c.drain(connectionLostGrace, outcomeConnectionLost)
}

// ─────────────────────────────────────────────
// Inbound event dispatch
// ─────────────────────────────────────────────

func (c *Controller) dispatch(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.QueryOffered:
		// Acceptance happens under the session lock so an offer racing a
		// terminal transition can never land after work has stopped.
		c.mu.Lock()
		if c.state != StateActive {
			c.mu.Unlock()
			log.Warn().Msg("query offer outside active session, ignored")
			return
		}
		q, err := c.queries.Accept(ev)
		c.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Msg("query offer rejected")
			return
		}
		c.queries.Render(q)

	case protocol.JobCancelled:
		if c.State() != StateActive {
			return
		}
		log.Info().Msg("no work available, staying on call")
		c.presenter.ShowNotice(NoticeNoWork)

	case protocol.EarlyTermination:
		if c.State() != StateActive {
			return
		}
		log.Info().Msg("early termination, paying out shortly")
		c.presenter.ShowNotice(NoticeEarlyRelease)
		c.drain(earlyTerminationGrace, outcomeEarlyTermination)

	case protocol.ProgressUpdate:
		state := c.State()
		if state != StateActive && state != StateDraining {
			return
		}
		c.retainer.RecordProgress(ev.TotalAnswered)

	case protocol.SessionDuration:
		if c.State() != StateActive {
			return
		}
		c.retainer.StartCountdown(ev.Duration)
	}
}

// ─────────────────────────────────────────────
// Terminal flow
// ─────────────────────────────────────────────

// drain enters the Draining state once and schedules the payout after the
// grace window. Later terminal triggers are absorbed here or by the payout
// guard in complete.
func (c *Controller) drain(grace time.Duration, outcome string) {
	c.mu.Lock()
	if c.state == StateDraining || c.state == StateCompleted {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	c.mu.Unlock()

	log.Info().Dur("grace", grace).Str("outcome", outcome).Msg("session draining")
	c.clock.AfterFunc(grace, func() {
		c.complete(outcome)
	})
}

// onTimeExpired swaps the session into Draining with an explicit collect
// affordance; the worker's click turns the work in and pays out.
func (c *Controller) onTimeExpired() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	c.mu.Unlock()

	c.presenter.ShowCollectAffordance(c.collect)
}

func (c *Controller) collect() {
	c.mu.Lock()
	wire := c.wire
	c.mu.Unlock()

	if frame, err := protocol.EncodeTurnIn(); err == nil && wire != nil {
		wire.Send(frame)
	}
	c.complete(outcomeTurnedIn)
}

// complete performs the payout action exactly once, regardless of which
// terminal trigger fired first, then tears the session down.
func (c *Controller) complete(outcome string) {
	c.mu.Lock()
	if c.payoutDone {
		c.mu.Unlock()
		return
	}
	c.payoutDone = true
	c.state = StateCompleted
	wire := c.wire
	c.wire = nil
	c.mu.Unlock()

	c.retainer.Stop()
	if wire != nil {
		wire.Close()
	}

	if err := c.payer.Submit(); err != nil {
		log.Error().Err(err).Msg("payout submission failed")
	}
	if c.history != nil {
		c.history.FinishSession(outcome)
	}
	log.Info().Str("outcome", outcome).Msg("session complete")
}

// sendAnswer forwards one resolved answer to the server and the local
// history. Exactly one of these leaves per accepted query offer.
func (c *Controller) sendAnswer(choice query.Choice) {
	frame, err := protocol.EncodeQueryResponse(choice.ID)
	if err != nil {
		log.Error().Err(err).Msg("encode query response")
		return
	}

	c.mu.Lock()
	wire := c.wire
	c.mu.Unlock()
	if wire != nil {
		wire.Send(frame)
	}

	if c.history != nil {
		c.history.RecordAnswer(choice.ID, string(choice.Shortcut))
	}
}
