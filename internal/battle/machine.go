// Package battle drives one local player through a 1v1 quiz duel.
//
// All state lives in a single event loop (Machine.Run). Timers, the snapshot listener,
// submissions, content fetches and API commands only post events into the loop. Every event
// carries the generation of the session it was produced for, so events of a discarded session
// are dropped.
package battle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/event"
	"github.com/victornm/quizduel/internal/timer"
)

const (
	defaultRoundSeconds   = 15
	defaultCountdownTicks = 3
	defaultDwell          = 2 * time.Second
	defaultSubmitTimeout  = 5 * time.Second

	eventBuffer = 256
)

type Matchmaker interface {
	RequestMatch(ctx context.Context, subjectID string) (*domain.Handle, error)
}

type Grader interface {
	Submit(ctx context.Context, s domain.Submission) (*domain.AnswerResult, error)
	Finish(ctx context.Context, battleID string) error
	Release(battleID string)
}

type Questions interface {
	Fetch(ctx context.Context, questionID string) (*domain.Question, error)
}

type Listener interface {
	Listen(ctx context.Context, battleID string, sink func(domain.Snapshot)) error
}

type Config struct {
	Matchmaker Matchmaker
	Grader     Grader
	Questions  Questions
	Listener   Listener
	EventBus   *event.Bus
	Clock      clockwork.Clock

	RoundSeconds   int
	CountdownTicks int
	Dwell          time.Duration
	SubmitTimeout  time.Duration

	// OnTransition is called from the event loop after every phase transition.
	OnTransition func(from, to domain.Phase)
}

type Machine struct {
	mm    Matchmaker
	grade Grader
	qs    Questions
	lis   Listener
	eb    *event.Bus
	clock clockwork.Clock

	roundSeconds   int
	countdownTicks int
	dwell          time.Duration
	submitTimeout  time.Duration
	onTransition   func(from, to domain.Phase)

	events    chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	view atomic.Pointer[domain.View]

	// Owned by the event loop.
	ctx context.Context
	st  state
}

func NewMachine(c Config) *Machine {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.RoundSeconds <= 0 {
		c.RoundSeconds = defaultRoundSeconds
	}
	if c.CountdownTicks <= 0 {
		c.CountdownTicks = defaultCountdownTicks
	}
	if c.Dwell <= 0 {
		c.Dwell = defaultDwell
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = defaultSubmitTimeout
	}

	m := &Machine{
		mm:    c.Matchmaker,
		grade: c.Grader,
		qs:    c.Questions,
		lis:   c.Listener,
		eb:    c.EventBus,
		clock: c.Clock,

		roundSeconds:   c.RoundSeconds,
		countdownTicks: c.CountdownTicks,
		dwell:          c.Dwell,
		submitTimeout:  c.SubmitTimeout,
		onTransition:   c.OnTransition,

		events: make(chan any, eventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),

		st: newState(0),
	}

	m.view.Store(&domain.View{Phase: domain.PhaseIdle})
	return m
}

// DefaultConfig returns the production timings. Collaborators must be set by the caller.
func DefaultConfig() Config {
	return Config{
		RoundSeconds:   defaultRoundSeconds,
		CountdownTicks: defaultCountdownTicks,
		Dwell:          defaultDwell,
		SubmitTimeout:  defaultSubmitTimeout,
	}
}

// Run processes events until ctx is done or Close is called. It must be called once.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("battle machine already running"))
	}
	defer close(m.done)

	m.ctx = ctx
	m.publishView()

	slog.InfoContext(ctx, "battle: machine started")

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			slog.InfoContext(ctx, "battle: machine stopped", "reason", ctx.Err())
			return nil
		case <-m.quit:
			m.teardown()
			slog.InfoContext(ctx, "battle: machine closed")
			return nil
		case ev := <-m.events:
			m.handle(ev)
			m.publishView()
		}
	}
}

// Close stops the event loop. No state changes after Close returns.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.quit) })

	if m.running.Load() {
		<-m.done
	}
}

// View returns the latest projection of the machine.
func (m *Machine) View() domain.View {
	return *m.view.Load()
}

// Search asks matchmaking for a battle on the subject. Only allowed from idle.
func (m *Machine) Search(ctx context.Context, subjectID string) error {
	return m.command(ctx, func() error { return m.search(subjectID) })
}

// Answer submits the option for the current round. Only allowed once per round while playing.
func (m *Machine) Answer(ctx context.Context, option int) error {
	return m.command(ctx, func() error { return m.answer(option) })
}

// Reset returns a finished machine to idle.
func (m *Machine) Reset(ctx context.Context) error {
	return m.command(ctx, m.reset)
}

// Leave abandons the current battle from any phase: timers are cancelled, the listener is
// stopped, in-flight submissions are not awaited, and the session is discarded.
func (m *Machine) Leave(ctx context.Context) error {
	return m.command(ctx, m.leave)
}

func (m *Machine) DismissBanner(ctx context.Context) error {
	return m.command(ctx, func() error {
		m.st.banner = nil
		return nil
	})
}

var errClosed = errors.New(errors.CodeUnavailable, errors.WithMessagef("battle machine is closed"))

// command runs fn on the event loop and waits for its result. ctx only bounds the wait for a
// slot in the queue.
func (m *Machine) command(ctx context.Context, fn func() error) error {
	select {
	case <-m.quit:
		return errClosed
	default:
	}

	c := command{fn: fn, reply: make(chan error, 1)}

	select {
	case m.events <- c:
	case <-m.quit:
		return errClosed
	case <-m.done:
		return errClosed
	case <-ctx.Done():
		return errors.New(errors.CodeDeadlineExceeded, errors.WithCause(ctx.Err()))
	}

	// A queued command is applied regardless of ctx, so its result is what the caller gets.
	select {
	case err := <-c.reply:
		return err
	case <-m.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return errClosed
		}
	}
}

// post hands an event to the loop. Events posted after the loop stopped are dropped.
func (m *Machine) post(ev any) {
	select {
	case m.events <- ev:
	case <-m.quit:
	case <-m.done:
	}
}

// transition moves to the next phase, rejecting moves the phase table does not allow.
func (m *Machine) transition(to domain.Phase) error {
	from := m.st.phase
	if !canTransition(from, to) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("illegal transition: %s -> %s", from, to))
	}

	m.st.phase = to
	observeTransition(from, to)
	slog.DebugContext(m.ctx, "battle: phase changed", "from", from, "to", to, "battle_id", m.st.battleID())

	if m.onTransition != nil {
		m.onTransition(from, to)
	}

	return nil
}

// mustTransition is used for moves the loop itself decided on. A failure means the state is
// inconsistent, so it is logged and the move is skipped.
func (m *Machine) mustTransition(to domain.Phase) bool {
	if err := m.transition(to); err != nil {
		slog.ErrorContext(m.ctx, "battle: unexpected transition", "battle_id", m.st.battleID(), "error", err)
		return false
	}
	return true
}

func (m *Machine) publishView() {
	m.st.version++
	v := m.project()
	m.view.Store(&v)

	if m.eb != nil {
		m.eb.Publish(m.ctx, domain.EventViewUpdated{View: v})
	}
}

func (m *Machine) publish(e event.Event) {
	if m.eb != nil {
		m.eb.Publish(m.ctx, e)
	}
}

// startTimer starts a countdown whose callbacks are posted as events of the current generation.
func (m *Machine) startTimer(seconds int, onTick func(gen uint64, remaining int) any, onExpired func(gen uint64) any) *timer.Timer {
	gen := m.st.gen
	return timer.Start(timer.Config{
		Clock:     m.clock,
		Seconds:   seconds,
		OnTick:    func(remaining int) { m.post(onTick(gen, remaining)) },
		OnExpired: func() { m.post(onExpired(gen)) },
	})
}

// teardown releases everything the current session holds.
func (m *Machine) teardown() {
	m.st.stopTimers()

	if m.st.cancel != nil {
		m.st.cancel()
	}

	if m.st.session != nil && m.grade != nil {
		m.grade.Release(m.st.session.BattleID)
	}
}
