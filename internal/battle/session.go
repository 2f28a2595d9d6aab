package battle

import (
	"context"
	"log/slog"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
)

func (m *Machine) search(subjectID string) error {
	if err := m.transition(domain.PhaseSearching); err != nil {
		return err
	}

	// A new search starts from a clean scoreboard and round counter.
	m.st = newStateFrom(m.st)
	gen := m.st.gen
	ctx := m.ctx

	go func() {
		h, err := m.mm.RequestMatch(ctx, subjectID)
		m.post(matched{gen: gen, handle: h, err: err})
	}()

	return nil
}

// newStateFrom returns a fresh state of the next generation that keeps the current phase.
func newStateFrom(old state) state {
	s := newState(old.gen + 1)
	s.version = old.version
	s.phase = old.phase
	return s
}

func (m *Machine) onMatched(e matched) {
	if m.st.phase != domain.PhaseSearching {
		return
	}

	if e.err != nil {
		slog.WarnContext(m.ctx, "battle: matchmaking failed", "error", e.err)
		m.st.banner = bannerFor(errors.KindMatchmaking, e.err)
		m.mustTransition(domain.PhaseIdle)
		return
	}

	ss := e.handle.Session
	m.st.session = &ss
	m.st.isNew = e.handle.IsNew

	if !m.mustTransition(domain.PhaseFound) {
		return
	}

	m.publish(domain.EventBattleFound{Session: ss})

	ctx, cancel := context.WithCancel(m.ctx)
	m.st.ctx, m.st.cancel = ctx, cancel
	m.listen(ctx)
	m.fetch(1)

	if ss.Status == domain.StatusActive {
		m.startCountdown()
	}
}

// listen subscribes to the battle's snapshots until the session ends or stopListening is called.
func (m *Machine) listen(parent context.Context) {
	if m.lis == nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	m.st.unlisten = cancel

	gen, battleID := m.st.gen, m.st.session.BattleID
	go func() {
		err := m.lis.Listen(ctx, battleID, func(s domain.Snapshot) {
			m.post(snapshotPushed{gen: gen, snapshot: s})
		})
		if err != nil && ctx.Err() == nil {
			m.post(feedLost{gen: gen, err: err})
		}
	}()
}

// fetch loads the content of the round at index unless it is loaded or loading.
func (m *Machine) fetch(index int) {
	if m.st.session == nil || m.qs == nil {
		return
	}

	id, ok := m.st.session.QuestionAt(index)
	if !ok || m.st.questions[id] != nil || m.st.fetching[id] {
		return
	}

	m.st.fetching[id] = true
	ctx, gen := m.sessionCtx(), m.st.gen

	go func() {
		q, err := m.qs.Fetch(ctx, id)
		if ctx.Err() != nil {
			return
		}
		m.post(contentLoaded{gen: gen, questionID: id, question: q, err: err})
	}()
}

// sessionCtx is done when the session is discarded.
func (m *Machine) sessionCtx() context.Context {
	if m.st.ctx == nil {
		return m.ctx
	}
	return m.st.ctx
}

func (m *Machine) onContentLoaded(e contentLoaded) {
	delete(m.st.fetching, e.questionID)

	if e.err != nil {
		m.cancelSession(e.err)
		return
	}

	m.st.questions[e.questionID] = e.question
}

func (m *Machine) reset() error {
	if err := m.transition(domain.PhaseIdle); err != nil {
		return err
	}

	m.discard()
	return nil
}

func (m *Machine) leave() error {
	if m.st.session != nil {
		slog.InfoContext(m.ctx, "battle: left", "battle_id", m.st.session.BattleID, "phase", m.st.phase)
	}

	m.discard()
	m.st.phase = domain.PhaseIdle
	return nil
}

// discard drops the session and moves to the next generation, so that events still in flight
// for it are ignored.
func (m *Machine) discard() {
	m.teardown()
	m.st = newStateFrom(m.st)
}

// bannerFor describes a failure to the player.
func bannerFor(kind errors.Kind, err error) *domain.Banner {
	b := &domain.Banner{
		Kind:    string(kind),
		Message: errors.Convert(err).Message,
	}

	switch kind {
	case errors.KindMatchmaking:
		b.Retry = true
	case errors.KindContentUnavailable:
		b.Fatal = true
	}

	return b
}
