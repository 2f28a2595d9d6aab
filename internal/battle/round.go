package battle

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/telemetry"
)

func (m *Machine) startCountdown() {
	if !m.mustTransition(domain.PhaseCountdown) {
		return
	}

	m.st.countdownLeft = m.countdownTicks
	m.st.countdown = m.startTimer(m.countdownTicks,
		func(gen uint64, remaining int) any { return countdownTicked{gen: gen, remaining: remaining} },
		func(gen uint64) any { return countdownExpired{gen: gen} },
	)
}

func (m *Machine) onCountdownTicked(e countdownTicked) {
	if m.st.phase == domain.PhaseCountdown {
		m.st.countdownLeft = e.remaining
	}
}

func (m *Machine) onCountdownExpired() {
	if m.st.phase != domain.PhaseCountdown {
		return
	}

	m.st.countdown = nil
	m.enterRound(1)
}

// enterRound opens the round at index with a fresh deadline.
func (m *Machine) enterRound(index int) {
	qid, ok := m.st.session.QuestionAt(index)
	if !ok {
		slog.ErrorContext(m.ctx, "battle: no question for round", "battle_id", m.st.session.BattleID, "round", index)
		return
	}

	if !m.mustTransition(domain.PhasePlaying) {
		return
	}

	m.st.round = &domain.Round{
		Index:      index,
		QuestionID: qid,
		Deadline:   m.clock.Now().Add(time.Duration(m.roundSeconds) * time.Second),
	}
	m.st.remaining = m.roundSeconds
	m.st.dwell = nil

	m.fetch(index)

	m.st.roundTimer = m.startTimer(m.roundSeconds,
		func(gen uint64, remaining int) any { return roundTicked{gen: gen, round: index, remaining: remaining} },
		func(gen uint64) any { return roundExpired{gen: gen, round: index} },
	)
}

func (m *Machine) onRoundTicked(e roundTicked) {
	if r := m.st.round; r != nil && r.Index == e.round && !r.Resolved {
		m.st.remaining = e.remaining
	}
}

func (m *Machine) answer(option int) error {
	r := m.st.round
	if m.st.phase != domain.PhasePlaying || r == nil {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot answer in phase %s", m.st.phase))
	}

	if r.Answered {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("round %d is already answered", r.Index))
	}

	if !m.validOption(r.QuestionID, option) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option %d is not valid for round %d", option, r.Index))
	}

	elapsed := int64(m.roundSeconds-m.st.remaining) * 1000
	m.submit(option, min(max(elapsed, 0), int64(m.roundSeconds)*1000))
	return nil
}

// validOption checks the option against the loaded question, or against the option range
// when content is not loaded yet.
func (m *Machine) validOption(questionID string, option int) bool {
	if q := m.st.questions[questionID]; q != nil {
		return q.HasOption(option)
	}
	return option >= 0 && option < domain.MaxOptions
}

// submit marks the round answered and grades the option in the background.
// The round timer keeps running while the verdict is awaited.
func (m *Machine) submit(option int, elapsedMs int64) {
	r := m.st.round
	r.Answered = true
	r.Selected = &option

	m.st.scoreAtSubmit = m.st.session.Scores.Local

	s := domain.Submission{
		BattleID:   m.st.session.BattleID,
		Round:      r.Index,
		QuestionID: r.QuestionID,
		Option:     option,
		ElapsedMs:  elapsedMs,
	}
	ctx, gen := m.sessionCtx(), m.st.gen

	go func() {
		ctx, cancel := context.WithTimeout(ctx, m.submitTimeout)
		defer cancel()

		res, err := m.grade.Submit(ctx, s)
		m.post(verdictReceived{gen: gen, round: s.Round, result: res, err: err})
	}()
}

func (m *Machine) onRoundExpired(e roundExpired) {
	r := m.st.round
	if m.st.phase != domain.PhasePlaying || r == nil || r.Index != e.round || r.Resolved {
		return
	}

	m.st.remaining = 0
	m.st.roundTimer = nil

	if !r.Answered {
		// Nothing chosen: submit the sentinel as if the player had chosen it.
		m.submit(domain.NoAnswer, int64(m.roundSeconds)*1000)
		return
	}

	// The deadline is hard: a verdict still in flight is no longer waited for.
	m.resolve(domain.AnswerResult{
		Round:         r.Index,
		QuestionID:    r.QuestionID,
		Selected:      *r.Selected,
		CorrectOption: domain.NoAnswer,
		ElapsedMs:     int64(m.roundSeconds) * 1000,
		TimedOut:      true,
	})
}

func (m *Machine) onVerdict(e verdictReceived) {
	r := m.st.round
	if r == nil || r.Index != e.round || r.Resolved || m.st.phase != domain.PhasePlaying {
		telemetry.LateVerdicts.Inc()
		slog.InfoContext(m.ctx, "battle: drop late verdict", "battle_id", m.st.battleID(), "round", e.round, "error", e.err)
		return
	}

	if e.err != nil {
		slog.WarnContext(m.ctx, "battle: submission failed, resolve round without credit",
			"battle_id", m.st.battleID(),
			"round", r.Index,
			"error", e.err,
		)
		m.st.banner = bannerFor(errors.KindSubmission, e.err)

		m.resolve(domain.AnswerResult{
			Round:         r.Index,
			QuestionID:    r.QuestionID,
			Selected:      *r.Selected,
			CorrectOption: domain.NoAnswer,
			ElapsedMs:     elapsedOf(r, m.clock.Now(), m.roundSeconds),
			TimedOut:      *r.Selected == domain.NoAnswer,
			Fallback:      true,
		})
		return
	}

	res := *e.result
	if *r.Selected == domain.NoAnswer {
		res.IsCorrect = false
		res.TimedOut = true
	}
	m.resolve(res)
}

// elapsedOf returns the time spent on the round, measured against its deadline.
func elapsedOf(r *domain.Round, now time.Time, roundSeconds int) int64 {
	total := int64(roundSeconds) * 1000
	left := r.Deadline.Sub(now).Milliseconds()
	return min(max(total-left, 0), total)
}

// resolve closes the current round with its one and only result.
func (m *Machine) resolve(res domain.AnswerResult) {
	r := m.st.round
	if r.Resolved || m.st.resolved(r.Index) {
		return
	}

	if m.st.roundTimer != nil {
		m.st.roundTimer.Cancel()
		m.st.roundTimer = nil
	}

	if res.IsCorrect {
		res.ScoreDelta = max(0, res.NewScore-m.st.scoreAtSubmit)
	} else {
		res.ScoreDelta = 0
	}

	ss := m.st.session
	ss.Scores = ss.Scores.Raise(res.NewScore, res.OpponentScore)

	r.Resolved = true
	m.st.history = append(m.st.history, res)
	m.st.lastResult = &res

	observeResolution(res)
	m.publish(domain.EventRoundResolved{BattleID: ss.BattleID, Result: res})

	if !m.mustTransition(domain.PhaseRoundResult) {
		return
	}

	m.fetch(r.Index + 1)

	gen, index := m.st.gen, r.Index
	m.st.dwell = m.clock.AfterFunc(m.dwell, func() {
		m.post(dwellElapsed{gen: gen, round: index})
	})
}

func (m *Machine) onDwellElapsed(e dwellElapsed) {
	r := m.st.round
	if m.st.phase != domain.PhaseRoundResult || r == nil || r.Index != e.round {
		return
	}

	m.st.dwell = nil

	if r.Index < m.st.session.Rounds() {
		m.enterRound(r.Index + 1)
		return
	}

	m.complete()
}

// complete finishes a battle whose rounds have all been played. The listener stays subscribed
// so that the arena's final status and winner still reach the session.
func (m *Machine) complete() {
	if !m.mustTransition(domain.PhaseFinished) {
		return
	}

	ss := m.st.session
	m.publish(domain.EventBattleEnded{Session: *ss})

	ctx, battleID := m.sessionCtx(), ss.BattleID
	go func() {
		if err := m.grade.Finish(ctx, battleID); err != nil {
			slog.WarnContext(ctx, "battle: end battle failed", "battle_id", battleID, "error", err)
		}
	}()

	slog.InfoContext(m.ctx, "battle: all rounds played",
		"battle_id", battleID,
		"local", ss.Scores.Local,
		"opponent", ss.Scores.Opponent,
	)
}
