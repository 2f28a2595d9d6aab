package battle

import (
	"slices"

	"github.com/victornm/quizduel/internal/domain"
)

// project builds the read-only view of the current state. Nothing in the view aliases state.
func (m *Machine) project() domain.View {
	st := &m.st

	v := domain.View{
		Version:   st.version,
		Phase:     st.phase,
		Countdown: st.countdownLeft,
		History:   slices.Clone(st.history),
	}

	if st.banner != nil {
		b := *st.banner
		v.Banner = &b
	}

	if st.lastResult != nil {
		r := *st.lastResult
		v.LastResult = &r
	}

	ss := st.session
	if ss == nil {
		return v
	}

	v.BattleID = ss.BattleID
	v.SubjectID = ss.SubjectID
	v.PlayerID = ss.PlayerID
	v.OpponentID = ss.OpponentID
	v.Status = ss.Status
	v.Rounds = ss.Rounds()
	v.Scores = ss.Scores
	v.WinnerID = ss.WinnerID

	if r := st.round; r != nil {
		v.Round = r.Index
		v.QuestionID = r.QuestionID
		v.Remaining = st.remaining
		v.Answered = r.Answered
		v.OpponentAnswered = r.OpponentAnswered

		if q := st.questions[r.QuestionID]; q != nil {
			c := *q
			c.Options = slices.Clone(q.Options)
			v.Question = &c
		}
	}

	if st.phase == domain.PhaseFinished {
		v.Outcome = outcome(ss)
		s := domain.Summarize(ss.Rounds(), st.history)
		v.Summary = &s
	}

	return v
}

// outcome is the result of the battle for the local player. The arena's winner decides when
// known, otherwise scores are compared.
func outcome(ss *domain.BattleSession) domain.Outcome {
	if ss.Status == domain.StatusCancelled {
		return ""
	}

	switch {
	case ss.WinnerID != "" && ss.WinnerID == ss.PlayerID:
		return domain.OutcomeWin
	case ss.WinnerID != "":
		return domain.OutcomeLose
	case ss.Scores.Local > ss.Scores.Opponent:
		return domain.OutcomeWin
	case ss.Scores.Local < ss.Scores.Opponent:
		return domain.OutcomeLose
	default:
		return domain.OutcomeDraw
	}
}
