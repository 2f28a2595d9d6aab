package battle

import (
	"log/slog"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
)

// onSnapshot merges an authoritative snapshot into the session. Scores only go up, so a stale
// push delivered out of order cannot lower them, and status only moves forward.
func (m *Machine) onSnapshot(s domain.Snapshot) {
	ss := m.st.session
	if ss == nil || s.BattleID != ss.BattleID {
		return
	}

	local, opponent := s.ScoresFor(ss.Side)
	before := ss.Scores
	ss.Scores = ss.Scores.Raise(local, opponent)

	if r := m.st.round; r != nil && m.st.phase == domain.PhasePlaying && ss.Scores.Opponent > before.Opponent {
		r.OpponentAnswered = true
	}

	if ss.OpponentID == "" && m.st.isNew && s.Player2ID != "" {
		ss.OpponentID = s.Player2ID
	}

	if s.Status == ss.Status {
		if s.Status == domain.StatusCompleted && ss.WinnerID == "" && s.WinnerID != "" {
			ss.WinnerID = s.WinnerID
			m.publish(domain.EventBattleEnded{Session: *ss})
		}
		return
	}

	if !ss.Status.CanBecome(s.Status) {
		slog.DebugContext(m.ctx, "battle: ignore status change", "battle_id", ss.BattleID, "from", ss.Status, "to", s.Status)
		return
	}

	ss.Status = s.Status

	switch s.Status {
	case domain.StatusActive:
		if m.st.phase == domain.PhaseFound {
			m.startCountdown()
		}

	case domain.StatusCompleted:
		ss.WinnerID = s.WinnerID
		m.end(nil)

	case domain.StatusCancelled:
		m.end(&domain.Banner{
			Kind:    "cancelled",
			Message: "The battle was cancelled.",
			Fatal:   true,
		})
	}
}

// end finishes the battle after the arena closed it. Pending rounds are discarded and the
// listener is stopped as nothing more will be pushed.
func (m *Machine) end(banner *domain.Banner) {
	m.st.stopListening()

	if banner != nil {
		m.st.banner = banner
	}

	if m.st.phase == domain.PhaseFinished {
		m.publish(domain.EventBattleEnded{Session: *m.st.session})
		return
	}

	if !inBattle(m.st.phase) {
		return
	}

	m.st.stopTimers()

	if !m.mustTransition(domain.PhaseFinished) {
		return
	}

	slog.InfoContext(m.ctx, "battle: ended by arena",
		"battle_id", m.st.session.BattleID,
		"status", m.st.session.Status,
		"winner_id", m.st.session.WinnerID,
	)

	m.publish(domain.EventBattleEnded{Session: *m.st.session})
}

// cancelSession gives up a battle whose content cannot be shown.
func (m *Machine) cancelSession(err error) {
	ss := m.st.session
	if ss == nil || m.st.phase == domain.PhaseFinished {
		return
	}

	slog.ErrorContext(m.ctx, "battle: content unavailable, cancel battle", "battle_id", ss.BattleID, "error", err)

	if ss.Status.CanBecome(domain.StatusCancelled) {
		ss.Status = domain.StatusCancelled
	}

	m.end(bannerFor(errors.KindContentUnavailable, err))
}

func (m *Machine) onFeedLost(err error) {
	if !inBattle(m.st.phase) {
		return
	}

	slog.WarnContext(m.ctx, "battle: realtime feed lost", "battle_id", m.st.battleID(), "error", err)
	m.st.banner = bannerFor(errors.KindRealtimeDisconnect, err)
}
