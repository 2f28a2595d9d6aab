package battle

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/timer"
)

// state is everything the machine knows about the current session.
type state struct {
	gen     uint64
	version uint64
	phase   domain.Phase

	session  *domain.BattleSession
	isNew    bool
	ctx      context.Context
	cancel   context.CancelFunc // ends ctx
	unlisten context.CancelFunc // stops the snapshot listener

	countdown     *timer.Timer
	countdownLeft int

	round      *domain.Round
	roundTimer *timer.Timer
	remaining  int
	dwell      clockwork.Timer

	// scoreAtSubmit is the local score when the current round was submitted.
	scoreAtSubmit int

	questions map[string]*domain.Question
	fetching  map[string]bool

	history    []domain.AnswerResult
	lastResult *domain.AnswerResult
	banner     *domain.Banner
}

func newState(gen uint64) state {
	return state{
		gen:       gen,
		phase:     domain.PhaseIdle,
		questions: make(map[string]*domain.Question),
		fetching:  make(map[string]bool),
	}
}

func (s *state) battleID() string {
	if s.session == nil {
		return ""
	}
	return s.session.BattleID
}

// stopTimers cancels the countdown, the round timer and the dwell.
func (s *state) stopTimers() {
	if s.countdown != nil {
		s.countdown.Cancel()
	}
	if s.roundTimer != nil {
		s.roundTimer.Cancel()
	}
	if s.dwell != nil {
		s.dwell.Stop()
	}
}

// stopListening unsubscribes from the snapshot feed.
func (s *state) stopListening() {
	if s.unlisten != nil {
		s.unlisten()
	}
}

// resolved reports whether the round at index already has a result.
func (s *state) resolved(index int) bool {
	for _, r := range s.history {
		if r.Round == index {
			return true
		}
	}
	return false
}
