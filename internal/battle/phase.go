package battle

import (
	"slices"

	"github.com/victornm/quizduel/internal/domain"
)

// transitions lists the phases each phase may move to. Any active phase may end in finished
// when the arena completes or cancels the battle, or its content cannot be loaded.
var transitions = map[domain.Phase][]domain.Phase{
	domain.PhaseIdle:        {domain.PhaseSearching},
	domain.PhaseSearching:   {domain.PhaseFound, domain.PhaseIdle},
	domain.PhaseFound:       {domain.PhaseCountdown, domain.PhaseFinished},
	domain.PhaseCountdown:   {domain.PhasePlaying, domain.PhaseFinished},
	domain.PhasePlaying:     {domain.PhaseRoundResult, domain.PhaseFinished},
	domain.PhaseRoundResult: {domain.PhasePlaying, domain.PhaseFinished},
	domain.PhaseFinished:    {domain.PhaseIdle},
}

func canTransition(from, to domain.Phase) bool {
	return slices.Contains(transitions[from], to)
}

// inBattle reports whether a session is being played.
func inBattle(p domain.Phase) bool {
	switch p {
	case domain.PhaseFound, domain.PhaseCountdown, domain.PhasePlaying, domain.PhaseRoundResult:
		return true
	}
	return false
}
