package battle

import (
	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/telemetry"
)

func observeTransition(from, to domain.Phase) {
	telemetry.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func observeResolution(r domain.AnswerResult) {
	outcome := "incorrect"
	switch {
	case r.Fallback:
		outcome = "fallback"
	case r.TimedOut:
		outcome = "timeout"
	case r.IsCorrect:
		outcome = "correct"
	}

	telemetry.RoundsResolved.WithLabelValues(outcome).Inc()
}
