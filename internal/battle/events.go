package battle

import (
	"fmt"
	"log/slog"

	"github.com/victornm/quizduel/internal/domain"
)

type (
	command struct {
		fn    func() error
		reply chan error
	}

	matched struct {
		gen    uint64
		handle *domain.Handle
		err    error
	}

	countdownTicked struct {
		gen       uint64
		remaining int
	}

	countdownExpired struct {
		gen uint64
	}

	roundTicked struct {
		gen       uint64
		round     int
		remaining int
	}

	roundExpired struct {
		gen   uint64
		round int
	}

	verdictReceived struct {
		gen    uint64
		round  int
		result *domain.AnswerResult
		err    error
	}

	dwellElapsed struct {
		gen   uint64
		round int
	}

	contentLoaded struct {
		gen        uint64
		questionID string
		question   *domain.Question
		err        error
	}

	snapshotPushed struct {
		gen      uint64
		snapshot domain.Snapshot
	}

	feedLost struct {
		gen uint64
		err error
	}
)

func (m *Machine) handle(ev any) {
	if c, ok := ev.(command); ok {
		c.reply <- c.fn()
		return
	}

	if gen := generationOf(ev); gen != m.st.gen {
		slog.DebugContext(m.ctx, "battle: drop stale event", "event", fmt.Sprintf("%T", ev), "gen", gen, "current", m.st.gen)
		return
	}

	switch e := ev.(type) {
	case matched:
		m.onMatched(e)
	case countdownTicked:
		m.onCountdownTicked(e)
	case countdownExpired:
		m.onCountdownExpired()
	case roundTicked:
		m.onRoundTicked(e)
	case roundExpired:
		m.onRoundExpired(e)
	case verdictReceived:
		m.onVerdict(e)
	case dwellElapsed:
		m.onDwellElapsed(e)
	case contentLoaded:
		m.onContentLoaded(e)
	case snapshotPushed:
		m.onSnapshot(e.snapshot)
	case feedLost:
		m.onFeedLost(e.err)
	default:
		slog.ErrorContext(m.ctx, "battle: unknown event", "event", fmt.Sprintf("%T", ev))
	}
}

func generationOf(ev any) uint64 {
	switch e := ev.(type) {
	case matched:
		return e.gen
	case countdownTicked:
		return e.gen
	case countdownExpired:
		return e.gen
	case roundTicked:
		return e.gen
	case roundExpired:
		return e.gen
	case verdictReceived:
		return e.gen
	case dwellElapsed:
		return e.gen
	case contentLoaded:
		return e.gen
	case snapshotPushed:
		return e.gen
	case feedLost:
		return e.gen
	}
	return 0
}
