package grading

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/rpc"
)

type Config struct {
	Arena    rpc.ArenaClient
	PlayerID string
}

// Gateway sends answers to the arena for grading. It makes at most one call per battle round.
type Gateway struct {
	arena    rpc.ArenaClient
	playerID string

	mu   sync.Mutex
	sent map[string]map[int]struct{}
}

func NewGateway(c Config) *Gateway {
	return &Gateway{
		arena:    c.Arena,
		playerID: c.PlayerID,
		sent:     make(map[string]map[int]struct{}),
	}
}

// Submit grades a submission. Option domain.NoAnswer submits an expired round, and its verdict
// is always incorrect whatever the arena says. A round is claimed before the call is made,
// so a failed round is not retried either.
func (g *Gateway) Submit(ctx context.Context, s domain.Submission) (*domain.AnswerResult, error) {
	if s.Round < 1 || s.ElapsedMs < 0 || (s.Option != domain.NoAnswer && (s.Option < 0 || s.Option >= domain.MaxOptions)) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithKind(errors.KindSubmission),
			errors.WithMessagef("invalid submission: round=%d option=%d elapsed=%d", s.Round, s.Option, s.ElapsedMs),
		)
	}

	if !g.claim(s.BattleID, s.Round) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithKind(errors.KindSubmission),
			errors.WithMessagef("answer is already submitted: battle=%s round=%d", s.BattleID, s.Round),
		)
	}

	resp, err := g.arena.SubmitAnswer(ctx, &rpc.SubmitAnswerRequest{
		RequestID:      uuid.NewString(),
		BattleID:       s.BattleID,
		PlayerID:       g.playerID,
		QuestionID:     s.QuestionID,
		SelectedOption: s.Option,
		ElapsedMs:      s.ElapsedMs,
	})
	if err != nil {
		return nil, errors.Submission(err,
			errors.WithMessagef("submit answer: battle=%s round=%d", s.BattleID, s.Round))
	}

	timedOut := s.Option == domain.NoAnswer
	res := &domain.AnswerResult{
		Round:         s.Round,
		QuestionID:    s.QuestionID,
		Selected:      s.Option,
		IsCorrect:     resp.IsCorrect && !timedOut,
		CorrectOption: resp.CorrectOption,
		ElapsedMs:     s.ElapsedMs,
		TimedOut:      timedOut,
		NewScore:      resp.NewScore,
		OpponentScore: resp.OpponentScore,
	}

	if timedOut && resp.IsCorrect {
		slog.WarnContext(ctx, "grading: arena graded an expired round as correct, ignored",
			"battle_id", s.BattleID,
			"round", s.Round,
		)
	}

	return res, nil
}

// Finish tells the arena the local player has played every round.
func (g *Gateway) Finish(ctx context.Context, battleID string) error {
	if _, err := g.arena.EndBattle(ctx, &rpc.EndBattleRequest{
		BattleID: battleID,
		PlayerID: g.playerID,
	}); err != nil {
		return errors.Submission(err, errors.WithMessagef("end battle: battle=%s", battleID))
	}

	return nil
}

// Release forgets the rounds submitted for a battle.
func (g *Gateway) Release(battleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.sent, battleID)
}

func (g *Gateway) claim(battleID string, round int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rounds, ok := g.sent[battleID]
	if !ok {
		rounds = make(map[int]struct{})
		g.sent[battleID] = rounds
	}

	if _, ok := rounds[round]; ok {
		return false
	}

	rounds[round] = struct{}{}
	return true
}
