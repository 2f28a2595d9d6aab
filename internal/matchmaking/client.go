package matchmaking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/rpc"
)

type Config struct {
	Arena    rpc.ArenaClient
	PlayerID string
}

// Client asks the arena to pair the local player with an opponent.
type Client struct {
	arena    rpc.ArenaClient
	playerID string
}

func NewClient(c Config) *Client {
	return &Client{
		arena:    c.Arena,
		playerID: c.PlayerID,
	}
}

// RequestMatch joins or creates a battle for the subject and loads its record.
// Every failure is a matchmaking error.
func (c *Client) RequestMatch(ctx context.Context, subjectID string) (*domain.Handle, error) {
	if err := uuid.Validate(subjectID); err != nil {
		return nil, errors.Matchmaking(errors.New(errors.CodeInvalidArgument, errors.WithCause(err)),
			errors.WithMessagef("invalid subject id %q", subjectID))
	}

	m, err := c.arena.FindMatch(ctx, &rpc.FindMatchRequest{
		SubjectID: subjectID,
		PlayerID:  c.playerID,
	})
	if err != nil {
		return nil, errors.Matchmaking(err, errors.WithMessagef("find match: subject=%s", subjectID))
	}

	if m.BattleID == "" {
		return nil, errors.Matchmaking(nil, errors.WithMessagef("find match: arena returned no battle"))
	}

	b, err := c.arena.GetBattle(ctx, &rpc.GetBattleRequest{BattleID: m.BattleID})
	if err != nil {
		return nil, errors.Matchmaking(err, errors.WithMessagef("get battle: battle=%s", m.BattleID))
	}

	ss, err := c.toSession(b, m)
	if err != nil {
		return nil, errors.Matchmaking(err, errors.WithMessagef("invalid battle record: battle=%s", m.BattleID))
	}

	slog.InfoContext(ctx, "matchmaking: battle found",
		"battle_id", ss.BattleID,
		"side", ss.Side,
		"status", ss.Status,
		"rounds", ss.Rounds(),
		"is_new", m.IsNew,
	)

	return &domain.Handle{
		Session: *ss,
		IsNew:   m.IsNew,
	}, nil
}

func (c *Client) toSession(b *rpc.Battle, m *rpc.FindMatchResponse) (*domain.BattleSession, error) {
	if len(b.RoundIDs) == 0 {
		return nil, fmt.Errorf("battle has no rounds")
	}

	st := domain.Status(b.Status)
	if !st.Valid() {
		return nil, fmt.Errorf("unknown status %q", b.Status)
	}

	if st.Terminal() {
		return nil, fmt.Errorf("battle already %s", st)
	}

	ss := &domain.BattleSession{
		BattleID:  b.BattleID,
		SubjectID: b.SubjectID,
		PlayerID:  c.playerID,
		RoundIDs:  append([]string(nil), b.RoundIDs...),
		Status:    st,
		WinnerID:  b.WinnerID,
	}

	switch c.playerID {
	case b.Player1ID:
		ss.Side = domain.SidePlayer1
		ss.OpponentID = b.Player2ID
	case b.Player2ID:
		ss.Side = domain.SidePlayer2
		ss.OpponentID = b.Player1ID
	default:
		// The arena may not have written the joiner into the record yet.
		if m.IsNew {
			ss.Side = domain.SidePlayer1
		} else {
			ss.Side = domain.SidePlayer2
		}
		ss.OpponentID = m.OpponentID
	}

	if ss.OpponentID == "" {
		ss.OpponentID = m.OpponentID
	}

	local, opp := domain.Snapshot{
		Player1Score: b.Player1Score,
		Player2Score: b.Player2Score,
	}.ScoresFor(ss.Side)
	ss.Scores = domain.Scoreboard{Local: local, Opponent: opp}

	return ss, nil
}
