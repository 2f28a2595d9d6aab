package matchmaking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/matchmaking"
	"github.com/victornm/quizduel/internal/rpc"
	"github.com/victornm/quizduel/internal/rpc/rpctest"
)

const (
	subject = "0191d2a4-7c1e-7f3a-9c61-2f4b8e0d1a11"
	player  = "p-local"
)

func TestClient_RequestMatch(t *testing.T) {
	type outputs struct {
		handle *domain.Handle
		err    error
	}

	tests := map[string]struct {
		subject string
		arena   *rpctest.Arena
		assert  func(t *testing.T, out outputs)
	}{
		"should create a new battle as player1": {
			subject: subject,
			arena: &rpctest.Arena{
				FindMatchFunc: func(_ context.Context, in *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error) {
					return &rpc.FindMatchResponse{BattleID: "b1", IsNew: true}, nil
				},
				GetBattleFunc: func(_ context.Context, in *rpc.GetBattleRequest) (*rpc.Battle, error) {
					return &rpc.Battle{
						BattleID:  in.BattleID,
						SubjectID: subject,
						Player1ID: player,
						Status:    "waiting",
						RoundIDs:  []string{"q1", "q2", "q3"},
					}, nil
				},
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, &domain.Handle{
					Session: domain.BattleSession{
						BattleID:  "b1",
						SubjectID: subject,
						PlayerID:  player,
						Side:      domain.SidePlayer1,
						RoundIDs:  []string{"q1", "q2", "q3"},
						Status:    domain.StatusWaiting,
					},
					IsNew: true,
				}, out.handle)
			},
		},

		"should join an existing battle as player2 and map scores to the local side": {
			subject: subject,
			arena: &rpctest.Arena{
				FindMatchFunc: func(_ context.Context, _ *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error) {
					return &rpc.FindMatchResponse{BattleID: "b2", OpponentID: "p-other"}, nil
				},
				GetBattleFunc: func(_ context.Context, in *rpc.GetBattleRequest) (*rpc.Battle, error) {
					return &rpc.Battle{
						BattleID:     in.BattleID,
						SubjectID:    subject,
						Player1ID:    "p-other",
						Player2ID:    player,
						Status:       "active",
						RoundIDs:     []string{"q1"},
						Player1Score: 7,
						Player2Score: 3,
					}, nil
				},
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				ss := out.handle.Session
				require.Equal(t, domain.SidePlayer2, ss.Side)
				require.Equal(t, "p-other", ss.OpponentID)
				require.Equal(t, domain.StatusActive, ss.Status)
				require.Equal(t, domain.Scoreboard{Local: 3, Opponent: 7}, ss.Scores)
				require.False(t, out.handle.IsNew)
			},
		},

		"should reject a malformed subject id without calling the arena": {
			subject: "not-a-uuid",
			arena:   &rpctest.Arena{},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindMatchmaking))
				require.Equal(t, errors.CodeInvalidArgument, errors.Convert(out.err).Code)
				require.Nil(t, out.handle)
			},
		},

		"should keep the arena code when the player cannot enter": {
			subject: subject,
			arena: &rpctest.Arena{
				FindMatchFunc: func(_ context.Context, _ *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error) {
					return nil, status.Error(codes.FailedPrecondition, "not enough energy")
				},
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindMatchmaking))
				require.Equal(t, errors.CodeFailedPrecondition, errors.Convert(out.err).Code)
			},
		},

		"should fail when the battle has no rounds": {
			subject: subject,
			arena: &rpctest.Arena{
				FindMatchFunc: func(_ context.Context, _ *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error) {
					return &rpc.FindMatchResponse{BattleID: "b3", IsNew: true}, nil
				},
				GetBattleFunc: func(_ context.Context, in *rpc.GetBattleRequest) (*rpc.Battle, error) {
					return &rpc.Battle{BattleID: in.BattleID, Player1ID: player, Status: "waiting"}, nil
				},
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindMatchmaking))
			},
		},

		"should fail when the battle is already over": {
			subject: subject,
			arena: &rpctest.Arena{
				FindMatchFunc: func(_ context.Context, _ *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error) {
					return &rpc.FindMatchResponse{BattleID: "b4"}, nil
				},
				GetBattleFunc: func(_ context.Context, in *rpc.GetBattleRequest) (*rpc.Battle, error) {
					return &rpc.Battle{BattleID: in.BattleID, Status: "cancelled", RoundIDs: []string{"q1"}}, nil
				},
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindMatchmaking))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c := matchmaking.NewClient(matchmaking.Config{
				Arena:    rpc.NewArenaClient(rpctest.Dial(t, tt.arena)),
				PlayerID: player,
			})

			var out outputs
			out.handle, out.err = c.RequestMatch(ctx, tt.subject)

			tt.assert(t, out)
		})
	}
}
