// Package rpctest runs an in-memory arena for tests.
package rpctest

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/victornm/quizduel/internal/rpc"
)

// Arena is an arena server whose methods are replaced by the non-nil func fields.
// Methods without a func report Unimplemented.
type Arena struct {
	rpc.UnimplementedArenaServer

	FindMatchFunc    func(ctx context.Context, in *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error)
	GetBattleFunc    func(ctx context.Context, in *rpc.GetBattleRequest) (*rpc.Battle, error)
	SubmitAnswerFunc func(ctx context.Context, in *rpc.SubmitAnswerRequest) (*rpc.SubmitAnswerResponse, error)
	EndBattleFunc    func(ctx context.Context, in *rpc.EndBattleRequest) (*rpc.EndBattleResponse, error)
}

func (a *Arena) FindMatch(ctx context.Context, in *rpc.FindMatchRequest) (*rpc.FindMatchResponse, error) {
	if a.FindMatchFunc == nil {
		return a.UnimplementedArenaServer.FindMatch(ctx, in)
	}
	return a.FindMatchFunc(ctx, in)
}

func (a *Arena) GetBattle(ctx context.Context, in *rpc.GetBattleRequest) (*rpc.Battle, error) {
	if a.GetBattleFunc == nil {
		return a.UnimplementedArenaServer.GetBattle(ctx, in)
	}
	return a.GetBattleFunc(ctx, in)
}

func (a *Arena) SubmitAnswer(ctx context.Context, in *rpc.SubmitAnswerRequest) (*rpc.SubmitAnswerResponse, error) {
	if a.SubmitAnswerFunc == nil {
		return a.UnimplementedArenaServer.SubmitAnswer(ctx, in)
	}
	return a.SubmitAnswerFunc(ctx, in)
}

func (a *Arena) EndBattle(ctx context.Context, in *rpc.EndBattleRequest) (*rpc.EndBattleResponse, error) {
	if a.EndBattleFunc == nil {
		return a.UnimplementedArenaServer.EndBattle(ctx, in)
	}
	return a.EndBattleFunc(ctx, in)
}

// Dial serves srv over an in-memory listener and returns a connection to it.
// Server and connection are closed when the test ends.
func Dial(t testing.TB, srv rpc.ArenaServer, opts ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	rpc.RegisterArenaServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	opts = append([]grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err, "should create client connection")
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}
