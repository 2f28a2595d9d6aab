package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ArenaServiceName = "quizduel.arena.v1.ArenaService"

	ArenaFindMatchMethod    = "/" + ArenaServiceName + "/FindMatch"
	ArenaGetBattleMethod    = "/" + ArenaServiceName + "/GetBattle"
	ArenaSubmitAnswerMethod = "/" + ArenaServiceName + "/SubmitAnswer"
	ArenaEndBattleMethod    = "/" + ArenaServiceName + "/EndBattle"
)

type FindMatchRequest struct {
	SubjectID string `json:"subject_id"`
	PlayerID  string `json:"player_id"`
}

type FindMatchResponse struct {
	BattleID   string `json:"battle_id"`
	OpponentID string `json:"opponent_id,omitempty"`
	IsNew      bool   `json:"is_new"`
}

type GetBattleRequest struct {
	BattleID string `json:"battle_id"`
}

// Battle is the arena's record of a duel.
type Battle struct {
	BattleID     string   `json:"battle_id"`
	SubjectID    string   `json:"subject_id"`
	Player1ID    string   `json:"player1_id"`
	Player2ID    string   `json:"player2_id,omitempty"`
	Status       string   `json:"status"`
	RoundIDs     []string `json:"round_ids"`
	Player1Score int      `json:"player1_score"`
	Player2Score int      `json:"player2_score"`
	WinnerID     string   `json:"winner_id,omitempty"`
}

type SubmitAnswerRequest struct {
	RequestID      string `json:"request_id"`
	BattleID       string `json:"battle_id"`
	PlayerID       string `json:"player_id"`
	QuestionID     string `json:"question_id"`
	SelectedOption int    `json:"selected_option"`
	ElapsedMs      int64  `json:"elapsed_ms"`
}

type SubmitAnswerResponse struct {
	IsCorrect     bool `json:"is_correct"`
	CorrectOption int  `json:"correct_option"`
	NewScore      int  `json:"new_score"`
	OpponentScore int  `json:"opponent_score"`
}

type EndBattleRequest struct {
	BattleID string `json:"battle_id"`
	PlayerID string `json:"player_id"`
}

type EndBattleResponse struct{}

// ArenaClient is the client API for the arena service.
type ArenaClient interface {
	FindMatch(ctx context.Context, in *FindMatchRequest, opts ...grpc.CallOption) (*FindMatchResponse, error)
	GetBattle(ctx context.Context, in *GetBattleRequest, opts ...grpc.CallOption) (*Battle, error)
	SubmitAnswer(ctx context.Context, in *SubmitAnswerRequest, opts ...grpc.CallOption) (*SubmitAnswerResponse, error)
	EndBattle(ctx context.Context, in *EndBattleRequest, opts ...grpc.CallOption) (*EndBattleResponse, error)
}

type arenaClient struct {
	cc grpc.ClientConnInterface
}

func NewArenaClient(cc grpc.ClientConnInterface) ArenaClient {
	return &arenaClient{cc: cc}
}

func (c *arenaClient) FindMatch(ctx context.Context, in *FindMatchRequest, opts ...grpc.CallOption) (*FindMatchResponse, error) {
	out := new(FindMatchResponse)
	if err := c.cc.Invoke(ctx, ArenaFindMatchMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *arenaClient) GetBattle(ctx context.Context, in *GetBattleRequest, opts ...grpc.CallOption) (*Battle, error) {
	out := new(Battle)
	if err := c.cc.Invoke(ctx, ArenaGetBattleMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *arenaClient) SubmitAnswer(ctx context.Context, in *SubmitAnswerRequest, opts ...grpc.CallOption) (*SubmitAnswerResponse, error) {
	out := new(SubmitAnswerResponse)
	if err := c.cc.Invoke(ctx, ArenaSubmitAnswerMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *arenaClient) EndBattle(ctx context.Context, in *EndBattleRequest, opts ...grpc.CallOption) (*EndBattleResponse, error) {
	out := new(EndBattleResponse)
	if err := c.cc.Invoke(ctx, ArenaEndBattleMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

// ArenaServer is the server API for the arena service. The agent only consumes the service;
// the server side exists for fakes and local arenas.
type ArenaServer interface {
	FindMatch(context.Context, *FindMatchRequest) (*FindMatchResponse, error)
	GetBattle(context.Context, *GetBattleRequest) (*Battle, error)
	SubmitAnswer(context.Context, *SubmitAnswerRequest) (*SubmitAnswerResponse, error)
	EndBattle(context.Context, *EndBattleRequest) (*EndBattleResponse, error)
}

// UnimplementedArenaServer can be embedded to have forward compatible implementations.
type UnimplementedArenaServer struct{}

func (UnimplementedArenaServer) FindMatch(context.Context, *FindMatchRequest) (*FindMatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method FindMatch not implemented")
}

func (UnimplementedArenaServer) GetBattle(context.Context, *GetBattleRequest) (*Battle, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBattle not implemented")
}

func (UnimplementedArenaServer) SubmitAnswer(context.Context, *SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitAnswer not implemented")
}

func (UnimplementedArenaServer) EndBattle(context.Context, *EndBattleRequest) (*EndBattleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method EndBattle not implemented")
}

func RegisterArenaServer(s grpc.ServiceRegistrar, srv ArenaServer) {
	s.RegisterService(&arenaServiceDesc, srv)
}

var arenaServiceDesc = grpc.ServiceDesc{
	ServiceName: ArenaServiceName,
	HandlerType: (*ArenaServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FindMatch",
			Handler:    unaryHandler(ArenaFindMatchMethod, ArenaServer.FindMatch),
		},
		{
			MethodName: "GetBattle",
			Handler:    unaryHandler(ArenaGetBattleMethod, ArenaServer.GetBattle),
		},
		{
			MethodName: "SubmitAnswer",
			Handler:    unaryHandler(ArenaSubmitAnswerMethod, ArenaServer.SubmitAnswer),
		},
		{
			MethodName: "EndBattle",
			Handler:    unaryHandler(ArenaEndBattleMethod, ArenaServer.EndBattle),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quizduel/arena/v1/arena.json",
}

func unaryHandler[Req, Resp any](method string, call func(ArenaServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(ArenaServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ArenaServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
