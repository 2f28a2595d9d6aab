package battle_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/quizduel/internal/battle"
	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/event"
	"github.com/victornm/quizduel/internal/telemetry"
)

const (
	subject  = "0191d2a4-7c1e-7f3a-9c61-2f4b8e0d1a11"
	local    = "p1"
	opponent = "p2"
)

func TestMachine_FiveRoundsWithoutAnswers(t *testing.T) {
	h := newHarness(t)

	h.search(t)
	h.runUntil(t, phaseIs(domain.PhaseFinished))

	require.Equal(t, []string{
		"idle->searching",
		"searching->found",
		"found->countdown",
		"countdown->playing",
		"playing->round_result",
		"round_result->playing",
		"playing->round_result",
		"round_result->playing",
		"playing->round_result",
		"round_result->playing",
		"playing->round_result",
		"round_result->playing",
		"playing->round_result",
		"round_result->finished",
	}, h.transitions(), "every round should be played once in order")

	v := h.m.View()
	require.Len(t, v.History, 5)
	for i, r := range v.History {
		require.Equal(t, i+1, r.Round)
		require.Equal(t, fmt.Sprintf("q%d", i+1), r.QuestionID)
		require.Equal(t, domain.NoAnswer, r.Selected)
		require.False(t, r.IsCorrect)
		require.True(t, r.TimedOut)
		require.Zero(t, r.ScoreDelta)
	}

	subs := h.grader.submitted()
	require.Len(t, subs, 5, "each expired round should be submitted once")
	for _, s := range subs {
		require.Equal(t, domain.NoAnswer, s.Option)
		require.EqualValues(t, 15000, s.ElapsedMs)
	}

	require.Equal(t, 5, v.Round)
	require.Equal(t, domain.OutcomeDraw, v.Outcome)
	require.Equal(t, &domain.Summary{Rounds: 5, Accuracy: v.Summary.Accuracy}, v.Summary)
	require.True(t, v.Summary.Accuracy.IsZero())
	require.Eventually(t, func() bool { return h.grader.finished.Load() == 1 }, time.Second, time.Millisecond,
		"arena should be told the battle is over")
}

func TestMachine_CompletedPushFastForwards(t *testing.T) {
	h := newHarness(t)

	h.search(t)
	h.runUntil(t, roundIs(2, domain.PhasePlaying))

	h.listener.push(t, domain.Snapshot{
		BattleID:     "b1",
		Status:       domain.StatusCompleted,
		Player1Score: 10,
		Player2Score: 20,
		WinnerID:     opponent,
	})
	h.waitFor(t, phaseIs(domain.PhaseFinished))

	v := h.m.View()
	require.Len(t, v.History, 1, "pending rounds should be discarded")
	require.Equal(t, 2, v.Round)
	require.Equal(t, domain.StatusCompleted, v.Status)
	require.Equal(t, opponent, v.WinnerID)
	require.Equal(t, domain.OutcomeLose, v.Outcome)
	require.Equal(t, domain.Scoreboard{Local: 10, Opponent: 20}, v.Scores)
	require.Equal(t, "playing->finished", h.lastTransition())
	require.True(t, h.listener.stopped(), "listener should stop after completion")

	n := len(h.transitions())
	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, h.transitions(), n, "no transition should follow the end of the battle")
	require.Len(t, h.m.View().History, 1)
}

func TestMachine_LateVerdictIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	h.grader.respond = func(ctx context.Context, s domain.Submission) (*domain.AnswerResult, error) {
		if s.Round == 3 && s.Option != domain.NoAnswer {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &domain.AnswerResult{Round: 3, QuestionID: s.QuestionID, Selected: s.Option, IsCorrect: true, CorrectOption: 1, NewScore: 100}, nil
		}
		return timeoutResult(s), nil
	}

	h.search(t)
	h.runUntil(t, roundIs(3, domain.PhasePlaying))
	require.NoError(t, h.m.Answer(context.Background(), 1))
	h.runUntil(t, roundIs(3, domain.PhaseRoundResult))

	r := h.m.View().History[2]
	require.Equal(t, domain.AnswerResult{
		Round:         3,
		QuestionID:    "q3",
		Selected:      1,
		CorrectOption: domain.NoAnswer,
		ElapsedMs:     15000,
		TimedOut:      true,
	}, r, "round 3 should resolve as a timeout")

	late := testutil.ToFloat64(telemetry.LateVerdicts)
	close(release)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(telemetry.LateVerdicts) == late+1
	}, time.Second, time.Millisecond, "late verdict should be dropped")

	h.runUntil(t, phaseIs(domain.PhaseFinished))

	v := h.m.View()
	require.Len(t, v.History, 5)
	require.Equal(t, r, v.History[2], "late verdict must not change the result")
	require.Zero(t, v.Scores.Local, "late verdict must not change the score")
}

func TestMachine_CorrectAnswer(t *testing.T) {
	h := newHarness(t)
	h.grader.respond = func(_ context.Context, s domain.Submission) (*domain.AnswerResult, error) {
		if s.Option == 2 {
			return &domain.AnswerResult{Round: s.Round, QuestionID: s.QuestionID, Selected: 2, IsCorrect: true, CorrectOption: 2, ElapsedMs: s.ElapsedMs, NewScore: 10, OpponentScore: 5}, nil
		}
		return timeoutResult(s), nil
	}

	h.search(t)
	h.runUntil(t, func(v domain.View) bool {
		return v.Phase == domain.PhasePlaying && v.Round == 1 && v.Remaining == 12 && v.Question != nil
	})

	require.NoError(t, h.m.Answer(context.Background(), 2))
	h.waitFor(t, roundIs(1, domain.PhaseRoundResult))

	v := h.m.View()
	require.Equal(t, &domain.AnswerResult{
		Round:         1,
		QuestionID:    "q1",
		Selected:      2,
		IsCorrect:     true,
		CorrectOption: 2,
		ScoreDelta:    10,
		ElapsedMs:     3000,
		NewScore:      10,
		OpponentScore: 5,
	}, v.LastResult)
	require.Equal(t, domain.Scoreboard{Local: 10, Opponent: 5}, v.Scores)
	require.True(t, v.Answered)

	h.runUntil(t, phaseIs(domain.PhaseFinished))
	v = h.m.View()
	require.Equal(t, 1, v.Summary.Correct)
	require.Equal(t, 1, v.Summary.Answered)
	require.Equal(t, "20", v.Summary.Accuracy.String())
	require.Equal(t, domain.OutcomeWin, v.Outcome)
}

func TestMachine_SubmissionFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.grader.respond = func(_ context.Context, s domain.Submission) (*domain.AnswerResult, error) {
		if s.Round == 1 {
			return nil, errors.Submission(status.Error(codes.Unavailable, "arena down"))
		}
		return timeoutResult(s), nil
	}

	h.search(t)
	h.runUntil(t, roundIs(1, domain.PhasePlaying))
	require.NoError(t, h.m.Answer(context.Background(), 0))
	h.waitFor(t, roundIs(1, domain.PhaseRoundResult))

	v := h.m.View()
	require.True(t, v.LastResult.Fallback)
	require.False(t, v.LastResult.IsCorrect)
	require.Zero(t, v.LastResult.ScoreDelta)
	require.Equal(t, 0, v.LastResult.Selected)
	require.NotNil(t, v.Banner)
	require.Equal(t, string(errors.KindSubmission), v.Banner.Kind)
	require.False(t, v.Banner.Fatal)

	h.runUntil(t, roundIs(2, domain.PhasePlaying))
	require.NoError(t, h.m.DismissBanner(context.Background()))
	require.Eventually(t, func() bool { return h.m.View().Banner == nil }, time.Second, time.Millisecond)
}

func TestMachine_ContentFailureCancelsBattle(t *testing.T) {
	h := newHarness(t)
	h.questions.fail("q2")

	h.search(t)
	h.runUntil(t, phaseIs(domain.PhaseFinished))

	v := h.m.View()
	require.Equal(t, domain.StatusCancelled, v.Status)
	require.NotNil(t, v.Banner)
	require.True(t, v.Banner.Fatal)
	require.Equal(t, string(errors.KindContentUnavailable), v.Banner.Kind)
	require.Empty(t, v.Outcome)
	require.LessOrEqual(t, len(v.History), 1)
}

func TestMachine_Commands(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, h *harness)
		act     func(ctx context.Context, h *harness) error
		assert  func(t *testing.T, h *harness, err error)
	}{
		"should reject an answer while idle": {
			arrange: func(*testing.T, *harness) {},
			act:     func(ctx context.Context, h *harness) error { return h.m.Answer(ctx, 0) },
			assert: func(t *testing.T, h *harness, err error) {
				require.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
				require.Equal(t, domain.PhaseIdle, h.m.View().Phase)
			},
		},
		"should reject a reset before the battle is finished": {
			arrange: func(t *testing.T, h *harness) {
				h.search(t)
				h.runUntil(t, phaseIs(domain.PhasePlaying))
			},
			act: func(ctx context.Context, h *harness) error { return h.m.Reset(ctx) },
			assert: func(t *testing.T, h *harness, err error) {
				require.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
				require.Equal(t, domain.PhasePlaying, h.m.View().Phase)
			},
		},
		"should reject a second search": {
			arrange: func(t *testing.T, h *harness) {
				h.search(t)
				h.waitFor(t, phaseIs(domain.PhaseCountdown))
			},
			act: func(ctx context.Context, h *harness) error { return h.m.Search(ctx, subject) },
			assert: func(t *testing.T, h *harness, err error) {
				require.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
			},
		},
		"should reject a second answer in the same round": {
			arrange: func(t *testing.T, h *harness) {
				h.grader.respond = func(ctx context.Context, _ domain.Submission) (*domain.AnswerResult, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				h.search(t)
				h.runUntil(t, roundIs(1, domain.PhasePlaying))
				require.NoError(t, h.m.Answer(context.Background(), 1))
			},
			act: func(ctx context.Context, h *harness) error { return h.m.Answer(ctx, 2) },
			assert: func(t *testing.T, h *harness, err error) {
				require.Equal(t, errors.CodeAlreadyExists, errors.Convert(err).Code)
				require.Eventually(t, func() bool { return len(h.grader.submitted()) == 1 }, time.Second, time.Millisecond)
				require.Equal(t, 1, h.grader.submitted()[0].Option)
			},
		},
		"should reject an option the question does not have": {
			arrange: func(t *testing.T, h *harness) {
				h.search(t)
				h.runUntil(t, func(v domain.View) bool { return v.Phase == domain.PhasePlaying && v.Question != nil })
			},
			act: func(ctx context.Context, h *harness) error { return h.m.Answer(ctx, 3) },
			assert: func(t *testing.T, h *harness, err error) {
				require.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
				require.False(t, h.m.View().Answered)
			},
		},
		"should return to idle on reset after the battle": {
			arrange: func(t *testing.T, h *harness) {
				h.search(t)
				h.runUntil(t, phaseIs(domain.PhaseFinished))
			},
			act: func(ctx context.Context, h *harness) error { return h.m.Reset(ctx) },
			assert: func(t *testing.T, h *harness, err error) {
				require.NoError(t, err)
				v := h.m.View()
				require.Equal(t, domain.PhaseIdle, v.Phase)
				require.Empty(t, v.BattleID)
				require.Empty(t, v.History)
				require.Zero(t, v.Scores)

				require.NoError(t, h.m.Search(context.Background(), subject), "a new battle can be searched")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			tt.arrange(t, h)

			err := tt.act(context.Background(), h)

			tt.assert(t, h, err)
		})
	}
}

func TestMachine_ScoresNeverDecrease(t *testing.T) {
	h := newHarness(t)

	h.search(t)
	h.runUntil(t, roundIs(1, domain.PhasePlaying))

	h.listener.push(t, domain.Snapshot{BattleID: "b1", Status: domain.StatusActive, Player1Score: 30, Player2Score: 20})
	h.waitFor(t, func(v domain.View) bool { return v.Scores == domain.Scoreboard{Local: 30, Opponent: 20} })
	require.True(t, h.m.View().OpponentAnswered, "opponent score rise should mark the opponent answered")

	h.listener.push(t, domain.Snapshot{BattleID: "b1", Status: domain.StatusActive, Player1Score: 10, Player2Score: 25})
	h.waitFor(t, func(v domain.View) bool { return v.Scores.Opponent == 25 })
	require.Equal(t, domain.Scoreboard{Local: 30, Opponent: 25}, h.m.View().Scores, "stale local score should be ignored")

	h.listener.push(t, domain.Snapshot{BattleID: "other", Status: domain.StatusActive, Player1Score: 99, Player2Score: 99})
	h.listener.push(t, domain.Snapshot{BattleID: "b1", Status: domain.StatusWaiting, Player1Score: 31, Player2Score: 25})
	h.waitFor(t, func(v domain.View) bool { return v.Scores.Local == 31 })

	v := h.m.View()
	require.Equal(t, domain.Scoreboard{Local: 31, Opponent: 25}, v.Scores, "foreign snapshots should be ignored")
	require.Equal(t, domain.StatusActive, v.Status, "status should not move backwards")
}

func TestMachine_MatchmakingFailure(t *testing.T) {
	h := newHarness(t)
	h.matchmaker.fail(errors.Matchmaking(status.Error(codes.FailedPrecondition, "no energy"), errors.WithMessagef("not enough energy")))

	h.search(t)
	h.waitFor(t, func(v domain.View) bool { return v.Phase == domain.PhaseIdle && v.Banner != nil })

	v := h.m.View()
	require.Equal(t, &domain.Banner{Kind: "matchmaking", Message: "not enough energy", Retry: true}, v.Banner)
	require.Equal(t, []string{"idle->searching", "searching->idle"}, h.transitions())

	h.matchmaker.fail(nil)
	h.search(t)
	h.runUntil(t, phaseIs(domain.PhasePlaying))
	require.Nil(t, h.m.View().Banner, "a new search should clear the banner")
}

func TestMachine_WaitsForOpponent(t *testing.T) {
	h := newHarness(t)
	h.matchmaker.handle.Session.Status = domain.StatusWaiting
	h.matchmaker.handle.Session.OpponentID = ""
	h.matchmaker.handle.IsNew = true

	h.search(t)
	h.waitFor(t, phaseIs(domain.PhaseFound))

	h.clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, domain.PhaseFound, h.m.View().Phase, "battle should not start before it is active")

	h.listener.push(t, domain.Snapshot{BattleID: "b1", Status: domain.StatusActive, Player2ID: opponent})
	h.runUntil(t, roundIs(1, domain.PhasePlaying))

	v := h.m.View()
	require.Equal(t, opponent, v.OpponentID)
	require.Equal(t, domain.StatusActive, v.Status)
}

func TestMachine_WaitingBattleCancelled(t *testing.T) {
	h := newHarness(t)
	h.matchmaker.handle.Session.Status = domain.StatusWaiting

	h.search(t)
	h.waitFor(t, phaseIs(domain.PhaseFound))

	h.listener.push(t, domain.Snapshot{BattleID: "b1", Status: domain.StatusCancelled})
	h.waitFor(t, phaseIs(domain.PhaseFinished))

	v := h.m.View()
	require.True(t, v.Banner.Fatal)
	require.Equal(t, domain.StatusCancelled, v.Status)
	require.Equal(t, "found->finished", h.lastTransition())
}

func TestMachine_LeaveDiscardsSession(t *testing.T) {
	h := newHarness(t)

	h.search(t)
	h.runUntil(t, roundIs(2, domain.PhasePlaying))

	require.NoError(t, h.m.Leave(context.Background()))

	v := h.m.View()
	require.Equal(t, domain.PhaseIdle, v.Phase)
	require.Empty(t, v.BattleID)
	require.Empty(t, v.History)
	require.Eventually(t, h.listener.stopped, time.Second, time.Millisecond, "listener should be stopped")

	n, subs := len(h.transitions()), len(h.grader.submitted())
	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	require.Len(t, h.transitions(), n, "timers of the left battle should not fire")
	require.Len(t, h.grader.submitted(), subs)
	require.Equal(t, domain.PhaseIdle, h.m.View().Phase)
}

func TestMachine_FeedLostKeepsPlaying(t *testing.T) {
	h := newHarness(t)

	h.search(t)
	h.runUntil(t, roundIs(1, domain.PhasePlaying))

	h.listener.lose(errors.RealtimeDisconnect(nil, errors.WithMessagef("feed lost")))
	h.waitFor(t, func(v domain.View) bool { return v.Banner != nil })

	v := h.m.View()
	require.Equal(t, string(errors.KindRealtimeDisconnect), v.Banner.Kind)
	require.False(t, v.Banner.Fatal)

	h.runUntil(t, phaseIs(domain.PhaseFinished))
	require.Len(t, h.m.View().History, 5)
}

func TestMachine_PublishesEvents(t *testing.T) {
	eb := event.NewBus()

	var (
		mu       sync.Mutex
		found    int
		resolved []int
		ended    []domain.Status
		views    atomic.Int32
	)
	eb.Subscribe(domain.EventNameBattleFound, func(_ context.Context, _ event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		found++
		return nil
	})
	eb.Subscribe(domain.EventNameRoundResolved, func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		resolved = append(resolved, e.(domain.EventRoundResolved).Result.Round)
		return nil
	})
	eb.Subscribe(domain.EventNameBattleEnded, func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, e.(domain.EventBattleEnded).Session.Status)
		return nil
	})
	eb.Subscribe(domain.EventNameViewUpdated, func(_ context.Context, _ event.Event) error {
		views.Add(1)
		return nil
	})

	h := newHarness(t, func(c *battle.Config) { c.EventBus = eb })

	h.search(t)
	h.runUntil(t, phaseIs(domain.PhaseFinished))
	h.listener.push(t, domain.Snapshot{BattleID: "b1", Status: domain.StatusCompleted, WinnerID: local})
	h.waitFor(t, func(v domain.View) bool { return v.WinnerID == local })

	h.m.Close()
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, found)
	require.ElementsMatch(t, []int{1, 2, 3, 4, 5}, resolved)
	require.ElementsMatch(t, []domain.Status{domain.StatusActive, domain.StatusCompleted}, ended,
		"battle should end locally, then again with the arena's final status")
	require.Greater(t, views.Load(), int32(10))
	require.Equal(t, domain.OutcomeWin, h.m.View().Outcome)
}

func TestMachine_Close(t *testing.T) {
	h := newHarness(t)
	h.m.Close()

	err := h.m.Search(context.Background(), subject)
	require.Equal(t, errors.CodeUnavailable, errors.Convert(err).Code)
}

type harness struct {
	m          *battle.Machine
	clock      *clockwork.FakeClock
	matchmaker *fakeMatchmaker
	grader     *fakeGrader
	questions  *fakeQuestions
	listener   *fakeListener

	mu    sync.Mutex
	trans []string
}

func newHarness(t *testing.T, opts ...func(*battle.Config)) *harness {
	t.Helper()

	h := &harness{
		clock: clockwork.NewFakeClock(),
		matchmaker: &fakeMatchmaker{handle: domain.Handle{
			Session: domain.BattleSession{
				BattleID:   "b1",
				SubjectID:  subject,
				PlayerID:   local,
				OpponentID: opponent,
				Side:       domain.SidePlayer1,
				RoundIDs:   []string{"q1", "q2", "q3", "q4", "q5"},
				Status:     domain.StatusActive,
			},
		}},
		grader:    &fakeGrader{},
		questions: &fakeQuestions{failing: map[string]bool{}},
		listener:  newFakeListener(),
	}

	c := battle.Config{
		Matchmaker:     h.matchmaker,
		Grader:         h.grader,
		Questions:      h.questions,
		Listener:       h.listener,
		Clock:          h.clock,
		RoundSeconds:   15,
		CountdownTicks: 3,
		Dwell:          2 * time.Second,
		SubmitTimeout:  30 * time.Second,
		OnTransition: func(from, to domain.Phase) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.trans = append(h.trans, fmt.Sprintf("%s->%s", from, to))
		},
	}
	for _, opt := range opts {
		opt(&c)
	}

	h.m = battle.NewMachine(c)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.m.Close()
	})

	return h
}

func (h *harness) search(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Search(context.Background(), subject))
}

// runUntil moves the clock forward in small steps until cond holds.
func (h *harness) runUntil(t *testing.T, cond func(domain.View) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		if cond(h.m.View()) {
			return true
		}
		h.clock.Advance(250 * time.Millisecond)
		return false
	}, 10*time.Second, time.Millisecond, "condition not reached, view: %+v", h.m.View())
}

// waitFor waits for cond without moving the clock.
func (h *harness) waitFor(t *testing.T, cond func(domain.View) bool) {
	t.Helper()

	require.Eventually(t, func() bool { return cond(h.m.View()) }, 5*time.Second, time.Millisecond)
}

func (h *harness) transitions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.trans...)
}

func (h *harness) lastTransition() string {
	tr := h.transitions()
	if len(tr) == 0 {
		return ""
	}
	return tr[len(tr)-1]
}

func phaseIs(p domain.Phase) func(domain.View) bool {
	return func(v domain.View) bool { return v.Phase == p }
}

func roundIs(index int, p domain.Phase) func(domain.View) bool {
	return func(v domain.View) bool { return v.Round == index && v.Phase == p }
}

func timeoutResult(s domain.Submission) *domain.AnswerResult {
	return &domain.AnswerResult{
		Round:         s.Round,
		QuestionID:    s.QuestionID,
		Selected:      s.Option,
		CorrectOption: 0,
		ElapsedMs:     s.ElapsedMs,
		TimedOut:      s.Option == domain.NoAnswer,
	}
}

type fakeMatchmaker struct {
	mu     sync.Mutex
	handle domain.Handle
	err    error
}

func (f *fakeMatchmaker) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMatchmaker) RequestMatch(_ context.Context, _ string) (*domain.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	h := f.handle
	h.Session.RoundIDs = append([]string(nil), f.handle.Session.RoundIDs...)
	return &h, nil
}

type fakeGrader struct {
	mu       sync.Mutex
	subs     []domain.Submission
	respond  func(ctx context.Context, s domain.Submission) (*domain.AnswerResult, error)
	finished atomic.Int32
}

func (f *fakeGrader) Submit(ctx context.Context, s domain.Submission) (*domain.AnswerResult, error) {
	f.mu.Lock()
	f.subs = append(f.subs, s)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return timeoutResult(s), nil
	}
	return respond(ctx, s)
}

func (f *fakeGrader) Finish(context.Context, string) error {
	f.finished.Add(1)
	return nil
}

func (f *fakeGrader) Release(string) {}

func (f *fakeGrader) submitted() []domain.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Submission(nil), f.subs...)
}

type fakeQuestions struct {
	mu      sync.Mutex
	failing map[string]bool
}

func (f *fakeQuestions) fail(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[id] = true
}

func (f *fakeQuestions) Fetch(_ context.Context, id string) (*domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failing[id] {
		return nil, errors.ContentUnavailable(errors.New(errors.CodeNotFound), errors.WithMessagef("question %s is gone", id))
	}

	return &domain.Question{
		ID:      id,
		Text:    "question " + id,
		Options: []domain.Option{{ID: 0, Text: "a"}, {ID: 1, Text: "b"}, {ID: 2, Text: "c"}},
	}, nil
}

type fakeListener struct {
	mu      sync.Mutex
	sink    func(domain.Snapshot)
	ctx     context.Context
	failure chan error
}

func newFakeListener() *fakeListener {
	return &fakeListener{failure: make(chan error, 1)}
}

func (f *fakeListener) Listen(ctx context.Context, _ string, sink func(domain.Snapshot)) error {
	f.mu.Lock()
	f.sink, f.ctx = sink, ctx
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case err := <-f.failure:
		return err
	}
}

func (f *fakeListener) push(t *testing.T, s domain.Snapshot) {
	t.Helper()

	var sink func(domain.Snapshot)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		sink = f.sink
		return sink != nil
	}, time.Second, time.Millisecond, "listener should be subscribed")

	sink(s)
}

func (f *fakeListener) lose(err error) {
	f.failure <- err
}

func (f *fakeListener) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx != nil && f.ctx.Err() != nil
}
