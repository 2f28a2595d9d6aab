package domain

import (
	"github.com/shopspring/decimal"
)

// Phase is the local progress of the battle machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseSearching   Phase = "searching"
	PhaseFound       Phase = "found"
	PhaseCountdown   Phase = "countdown"
	PhasePlaying     Phase = "playing"
	PhaseRoundResult Phase = "round_result"
	PhaseFinished    Phase = "finished"
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeDraw Outcome = "draw"
)

// Banner is a dismissible message for the player. Fatal banners send the player back to the lobby.
type Banner struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
	Retry   bool   `json:"retry"`
}

// Summary describes a finished battle.
type Summary struct {
	Rounds   int             `json:"rounds"`
	Answered int             `json:"answered"`
	Correct  int             `json:"correct"`
	Accuracy decimal.Decimal `json:"accuracy"`
}

// Summarize builds the summary of a battle from its answer history.
// Accuracy is the percentage of correct answers over all rounds, rounded to 2 places.
func Summarize(rounds int, history []AnswerResult) Summary {
	s := Summary{Rounds: rounds, Accuracy: decimal.Zero}
	for _, r := range history {
		if r.Selected != NoAnswer {
			s.Answered++
		}
		if r.IsCorrect {
			s.Correct++
		}
	}

	if rounds > 0 {
		s.Accuracy = decimal.NewFromInt(int64(s.Correct)).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(int64(rounds)), 2)
	}

	return s
}

// View is the read-only projection of the battle machine handed to observers.
type View struct {
	Version uint64 `json:"version"`
	Phase   Phase  `json:"phase"`

	BattleID   string `json:"battle_id,omitempty"`
	SubjectID  string `json:"subject_id,omitempty"`
	PlayerID   string `json:"player_id,omitempty"`
	OpponentID string `json:"opponent_id,omitempty"`
	Status     Status `json:"status,omitempty"`

	Round            int       `json:"round"`
	Rounds           int       `json:"rounds"`
	QuestionID       string    `json:"question_id,omitempty"`
	Question         *Question `json:"question,omitempty"`
	Countdown        int       `json:"countdown"`
	Remaining        int       `json:"remaining"`
	Answered         bool      `json:"answered"`
	OpponentAnswered bool      `json:"opponent_answered"`

	Scores     Scoreboard     `json:"scores"`
	LastResult *AnswerResult  `json:"last_result,omitempty"`
	History    []AnswerResult `json:"history,omitempty"`

	WinnerID string   `json:"winner_id,omitempty"`
	Outcome  Outcome  `json:"outcome,omitempty"`
	Summary  *Summary `json:"summary,omitempty"`
	Banner   *Banner  `json:"banner,omitempty"`
}
