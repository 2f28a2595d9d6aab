package domain

import (
	"time"
)

const (
	// NoAnswer is the option submitted on behalf of a player who let the round expire.
	// It never matches a real option index.
	NoAnswer = -1

	// MaxOptions is the number of options a question may carry.
	MaxOptions = 4
)

// Status is the lifecycle status of a battle as owned by the arena.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanBecome reports whether a battle in status s may move to next.
// Status only moves forward: waiting -> active -> completed, and cancelled from waiting or active.
func (s Status) CanBecome(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Side is the seat a player occupies in the arena's battle record.
type Side string

const (
	SidePlayer1 Side = "player1"
	SidePlayer2 Side = "player2"
)

// BattleSession is a 1v1 duel seen from the local player.
type BattleSession struct {
	BattleID   string
	SubjectID  string
	PlayerID   string
	OpponentID string
	Side       Side
	RoundIDs   []string
	Status     Status
	Scores     Scoreboard
	WinnerID   string
}

// Rounds returns the number of rounds, fixed when the battle is created.
func (s *BattleSession) Rounds() int {
	return len(s.RoundIDs)
}

// QuestionAt returns the question id assigned to the 1-based round index.
func (s *BattleSession) QuestionAt(index int) (string, bool) {
	if index < 1 || index > len(s.RoundIDs) {
		return "", false
	}
	return s.RoundIDs[index-1], true
}

// Handle is what matchmaking hands over to the battle machine.
type Handle struct {
	Session BattleSession
	IsNew   bool
}

// Round is the question currently open within a battle.
type Round struct {
	Index            int
	QuestionID       string
	Deadline         time.Time
	Selected         *int
	Answered         bool
	OpponentAnswered bool
	Resolved         bool
}

// Submission is one answer sent to the arena for grading.
type Submission struct {
	BattleID   string
	Round      int
	QuestionID string
	Option     int
	ElapsedMs  int64
}

// AnswerResult is the resolution of a round. There is exactly one per resolved round.
type AnswerResult struct {
	Round         int    `json:"round"`
	QuestionID    string `json:"question_id"`
	Selected      int    `json:"selected"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectOption int    `json:"correct_option"`
	ScoreDelta    int    `json:"score_delta"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	TimedOut      bool   `json:"timed_out"`
	Fallback      bool   `json:"fallback"`

	// Scores reported by the arena alongside the verdict. Zero for local resolutions.
	NewScore      int `json:"-"`
	OpponentScore int `json:"-"`
}

// Scoreboard holds both players' scores. Values never decrease during a battle.
type Scoreboard struct {
	Local    int `json:"local"`
	Opponent int `json:"opponent"`
}

// Raise returns the scoreboard with each side lifted to at least the given values.
func (s Scoreboard) Raise(local, opponent int) Scoreboard {
	return Scoreboard{
		Local:    max(s.Local, local),
		Opponent: max(s.Opponent, opponent),
	}
}

// Snapshot is the authoritative battle state pushed by the arena.
type Snapshot struct {
	BattleID     string
	Status       Status
	Player1Score int
	Player2Score int
	WinnerID     string
	Player2ID    string
}

// ScoresFor maps the snapshot's seat scores onto the given side.
func (s Snapshot) ScoresFor(side Side) (local, opponent int) {
	if side == SidePlayer2 {
		return s.Player2Score, s.Player1Score
	}
	return s.Player1Score, s.Player2Score
}

// Question is the student view of a question: it never carries the correct option.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

type Option struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// HasOption reports whether id is one of the question's option ids.
func (q *Question) HasOption(id int) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}
