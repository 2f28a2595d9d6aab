// Package journal keeps a local record of played battles and their answers.
package journal

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
)

type Config struct {
	DSN string
}

type Store struct {
	db *sql.DB
}

// Open opens the SQLite journal at dsn and creates its tables.
func Open(c Config) (*Store, error) {
	db, err := sql.Open("sqlite3", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// Every connection to an in-memory database is a different database.
	if c.DSN == ":memory:" || strings.Contains(c.DSN, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, stderrors.Join(fmt.Errorf("migrate journal: %w", err), db.Close())
	}

	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS battles (
			battle_id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			opponent_id TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			status TEXT NOT NULL,
			local_score INTEGER NOT NULL DEFAULT 0,
			opponent_score INTEGER NOT NULL DEFAULT 0,
			winner_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			battle_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			question_id TEXT NOT NULL,
			selected INTEGER NOT NULL,
			is_correct BOOLEAN NOT NULL,
			correct_option INTEGER NOT NULL,
			score_delta INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			timed_out BOOLEAN NOT NULL,
			fallback BOOLEAN NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (battle_id, round)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}

// SaveBattle records a battle once it is found. Saving a known battle again is a no-op.
func (s *Store) SaveBattle(ctx context.Context, ss domain.BattleSession) error {
	const stmt = `
INSERT INTO battles (battle_id, subject_id, player_id, opponent_id, side, rounds, status, local_score, opponent_score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (battle_id) DO NOTHING;`

	_, err := s.db.ExecContext(ctx, stmt,
		ss.BattleID, ss.SubjectID, ss.PlayerID, ss.OpponentID, string(ss.Side), ss.Rounds(),
		string(ss.Status), ss.Scores.Local, ss.Scores.Opponent, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert battle %s: %w", ss.BattleID, err)
	}

	return nil
}

// RecordAnswer appends the result of a round. A round can be recorded once.
func (s *Store) RecordAnswer(ctx context.Context, battleID string, r domain.AnswerResult) error {
	const stmt = `
INSERT INTO answers (battle_id, round, question_id, selected, is_correct, correct_option, score_delta, elapsed_ms, timed_out, fallback, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err := s.db.ExecContext(ctx, stmt,
		battleID, r.Round, r.QuestionID, r.Selected, r.IsCorrect, r.CorrectOption,
		r.ScoreDelta, r.ElapsedMs, r.TimedOut, r.Fallback, time.Now().UTC(),
	)

	var sqlErr sqlite3.Error
	if stderrors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer is already recorded: battle=%s round=%d", battleID, r.Round),
			errors.WithCause(err),
		)
	}

	if err != nil {
		return fmt.Errorf("insert answer %s/%d: %w", battleID, r.Round, err)
	}

	return nil
}

// FinishBattle stores the final status, scores and winner of a battle. The battle counts as
// finished once its status is terminal.
func (s *Store) FinishBattle(ctx context.Context, ss domain.BattleSession) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback())
		}
	}()

	const (
		insStmt = `
INSERT INTO battles (battle_id, subject_id, player_id, opponent_id, side, rounds, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (battle_id) DO NOTHING;`

		updStmt = `
UPDATE battles
SET status = ?, opponent_id = ?, local_score = MAX(local_score, ?), opponent_score = MAX(opponent_score, ?), winner_id = ?, finished_at = COALESCE(finished_at, ?)
WHERE battle_id = ?;`
	)

	now := time.Now().UTC()

	// All rounds may be played before the arena closes the battle.
	var finishedAt any
	if ss.Status.Terminal() {
		finishedAt = now
	}

	// The battle may not be saved yet, e.g. when saving it failed.
	if _, err = tx.ExecContext(ctx, insStmt,
		ss.BattleID, ss.SubjectID, ss.PlayerID, ss.OpponentID, string(ss.Side), ss.Rounds(), string(ss.Status), now,
	); err != nil {
		return fmt.Errorf("insert battle %s: %w", ss.BattleID, err)
	}

	if _, err = tx.ExecContext(ctx, updStmt,
		string(ss.Status), ss.OpponentID, ss.Scores.Local, ss.Scores.Opponent, ss.WinnerID, finishedAt, ss.BattleID,
	); err != nil {
		return fmt.Errorf("update battle %s: %w", ss.BattleID, err)
	}

	return tx.Commit()
}

// Battle is a journaled battle.
type Battle struct {
	BattleID   string                `json:"battle_id"`
	SubjectID  string                `json:"subject_id"`
	OpponentID string                `json:"opponent_id,omitempty"`
	Status     domain.Status         `json:"status"`
	Scores     domain.Scoreboard     `json:"scores"`
	WinnerID   string                `json:"winner_id,omitempty"`
	Finished   bool                  `json:"finished"`
	Answers    []domain.AnswerResult `json:"answers"`
}

// Battle returns a journaled battle with its answers ordered by round.
func (s *Store) Battle(ctx context.Context, battleID string) (*Battle, error) {
	const (
		battleStmt = `
SELECT battle_id, subject_id, opponent_id, status, local_score, opponent_score, winner_id, finished_at IS NOT NULL
FROM battles WHERE battle_id = ?;`

		answersStmt = `
SELECT round, question_id, selected, is_correct, correct_option, score_delta, elapsed_ms, timed_out, fallback
FROM answers WHERE battle_id = ? ORDER BY round;`
	)

	var b Battle
	err := s.db.QueryRowContext(ctx, battleStmt, battleID).Scan(
		&b.BattleID, &b.SubjectID, &b.OpponentID, &b.Status, &b.Scores.Local, &b.Scores.Opponent, &b.WinnerID, &b.Finished,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("battle not found: battle=%s", battleID))
	}
	if err != nil {
		return nil, fmt.Errorf("query battle %s: %w", battleID, err)
	}

	rows, err := s.db.QueryContext(ctx, answersStmt, battleID)
	if err != nil {
		return nil, fmt.Errorf("query answers %s: %w", battleID, err)
	}
	defer rows.Close()

	b.Answers = []domain.AnswerResult{}
	for rows.Next() {
		var r domain.AnswerResult
		if err := rows.Scan(&r.Round, &r.QuestionID, &r.Selected, &r.IsCorrect, &r.CorrectOption,
			&r.ScoreDelta, &r.ElapsedMs, &r.TimedOut, &r.Fallback); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		b.Answers = append(b.Answers, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}

	return &b, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
