package question

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
)

// Source loads the student view of a question.
type Source interface {
	Question(ctx context.Context, id string) (*domain.Question, error)
}

// Querier is the subset of a pgx pool used by PostgresSource.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource reads questions from the student view, which never exposes the correct option.
type PostgresSource struct {
	db Querier
}

func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Question(ctx context.Context, id string) (*domain.Question, error) {
	const stmt = `
SELECT id::text, question_text, options
FROM questions_student_view
WHERE id = $1;`

	var q domain.Question
	err := s.db.QueryRow(ctx, stmt, id).Scan(&q.ID, &q.Text, &q.Options)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: id=%s", id),
			errors.WithCause(err),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("query question %s: %w", id, err)
	}

	return &q, nil
}
