package question

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
)

const (
	minOptions  = 2
	loadTimeout = 10 * time.Second
)

// Prefetcher fetches question content for the battle. Concurrent fetches of the same question
// share one load.
type Prefetcher struct {
	source Source
	group  singleflight.Group
}

func NewPrefetcher(s Source) *Prefetcher {
	return &Prefetcher{source: s}
}

// Fetch returns the question, or a content unavailable error.
func (p *Prefetcher) Fetch(ctx context.Context, id string) (*domain.Question, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.ContentUnavailable(nil, errors.WithMessagef("empty question id"))
	}

	// The shared load outlives any single caller: a caller giving up must not fail the others.
	ch := p.group.DoChan(id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		q, err := p.source.Question(ctx, id)
		if err != nil {
			return nil, err
		}

		return sanitize(q)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, errors.ContentUnavailable(ctx.Err(), errors.WithMessagef("fetch question: id=%s", id))
	case res = <-ch:
	}

	if res.Err != nil {
		return nil, errors.ContentUnavailable(res.Err, errors.WithMessagef("fetch question: id=%s", id))
	}

	// Callers sharing a load must not share the options slice.
	q := *res.Val.(*domain.Question)
	q.Options = append([]domain.Option(nil), q.Options...)
	return &q, nil
}

// sanitize checks the question can be shown: it has text, and 2 to 4 options with distinct ids
// in [0, MaxOptions).
func sanitize(q *domain.Question) (*domain.Question, error) {
	out := &domain.Question{
		ID:   q.ID,
		Text: strings.TrimSpace(q.Text),
	}

	if out.Text == "" {
		return nil, fmt.Errorf("question %s has no text", q.ID)
	}

	if len(q.Options) < minOptions || len(q.Options) > domain.MaxOptions {
		return nil, fmt.Errorf("question %s has %d options", q.ID, len(q.Options))
	}

	seen := make(map[int]struct{}, len(q.Options))
	for _, o := range q.Options {
		if o.ID < 0 || o.ID >= domain.MaxOptions {
			return nil, fmt.Errorf("question %s has option id %d out of range", q.ID, o.ID)
		}
		if _, ok := seen[o.ID]; ok {
			return nil, fmt.Errorf("question %s has duplicate option id %d", q.ID, o.ID)
		}
		seen[o.ID] = struct{}{}

		out.Options = append(out.Options, domain.Option{ID: o.ID, Text: strings.TrimSpace(o.Text)})
	}

	return out, nil
}
