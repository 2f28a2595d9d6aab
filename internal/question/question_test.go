package question_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/question"
)

func TestPrefetcher_Fetch(t *testing.T) {
	type outputs struct {
		q   *domain.Question
		err error
	}

	tests := map[string]struct {
		stored *domain.Question
		err    error
		assert func(t *testing.T, out outputs)
	}{
		"should return trimmed content": {
			stored: &domain.Question{
				ID:   "q1",
				Text: "  2 + 2?  ",
				Options: []domain.Option{
					{ID: 0, Text: " 3"}, {ID: 1, Text: "4 "}, {ID: 2, Text: "5"},
				},
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, &domain.Question{
					ID:   "q1",
					Text: "2 + 2?",
					Options: []domain.Option{
						{ID: 0, Text: "3"}, {ID: 1, Text: "4"}, {ID: 2, Text: "5"},
					},
				}, out.q)
			},
		},

		"should reject a question with a single option": {
			stored: &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 0, Text: "a"}}},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindContentUnavailable))
			},
		},

		"should reject option ids out of range": {
			stored: &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 0}, {ID: domain.MaxOptions}}},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindContentUnavailable))
			},
		},

		"should reject duplicate option ids": {
			stored: &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 1}, {ID: 1}}},
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindContentUnavailable))
			},
		},

		"should report a missing question as not found": {
			err: errors.New(errors.CodeNotFound),
			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsKind(out.err, errors.KindContentUnavailable))
				require.Equal(t, errors.CodeNotFound, errors.Convert(out.err).Code)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := question.NewPrefetcher(&fakeSource{q: tt.stored, err: tt.err})

			var out outputs
			out.q, out.err = p.Fetch(context.Background(), "q1")

			tt.assert(t, out)
		})
	}
}

func TestPrefetcher_SharesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{
		q:     &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 0}, {ID: 1}}},
		block: release,
	}
	p := question.NewPrefetcher(src)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Fetch(context.Background(), "q1")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, src.calls.Load(), "concurrent fetches should share one load")
}

func TestPrefetcher_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{
		q:     &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 0}, {ID: 1}}},
		block: release,
	}
	p := question.NewPrefetcher(src)

	left, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Fetch(left, "q1")
		first <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		q   *domain.Question
		err error
	}
	second := make(chan result, 1)
	go func() {
		q, err := p.Fetch(context.Background(), "q1")
		second <- result{q, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		require.True(t, errors.IsKind(err, errors.KindContentUnavailable))
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled fetch should return")
	}

	close(release)
	select {
	case r := <-second:
		require.NoError(t, r.err, "a fetch must not fail because another caller gave up")
		require.Equal(t, "q1", r.q.ID)
	case <-time.After(time.Second):
		t.Fatal("second fetch should return")
	}
	require.EqualValues(t, 1, src.calls.Load(), "the load should be shared")
}

func TestCache_Question(t *testing.T) {
	ctx := context.Background()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	src := &fakeSource{q: &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 0, Text: "a"}}}}
	c := question.NewCache(question.CacheConfig{
		Source: src,
		Redis:  rc,
		Prefix: "quizduel",
		TTL:    time.Minute,
	})

	q, err := c.Question(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, src.q, q)
	require.True(t, rs.Exists("quizduel:question:q1"), "question should be cached")
	require.Equal(t, time.Minute, rs.TTL("quizduel:question:q1"))

	q, err = c.Question(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, src.q, q)
	require.EqualValues(t, 1, src.calls.Load(), "second read should hit the cache")

	require.NoError(t, rs.Set("quizduel:question:q1", "{not json"))
	_, err = c.Question(ctx, "q1")
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load(), "corrupted entry should be reloaded")

	cached, err := rs.Get("quizduel:question:q1")
	require.NoError(t, err)
	var stored domain.Question
	require.NoError(t, json.Unmarshal([]byte(cached), &stored))
	require.Equal(t, *src.q, stored)

	rs.Close()
	q, err = c.Question(ctx, "q1")
	require.NoError(t, err, "redis outage should fall through to the source")
	require.Equal(t, src.q, q)
}

func TestPostgresSource_Question(t *testing.T) {
	want := &domain.Question{ID: "q1", Text: "?", Options: []domain.Option{{ID: 0, Text: "a"}, {ID: 1, Text: "b"}}}

	s := question.NewPostgresSource(fakeQuerier{row: fakeRow{q: want}})
	q, err := s.Question(context.Background(), "q1")
	require.NoError(t, err)
	require.Equal(t, want, q)

	s = question.NewPostgresSource(fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}})
	_, err = s.Question(context.Background(), "q1")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	boom := stderrors.New("connection reset")
	s = question.NewPostgresSource(fakeQuerier{row: fakeRow{err: boom}})
	_, err = s.Question(context.Background(), "q1")
	require.ErrorIs(t, err, boom)
}

type fakeSource struct {
	q     *domain.Question
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (s *fakeSource) Question(ctx context.Context, _ string) (*domain.Question, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.q, nil
}

type fakeQuerier struct {
	row fakeRow
}

func (f fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

type fakeRow struct {
	q   *domain.Question
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	*dest[0].(*string) = r.q.ID
	*dest[1].(*string) = r.q.Text
	*dest[2].(*[]domain.Option) = r.q.Options
	return nil
}
