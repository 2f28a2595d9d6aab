package journal

import (
	"context"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/event"
)

// Subscribe journals battles as the machine publishes them. Events are handled in publish
// order, so a battle is saved before its answers.
func (s *Store) Subscribe(eb *event.Bus) {
	eb.SubscribeOrdered(func(ctx context.Context, e event.Event) error {
		switch ev := e.(type) {
		case domain.EventBattleFound:
			return s.SaveBattle(ctx, ev.Session)

		case domain.EventRoundResolved:
			err := s.RecordAnswer(ctx, ev.BattleID, ev.Result)
			if err != nil && errors.Convert(err).Code == errors.CodeAlreadyExists {
				return nil
			}
			return err

		case domain.EventBattleEnded:
			return s.FinishBattle(ctx, ev.Session)
		}

		return nil
	}, domain.EventNameBattleFound, domain.EventNameRoundResolved, domain.EventNameBattleEnded)
}
