// Package reconcile receives the authoritative battle snapshots pushed by the arena.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/telemetry"
)

type Config struct {
	Feed Feed
}

type Listener struct {
	feed Feed
}

func NewListener(c Config) *Listener {
	return &Listener{feed: c.Feed}
}

// Listen hands every valid snapshot of the battle to sink until ctx is done, in which case it
// returns nil. Malformed messages and snapshots of other battles are dropped.
// Losing the feed returns a realtime disconnect error.
func (l *Listener) Listen(ctx context.Context, battleID string, sink func(domain.Snapshot)) error {
	sub, err := l.feed.Subscribe(ctx, battleID)
	if err != nil {
		return errors.RealtimeDisconnect(err, errors.WithMessagef("subscribe: battle=%s", battleID))
	}
	defer func() {
		if err := sub.Close(); err != nil {
			slog.WarnContext(ctx, "reconcile: close subscription failed", "battle_id", battleID, "error", err)
		}
	}()

	slog.DebugContext(ctx, "reconcile: listening", "battle_id", battleID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.RealtimeDisconnect(fmt.Errorf("feed closed"), errors.WithMessagef("feed lost: battle=%s", battleID))
			}

			s, err := Decode(b)
			if err == nil && s.BattleID != battleID {
				err = fmt.Errorf("snapshot for battle %s", s.BattleID)
			}
			if err != nil {
				telemetry.SnapshotsRejected.Inc()
				slog.WarnContext(ctx, "reconcile: drop snapshot", "battle_id", battleID, "error", err)
				continue
			}

			sink(s)
		}
	}
}
