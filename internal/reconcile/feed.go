package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 64

// Feed subscribes to the snapshots pushed for a battle.
type Feed interface {
	Subscribe(ctx context.Context, battleID string) (Subscription, error)
}

// Subscription delivers raw pushed messages. Messages is closed when the feed is lost or after Close.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type subscription struct {
	out   chan []byte
	done  chan struct{}
	once  sync.Once
	close func() error
}

func newSubscription(closeFn func() error) *subscription {
	return &subscription{
		out:   make(chan []byte, subscriptionBuffer),
		done:  make(chan struct{}),
		close: closeFn,
	}
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.close()
	})
	return err
}

// forward delivers b unless the subscription is closed.
func (s *subscription) forward(b []byte) bool {
	select {
	case s.out <- b:
		return true
	case <-s.done:
		return false
	}
}

// RedisFeed receives snapshots over Redis pub/sub on channel <prefix>:battle:<battle_id>.
type RedisFeed struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisFeed(r redis.UniversalClient, prefix string) *RedisFeed {
	return &RedisFeed{redis: r, prefix: prefix}
}

func (f *RedisFeed) Subscribe(ctx context.Context, battleID string) (Subscription, error) {
	ps := f.redis.Subscribe(ctx, f.channel(battleID))

	// Wait for the subscription to be confirmed so no push sent after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel(battleID), err)
	}

	sub := newSubscription(ps.Close)
	go func() {
		defer close(sub.out)

		for msg := range ps.Channel() {
			if !sub.forward([]byte(msg.Payload)) {
				return
			}
		}
	}()

	return sub, nil
}

func (f *RedisFeed) channel(battleID string) string {
	return fmt.Sprintf("%s:battle:%s", f.prefix, battleID)
}

// NATSFeed receives snapshots on subject <prefix>.battle.<battle_id>.
type NATSFeed struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSFeed(nc *nats.Conn, prefix string) *NATSFeed {
	return &NATSFeed{conn: nc, prefix: prefix}
}

func (f *NATSFeed) Subscribe(_ context.Context, battleID string) (Subscription, error) {
	ch := make(chan *nats.Msg, subscriptionBuffer)

	ns, err := f.conn.ChanSubscribe(f.subject(battleID), ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", f.subject(battleID), err)
	}

	if err := f.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", f.subject(battleID), err)
	}

	closed := f.conn.StatusChanged(nats.CLOSED)
	sub := newSubscription(func() error {
		f.conn.RemoveStatusListener(closed)
		if !ns.IsValid() {
			return nil
		}
		return ns.Unsubscribe()
	})

	go func() {
		defer close(sub.out)

		for {
			select {
			case <-sub.done:
				return
			case <-closed:
				return
			case msg := <-ch:
				if !sub.forward(msg.Data) {
					return
				}
			}
		}
	}()

	return sub, nil
}

func (f *NATSFeed) subject(battleID string) string {
	return fmt.Sprintf("%s.battle.%s", f.prefix, battleID)
}
