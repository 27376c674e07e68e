package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/logger"
	"localspot-sync/pkg/metrics"
)

// RedisFeed delivers change events over Redis Pub/Sub. The collaborator
// publishes every row change to a channel named after the exact filter
// (changes:<table>:<column>:<value>) plus the table-wide channel, so a
// subscriber picks the channel matching its predicate and needs no
// client-side filtering.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed creates a redis-backed change feed
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// ChannelFor names the pub/sub channel carrying events for a filter
func ChannelFor(filter Filter) string {
	return fmt.Sprintf("changes:%s", filter.String())
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.pubsub.Close()
		metrics.FeedSubscriptionsActive.Dec()
	})
}

// Subscribe implements Feed
func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	pubsub := f.client.Subscribe(ctx, ChannelFor(filter))
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel}
	metrics.FeedSubscriptionsActive.Inc()

	// go-redis reconnects the pub/sub connection itself; Channel() just
	// stops delivering during the outage.
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("invalid change feed payload",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
					metrics.FeedEventDroppedTotal.WithLabelValues("decode").Inc()
					continue
				}

				metrics.FeedEventTotal.WithLabelValues(ev.Table, string(ev.Kind)).Inc()
				handler(ev)
			}
		}
	}()

	return sub, nil
}
