package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/logger"
	"localspot-sync/pkg/metrics"
)

// PostgresFeed delivers change events via LISTEN/NOTIFY. Row triggers on
// the conversations and messages tables publish a JSON ChangeEvent envelope
// to a single channel; predicate filtering happens client-side since NOTIFY
// payloads are not routable by column value.
type PostgresFeed struct {
	DSN        string
	Channel    string
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// NewPostgresFeed creates a LISTEN/NOTIFY-backed change feed
func NewPostgresFeed(dsn, channel string, backoff, maxBackoff time.Duration) *PostgresFeed {
	if channel == "" {
		channel = "row_changes"
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &PostgresFeed{DSN: dsn, Channel: channel, Backoff: backoff, MaxBackoff: maxBackoff}
}

type pgSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *pgSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		metrics.FeedSubscriptionsActive.Dec()
	})
}

// Subscribe implements Feed
func (f *PostgresFeed) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &pgSubscription{cancel: cancel}
	metrics.FeedSubscriptionsActive.Inc()

	go f.run(ctx, filter, handler)

	return sub, nil
}

func (f *PostgresFeed) run(ctx context.Context, filter Filter, handler Handler) {
	delay := f.Backoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := f.listen(ctx, filter, handler)
		if ctx.Err() != nil {
			return
		}

		logger.Warn("postgres feed connection lost, reconnecting",
			zap.String("filter", filter.String()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.FeedReconnectTotal.WithLabelValues("postgres").Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.MaxBackoff {
			delay = f.MaxBackoff
		}
	}
}

// listen holds one dedicated connection in LISTEN mode until it fails
func (f *PostgresFeed) listen(ctx context.Context, filter Filter, handler Handler) error {
	conn, err := pgx.Connect(ctx, f.DSN)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.Channel}.Sanitize()); err != nil {
		return err
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			logger.Warn("invalid notify payload", zap.Error(err))
			metrics.FeedEventDroppedTotal.WithLabelValues("decode").Inc()
			continue
		}
		if !filter.Matches(ev) {
			continue
		}

		metrics.FeedEventTotal.WithLabelValues(ev.Table, string(ev.Kind)).Inc()
		handler(ev)
	}
}
