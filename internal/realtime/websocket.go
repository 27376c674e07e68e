package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/logger"
	"localspot-sync/pkg/metrics"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second
)

// WebsocketFeed subscribes to the change feed over a websocket endpoint.
// Each subscription owns one connection: it sends a subscribe frame naming
// its filter and then reads event frames until cancelled, reconnecting with
// capped backoff on any error.
type WebsocketFeed struct {
	URL        string
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// NewWebsocketFeed creates a websocket-backed change feed
func NewWebsocketFeed(url string, backoff, maxBackoff time.Duration) *WebsocketFeed {
	if backoff <= 0 {
		backoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &WebsocketFeed{URL: url, Backoff: backoff, MaxBackoff: maxBackoff}
}

// subscribeFrame is the first frame sent on every connection
type subscribeFrame struct {
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

type wsSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		metrics.FeedSubscriptionsActive.Dec()
	})
}

// Subscribe implements Feed
func (f *WebsocketFeed) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{cancel: cancel}
	metrics.FeedSubscriptionsActive.Inc()

	go f.run(ctx, filter, handler)

	return sub, nil
}

// run dials, reads and reconnects until the subscription context ends
func (f *WebsocketFeed) run(ctx context.Context, filter Filter, handler Handler) {
	delay := f.Backoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := f.readLoop(ctx, filter, handler)
		if ctx.Err() != nil {
			return
		}

		// Disconnects stay internal; unread events catch up on the next
		// explicit load or refresh.
		logger.Warn("change feed connection lost, reconnecting",
			zap.String("filter", filter.String()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.FeedReconnectTotal.WithLabelValues("ws").Inc()

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

func (f *WebsocketFeed) readLoop(ctx context.Context, filter Filter, handler Handler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the socket when the subscription is cancelled so ReadMessage
	// unblocks promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	if err := conn.WriteJSON(subscribeFrame{Table: filter.Table, Column: filter.Column, Value: filter.Value}); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		var ev domain.ChangeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			logger.Warn("invalid change feed frame", zap.Error(err))
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
