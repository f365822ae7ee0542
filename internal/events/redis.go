package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"transcoder/internal/logging"
)

const publishTimeout = 2 * time.Second

// RedisPublisher publishes events as JSON to a Redis pub/sub channel from a
// background goroutine. Events that do not fit the buffer are dropped.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

// NewRedisPublisher starts the publishing goroutine.
func NewRedisPublisher(client redis.UniversalClient, channel string, buffer int, logger *slog.Logger) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logging.NewComponentLogger(logger, "events-redis"),
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// DialRedisPublisher connects to addr and returns a publisher that owns the
// client.
func DialRedisPublisher(ctx context.Context, addr, channel string, buffer int, logger *slog.Logger) (*RedisPublisher, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisPublisher(client, channel, buffer, logger)
}

func (p *RedisPublisher) Publish(ev Event) {
	ev = stamp(ev)
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.Debug("redis event dropped",
			logging.String("kind", string(ev.Kind)),
			logging.String(logging.FieldContentHash, ev.ContentHash),
		)
	}
}

func (p *RedisPublisher) run() {
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.queue:
			p.send(ev)
		}
	}
}

func (p *RedisPublisher) send(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encode event failed", logging.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		logging.WarnWithContext(p.logger, "redis publish failed", "event_publish_failed",
			logging.Error(err),
			logging.String("channel", p.channel),
			logging.String(logging.FieldErrorHint, "check redis connectivity"),
			logging.String(logging.FieldImpact, "remote observers miss this event"),
		)
	}
}

// Close stops the publisher and closes the client.
func (p *RedisPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.client.Close()
	})
	return err
}
