package trigger

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber is the subset of the redis client the listener needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisListener fires the runner on every message published to the crawl
// channel. Message payloads are ignored; the message itself is the signal.
type RedisListener struct {
	sub     Subscriber
	runner  *Runner
	channel string
	logger  *zap.Logger
}

// NewRedisListener builds the listener.
func NewRedisListener(sub Subscriber, runner *Runner, channel string, logger *zap.Logger) *RedisListener {
	return &RedisListener{
		sub:     sub,
		runner:  runner,
		channel: channel,
		logger:  logger,
	}
}

// Run blocks consuming the channel until the context ends.
func (l *RedisListener) Run(ctx context.Context) error {
	pubsub := l.sub.Subscribe(ctx, l.channel)
	defer pubsub.Close()
	l.logger.Info("listening for crawl triggers", zap.String("channel", l.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.logger.Info("crawl trigger received", zap.String("channel", msg.Channel))
			if err := l.runner.TryRun(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("triggered crawl failed", zap.Error(err))
			}
		}
	}
}
