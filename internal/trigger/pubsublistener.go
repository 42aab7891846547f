package trigger

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// PubSubListener fires the runner on every message delivered to a Pub/Sub
// subscription. Messages are acked regardless of run outcome; a skipped or
// failed run is not worth redelivery storms.
type PubSubListener struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	runner *Runner
	logger *zap.Logger
}

// NewPubSubListener connects to the project and binds the subscription.
func NewPubSubListener(ctx context.Context, projectID, subscriptionID string, runner *Runner, logger *zap.Logger, opts ...option.ClientOption) (*PubSubListener, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	return &PubSubListener{
		client: client,
		sub:    client.Subscription(subscriptionID),
		runner: runner,
		logger: logger,
	}, nil
}

// Run blocks receiving messages until the context ends.
func (l *PubSubListener) Run(ctx context.Context) error {
	l.logger.Info("listening for crawl triggers", zap.String("subscription", l.sub.ID()))
	err := l.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		msg.Ack()
		l.logger.Info("crawl trigger received", zap.String("message_id", msg.ID))
		if err := l.runner.TryRun(ctx); err != nil && ctx.Err() == nil {
			l.logger.Error("triggered crawl failed", zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return ctx.Err()
}

// Close releases the underlying client.
func (l *PubSubListener) Close() error {
	return l.client.Close()
}
