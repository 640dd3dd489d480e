package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/trendly/apiserver/config"
	"google.golang.org/api/option"
)

// Pub/Sub accepts between 5 and 100 delivery attempts before dead-lettering.
const (
	minDeliveryAttempts = 5
	maxDeliveryAttempts = 100
	maxRetryBackoff     = 600 * time.Second
)

// PubSubClient publishes and receives jobs over Google Cloud Pub/Sub. Topics
// and subscriptions are created on first use.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	deadLetterTopic    string
	maxAttempts        int
	retry              *pubsub.RetryPolicy
}

// NewPubSubClient constructs a Pub/Sub client from config. PUBSUB_EMULATOR_HOST
// is honored by the SDK.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
		deadLetterTopic:    strings.TrimSpace(cfg.DeadLetterTopic),
		maxAttempts:        clampAttempts(cfg.MaxDeliveryAttempts),
		retry:              retryPolicy(cfg.RetryMinBackoff, cfg.RetryMaxBackoff),
	}, nil
}

// Publish sends a job to the named topic and waits for the server to accept it.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	defer topic.Stop()

	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Subscribe receives jobs from the channel's subscription until ctx is done.
// A handler error nacks the job; the subscription's retry and dead-letter
// policies decide when it comes back.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}
	defer topic.Stop()

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}
		if msg.DeliveryAttempt != nil {
			message.Attempt = *msg.DeliveryAttempt
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup topic %s: %w", name, err)
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup subscription %s: %w", name, err)
	}
	if exists {
		return sub, nil
	}

	cfg, err := p.subscriptionConfig(ctx, topic)
	if err != nil {
		return nil, err
	}
	return p.client.CreateSubscription(ctx, name, cfg)
}

func (p *PubSubClient) subscriptionConfig(ctx context.Context, topic *pubsub.Topic) (pubsub.SubscriptionConfig, error) {
	cfg := pubsub.SubscriptionConfig{
		Topic:       topic,
		RetryPolicy: p.retry,
	}
	if p.deadLetterTopic == "" {
		return cfg, nil
	}

	deadLetter, err := p.ensureTopic(ctx, p.deadLetterTopic)
	if err != nil {
		return pubsub.SubscriptionConfig{}, fmt.Errorf("dead letter topic: %w", err)
	}
	deadLetter.Stop()
	cfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     deadLetter.String(),
		MaxDeliveryAttempts: p.maxAttempts,
	}
	return cfg, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

func clampAttempts(n int) int {
	switch {
	case n < minDeliveryAttempts:
		return minDeliveryAttempts
	case n > maxDeliveryAttempts:
		return maxDeliveryAttempts
	default:
		return n
	}
}

// retryPolicy returns nil when neither bound is set, which leaves Pub/Sub's
// immediate redelivery in place.
func retryPolicy(minBackoff, maxBackoff time.Duration) *pubsub.RetryPolicy {
	if minBackoff <= 0 && maxBackoff <= 0 {
		return nil
	}
	if maxBackoff <= 0 || maxBackoff > maxRetryBackoff {
		maxBackoff = maxRetryBackoff
	}
	if minBackoff < 0 {
		minBackoff = 0
	}
	if minBackoff > maxBackoff {
		minBackoff = maxBackoff
	}
	return &pubsub.RetryPolicy{
		MinimumBackoff: minBackoff,
		MaximumBackoff: maxBackoff,
	}
}
