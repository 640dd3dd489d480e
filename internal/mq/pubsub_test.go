package mq

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendly/apiserver/config"
)

func newTestPubSub(t *testing.T, cfg config.PubSubConfig) *PubSubClient {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	cfg.ProjectID = "trendly-test"
	client, err := NewPubSubClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPubSubSubscriptionPolicies(t *testing.T) {
	client := newTestPubSub(t, config.PubSubConfig{
		DeadLetterTopic:     "otp-email-dead",
		MaxDeliveryAttempts: 7,
		RetryMinBackoff:     10 * time.Second,
		RetryMaxBackoff:     time.Minute,
	})
	ctx := context.Background()

	topic, err := client.ensureTopic(ctx, "otp-email")
	require.NoError(t, err)
	sub, err := client.ensureSubscription(ctx, client.subscriptionName("otp-email"), topic)
	require.NoError(t, err)
	assert.Equal(t, "otp-email-sub", sub.ID())

	cfg, err := sub.Config(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.DeadLetterPolicy)
	assert.Equal(t, "projects/trendly-test/topics/otp-email-dead", cfg.DeadLetterPolicy.DeadLetterTopic)
	assert.Equal(t, 7, cfg.DeadLetterPolicy.MaxDeliveryAttempts)
	require.NotNil(t, cfg.RetryPolicy)
	assert.Equal(t, 10*time.Second, cfg.RetryPolicy.MinimumBackoff)
	assert.Equal(t, time.Minute, cfg.RetryPolicy.MaximumBackoff)

	// existing subscriptions are reused as they are
	again, err := client.ensureSubscription(ctx, "otp-email-sub", topic)
	require.NoError(t, err)
	assert.Equal(t, sub.ID(), again.ID())
}

func TestPubSubSubscriptionWithoutDeadLetter(t *testing.T) {
	client := newTestPubSub(t, config.PubSubConfig{SubscriptionSuffix: "-mailer"})
	ctx := context.Background()

	topic, err := client.ensureTopic(ctx, "otp-email")
	require.NoError(t, err)
	sub, err := client.ensureSubscription(ctx, client.subscriptionName("otp-email"), topic)
	require.NoError(t, err)
	assert.Equal(t, "otp-email-mailer", sub.ID())

	cfg, err := sub.Config(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg.DeadLetterPolicy)
}

func TestPubSubPublishRequiresChannel(t *testing.T) {
	client := newTestPubSub(t, config.PubSubConfig{})
	_, err := client.Publish(context.Background(), " ", []byte("x"), nil)
	assert.ErrorContains(t, err, "channel is required")
	err = client.Subscribe(context.Background(), "", nil)
	assert.ErrorContains(t, err, "channel is required")
}

func TestClampAttempts(t *testing.T) {
	assert.Equal(t, 5, clampAttempts(0))
	assert.Equal(t, 20, clampAttempts(20))
	assert.Equal(t, 100, clampAttempts(500))
}

func TestRetryPolicy(t *testing.T) {
	assert.Nil(t, retryPolicy(0, 0))

	p := retryPolicy(time.Minute, 0)
	require.NotNil(t, p)
	assert.Equal(t, time.Minute, p.MinimumBackoff)
	assert.Equal(t, 600*time.Second, p.MaximumBackoff)

	p = retryPolicy(20*time.Minute, 30*time.Second)
	assert.Equal(t, 30*time.Second, p.MinimumBackoff)
	assert.Equal(t, 30*time.Second, p.MaximumBackoff)
}

func TestRabbitMQRetryBounds(t *testing.T) {
	assert.Nil(t, queueArgs(""))
	assert.Equal(t, "mail.dead", queueArgs("mail.dead")[argDeadLetterExchange])
	assert.Equal(t, 1, deliveryAttempt(false))
	assert.Equal(t, 2, deliveryAttempt(true))
}
