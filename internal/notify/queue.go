package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trendly/apiserver/internal/mq"
	"go.uber.org/zap"
)

const jobTypeAttr = "type"

// JobTypeEmail marks queued email jobs.
const JobTypeEmail = "email"

// Publisher is the subset of mq.MQ the queue dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueDispatcher hands messages to the mailer worker through a message queue.
type QueueDispatcher struct {
	publisher Publisher
	channel   string
}

func NewQueueDispatcher(publisher Publisher, channel string) (*QueueDispatcher, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("notify channel is required")
	}
	return &QueueDispatcher{publisher: publisher, channel: channel}, nil
}

func (d *QueueDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := d.publisher.Publish(ctx, d.channel, data, map[string]string{
		jobTypeAttr:        JobTypeEmail,
		mq.AttrContentType: "application/json",
	}); err != nil {
		return fmt.Errorf("publish email job: %w", err)
	}
	return nil
}

// NewRelayHandler returns an mq.Handler that sends queued email jobs through next.
// Malformed, expired and permanently rejected jobs are logged and acknowledged.
// Other send failures are returned so the broker redelivers the job.
func NewRelayHandler(next Dispatcher, logger *zap.Logger) mq.Handler {
	return newRelayHandler(next, logger, time.Now)
}

func newRelayHandler(next Dispatcher, logger *zap.Logger, now func() time.Time) mq.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, message mq.Message) error {
		fields := []zap.Field{zap.String("message_id", message.ID), zap.Int("attempt", message.Attempt)}
		if t := message.Attributes[jobTypeAttr]; t != "" && t != JobTypeEmail {
			logger.Warn("dropping job of unknown type", append(fields, zap.String("type", t))...)
			return nil
		}

		var msg Message
		if err := json.Unmarshal(message.Data, &msg); err != nil {
			logger.Error("dropping malformed email job", append(fields, zap.Error(err))...)
			return nil
		}
		if err := msg.Validate(); err != nil {
			logger.Error("dropping invalid email job", append(fields, zap.Error(err))...)
			return nil
		}
		if msg.Expired(now()) {
			logger.Warn("dropping expired email job", append(fields, zap.Time("expires_at", msg.ExpiresAt))...)
			return nil
		}

		if err := next.Send(ctx, msg); err != nil {
			if permanentFailure(err) {
				logger.Error("dropping rejected email job", append(fields, zap.Error(err))...)
				return nil
			}
			logger.Warn("email job failed", append(fields, zap.Error(err))...)
			return err
		}
		logger.Info("email job sent", fields...)
		return nil
	}
}

// smtpReply is implemented by *mail.SendError.
type smtpReply interface {
	ErrorCode() int
}

// permanentFailure reports a 5xx SMTP reply, which a retry cannot fix.
func permanentFailure(err error) bool {
	var reply smtpReply
	return errors.As(err, &reply) && reply.ErrorCode() >= 500
}
