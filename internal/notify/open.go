package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/trendly/apiserver/config"
	"github.com/trendly/apiserver/internal/mq"
	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the dispatcher selected by cfg.Notify.Backend. The returned
// closer releases any broker connection the dispatcher holds.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (Dispatcher, io.Closer, error) {
	switch cfg.Notify.Backend {
	case "", "log":
		return NewLogDispatcher(logger), nopCloser{}, nil
	case "smtp":
		d, err := NewSMTPDispatcher(cfg.Mail)
		if err != nil {
			return nil, nil, err
		}
		return d, nopCloser{}, nil
	case "rabbitmq", "pubsub":
		queue, err := mq.Open(ctx, cfg.Notify.Backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		d, err := NewQueueDispatcher(queue, cfg.Notify.Channel)
		if err != nil {
			_ = queue.Close()
			return nil, nil, err
		}
		return d, queue, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify backend %q", cfg.Notify.Backend)
	}
}
