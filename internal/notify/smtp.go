package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trendly/apiserver/config"
	"github.com/wneessen/go-mail"
)

const smtpTimeout = 15 * time.Second

// SMTPDispatcher relays messages through an SMTP server.
type SMTPDispatcher struct {
	cfg config.MailConfig
}

// NewSMTPDispatcher constructs an SMTP dispatcher from config.
func NewSMTPDispatcher(cfg config.MailConfig) (*SMTPDispatcher, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail sender address is required")
	}
	return &SMTPDispatcher{cfg: cfg}, nil
}

// Send builds the message and delivers it over a fresh SMTP session.
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	m, err := d.build(msg)
	if err != nil {
		return err
	}

	client, err := d.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (d *SMTPDispatcher) build(msg Message) (*mail.Msg, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(d.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func (d *SMTPDispatcher) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(d.cfg.Port),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if d.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.cfg.Username),
			mail.WithPassword(d.cfg.Password),
		)
	}
	return mail.NewClient(d.cfg.Host, opts...)
}
