// Package notify delivers outbound email for the verification flows.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is a plain-text email. It is also the JSON job published to the mail queue.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// ExpiresAt is when the content stops being useful. Zero means never.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the message is no longer worth sending at now.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// Validate reports whether the message can be sent.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("notify: recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("notify: subject is required")
	}
	return nil
}

// Dispatcher sends a message. Implementations may fail; callers decide how to surface it.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

const otpSubject = "Your Trendly verification code"

// OTPMessage renders the verification email for code. It expires with the code.
func OTPMessage(email string, code int, ttl time.Duration) Message {
	return Message{
		To:        email,
		Subject:   otpSubject,
		ExpiresAt: time.Now().UTC().Add(ttl),
		Body: fmt.Sprintf(
			"Your Trendly verification code is %04d.\n\nIt expires in %d minutes. If you did not request it, you can ignore this email.\n",
			code,
			int(ttl.Round(time.Minute)/time.Minute),
		),
	}
}
