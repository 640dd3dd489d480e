// Package otp issues and verifies short-lived numeric email challenges.
//
// A challenge is keyed by normalized email, replaced on re-issue, consumed
// by the first successful verification and evicted after too many wrong codes. Expiry is evaluated lazily when a
// challenge is looked up; nothing sweeps the store in the background.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"
)

const (
	DefaultTTL = 5 * time.Minute

	// VerifiedTTL bounds how long a successful verification can gate a signup.
	VerifiedTTL = 15 * time.Minute

	// DefaultMaxAttempts is how many wrong codes evict a challenge.
	DefaultMaxAttempts = 5

	codeMin  = 1000
	codeSpan = 9000

	challengePrefix = "otp:challenge:"
	verifiedPrefix  = "otp:verified:"
)

var (
	ErrNotFound     = errors.New("otp: challenge not found")
	ErrExpired      = errors.New("otp: challenge expired")
	ErrMismatch     = errors.New("otp: code mismatch")
	ErrInvalidEmail = errors.New("otp: invalid email")
)

// Challenge is one pending verification attempt.
type Challenge struct {
	Code      int       `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts,omitempty"`
}

// Equal reports whether c and other describe the same challenge state.
func (c Challenge) Equal(other Challenge) bool {
	return c.Code == other.Code &&
		c.IssuedAt.Equal(other.IssuedAt) &&
		c.ExpiresAt.Equal(other.ExpiresAt) &&
		c.Attempts == other.Attempts
}

// Registry owns challenge creation, lookup, expiry and single-use consumption.
type Registry struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	codes       func() (int, error)
}

type Option func(*Registry)

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithMaxAttempts sets how many wrong codes a challenge survives.
func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithCodeSource replaces the random code generator.
func WithCodeSource(codes func() (int, error)) Option {
	return func(r *Registry) {
		r.codes = codes
	}
}

func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		codes:       randomCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns how long an issued challenge stays valid.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// NormalizeEmail trims and lower-cases an address and checks that it parses.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Issue mints a challenge for email, replacing any pending one, and returns its code.
func (r *Registry) Issue(ctx context.Context, email string) (int, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return 0, err
	}

	code, err := r.codes()
	if err != nil {
		return 0, fmt.Errorf("generate otp code: %w", err)
	}

	now := r.now().UTC()
	challenge := Challenge{
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}
	if err := r.store.Set(ctx, challengePrefix+email, challenge, 2*r.ttl); err != nil {
		return 0, fmt.Errorf("store otp challenge: %w", err)
	}
	return code, nil
}

// Verify consumes the pending challenge for email if code matches and it has not expired.
func (r *Registry) Verify(ctx context.Context, email string, code int) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return ErrNotFound
	}
	key := challengePrefix + email

	challenge, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}

	if r.now().After(challenge.ExpiresAt) {
		if _, err := r.store.CompareAndDelete(ctx, key, challenge); err != nil {
			return fmt.Errorf("evict expired otp challenge: %w", err)
		}
		return ErrExpired
	}

	if challenge.Code != code {
		if err := r.recordMismatch(ctx, key, challenge); err != nil {
			return err
		}
		return ErrMismatch
	}

	removed, err := r.store.CompareAndDelete(ctx, key, challenge)
	if err != nil {
		return fmt.Errorf("consume otp challenge: %w", err)
	}
	if !removed {
		// consumed or replaced by a concurrent request
		return ErrNotFound
	}
	return nil
}

// recordMismatch counts a wrong code against the challenge and evicts it once
// maxAttempts is reached. Losing a race with a concurrent write is not an error.
func (r *Registry) recordMismatch(ctx context.Context, key string, challenge Challenge) error {
	next := challenge
	next.Attempts++
	if next.Attempts >= r.maxAttempts {
		if _, err := r.store.CompareAndDelete(ctx, key, challenge); err != nil {
			return fmt.Errorf("evict otp challenge: %w", err)
		}
		return nil
	}
	if _, err := r.store.CompareAndSwap(ctx, key, challenge, next, 2*r.ttl); err != nil {
		return fmt.Errorf("count otp attempt: %w", err)
	}
	return nil
}

// MarkVerified records that email proved ownership, for a later ConsumeVerified.
func (r *Registry) MarkVerified(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	marker := Challenge{IssuedAt: now, ExpiresAt: now.Add(VerifiedTTL)}
	return r.store.Set(ctx, verifiedPrefix+email, marker, VerifiedTTL)
}

// ConsumeVerified removes the verification marker for email.
// It returns ErrNotFound when no unexpired marker exists.
func (r *Registry) ConsumeVerified(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return ErrNotFound
	}
	key := verifiedPrefix + email

	marker, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	removed, err := r.store.CompareAndDelete(ctx, key, marker)
	if err != nil {
		return err
	}
	if !removed || r.now().After(marker.ExpiresAt) {
		return ErrNotFound
	}
	return nil
}

func randomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return 0, err
	}
	return codeMin + int(n.Int64()), nil
}
