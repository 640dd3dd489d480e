// Package oauth bridges third-party identity providers to local accounts.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/oauth2"
)

var (
	ErrNoEmail         = errors.New("oauth: provider profile has no email")
	ErrUnverifiedEmail = errors.New("oauth: provider email is not verified")
	ErrNoRefreshToken  = errors.New("oauth: no refresh token")
)

// Identity is the profile a provider asserts for the signed-in user.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// Provider runs the authorization code flow against one identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Identity, *oauth2.Token, error)
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// NewState returns an unguessable value for the state parameter.
func NewState() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
