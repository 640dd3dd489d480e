package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/trendly/apiserver/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	ProviderGoogle = "google"

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	maxProfileBytes   = 1 << 20
)

// Google implements Provider with Google's OpenID Connect endpoints.
type Google struct {
	cfg         *oauth2.Config
	userInfoURL string
}

type GoogleOption func(*Google)

// WithEndpoint points the provider at different authorization, token and
// userinfo URLs.
func WithEndpoint(endpoint oauth2.Endpoint, userInfoURL string) GoogleOption {
	return func(g *Google) {
		g.cfg.Endpoint = endpoint
		g.userInfoURL = userInfoURL
	}
}

func NewGoogle(cfg config.GoogleOAuthConfig, opts ...GoogleOption) (*Google, error) {
	if !cfg.Enabled() {
		return nil, errors.New("google oauth client id, secret and redirect url are required")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	g := &Google{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Google) Name() string {
	return ProviderGoogle
}

// AuthCodeURL requests offline access so the callback receives a refresh token.
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades the authorization code for a token and fetches the user's profile.
func (g *Google) Exchange(ctx context.Context, code string) (Identity, *oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return Identity{}, nil, errors.New("oauth: authorization code is required")
	}

	token, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return Identity{}, nil, fmt.Errorf("exchange code: %w", err)
	}

	identity, err := g.fetchProfile(ctx, token)
	if err != nil {
		return Identity{}, nil, err
	}
	return identity, token, nil
}

// Refresh obtains a new access token from the refresh token in token.
func (g *Google) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	fresh, err := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	return fresh, nil
}

type googleProfile struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *Google) fetchProfile(ctx context.Context, token *oauth2.Token) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := g.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("fetch profile: unexpected status %d", resp.StatusCode)
	}

	var profile googleProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&profile); err != nil {
		return Identity{}, fmt.Errorf("decode profile: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return Identity{}, ErrNoEmail
	}
	if !profile.EmailVerified {
		return Identity{}, ErrUnverifiedEmail
	}

	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return Identity{
		Subject:       profile.Sub,
		Email:         email,
		Name:          name,
		EmailVerified: profile.EmailVerified,
	}, nil
}
