package services

import (
	"context"
	"errors"
	"strings"

	"github.com/trendly/apiserver/internal/notify"
	"github.com/trendly/apiserver/internal/oauth"
	"github.com/trendly/apiserver/internal/otp"
	"github.com/trendly/apiserver/internal/session"
	"github.com/trendly/apiserver/internal/store"
	"github.com/trendly/apiserver/types"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// OTPRejectedMessage is reported for every failed verification, whatever the cause.
const OTPRejectedMessage = "OTP expired or not found."

// ProviderTokenRepository persists tokens issued by identity providers.
type ProviderTokenRepository interface {
	Get(ctx context.Context, userID, provider string) (types.ProviderToken, error)
	Upsert(ctx context.Context, token types.ProviderToken) (types.ProviderToken, error)
}

// AuthDeps collects the collaborators of AuthService. Provider and Tokens may
// be nil when federation is not configured.
type AuthDeps struct {
	Users      UserRepository
	Tokens     ProviderTokenRepository
	OTP        *otp.Registry
	Dispatcher notify.Dispatcher
	Sessions   *session.Issuer
	Provider   oauth.Provider
	Logger     *zap.Logger

	BcryptCost           int
	RequireVerifiedEmail bool
}

// AuthService implements signup, login, OTP verification and federated login.
type AuthService struct {
	users                UserRepository
	tokens               ProviderTokenRepository
	otp                  *otp.Registry
	dispatcher           notify.Dispatcher
	sessions             *session.Issuer
	provider             oauth.Provider
	logger               *zap.Logger
	bcryptCost           int
	requireVerifiedEmail bool
}

func NewAuthService(deps AuthDeps) *AuthService {
	cost := deps.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:                deps.Users,
		tokens:               deps.Tokens,
		otp:                  deps.OTP,
		dispatcher:           deps.Dispatcher,
		sessions:             deps.Sessions,
		provider:             deps.Provider,
		logger:               logger,
		bcryptCost:           cost,
		requireVerifiedEmail: deps.RequireVerifiedEmail,
	}
}

// AuthResult is the outcome of any successful authentication.
type AuthResult struct {
	User      types.User
	Token     string
	IsNewUser bool
}

// Signup creates a password account and signs it in. Duplicate usernames or
// emails are detected by the store's unique constraints.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return AuthResult{}, err
	}

	if s.requireVerifiedEmail {
		if err := s.otp.ConsumeVerified(ctx, req.Email); err != nil {
			if errors.Is(err, otp.ErrNotFound) {
				return AuthResult{}, newError(ErrEmailNotVerified, "Please verify your email before signing up.")
			}
			s.logger.Error("consume email verification", zap.Error(err))
			return AuthResult{}, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         req.Name,
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		Contact:      req.Contact,
		Address:      req.Address,
		Country:      req.Country,
		Youtube:      req.Youtube,
	})
	if err != nil {
		s.restoreVerified(ctx, req.Email)
		if conflict := conflictError(err); conflict != nil {
			return AuthResult{}, conflict
		}
		s.logger.Error("create user", zap.Error(err))
		return AuthResult{}, err
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return s.issue(user, true)
}

// restoreVerified puts back the verification marker a failed signup consumed,
// so the user can retry without a new code.
func (s *AuthService) restoreVerified(ctx context.Context, email string) {
	if !s.requireVerifiedEmail {
		return
	}
	if err := s.otp.MarkVerified(ctx, email); err != nil {
		s.logger.Warn("restore email verification", zap.Error(err))
	}
}

// Login checks a username and password.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, newError(ErrNotFound, "User not found.")
		}
		s.logger.Error("load user for login", zap.Error(err))
		return AuthResult{}, err
	}

	if !user.HasPassword() {
		return AuthResult{}, newError(ErrInvalidCredentials, "Invalid credentials.")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return AuthResult{}, newError(ErrInvalidCredentials, "Invalid credentials.")
	}

	return s.issue(user, false)
}

// SendOTP issues a fresh challenge for email and dispatches its code.
func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	code, err := s.otp.Issue(ctx, email)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidEmail) {
			return newError(ErrValidation, "A valid email is required.")
		}
		s.logger.Error("issue otp", zap.Error(err))
		return err
	}

	normalized, _ := otp.NormalizeEmail(email)
	if err := s.dispatcher.Send(ctx, notify.OTPMessage(normalized, code, s.otp.TTL())); err != nil {
		s.logger.Error("dispatch otp", zap.Error(err))
		return newError(ErrDispatchFailed, "Failed to send OTP.")
	}
	return nil
}

// VerifyOTP consumes the pending challenge for email. Unknown, expired and
// mismatched codes are indistinguishable to the caller.
func (s *AuthService) VerifyOTP(ctx context.Context, email string, code int) error {
	if err := s.otp.Verify(ctx, email, code); err != nil {
		if errors.Is(err, otp.ErrNotFound) || errors.Is(err, otp.ErrExpired) || errors.Is(err, otp.ErrMismatch) {
			return newError(ErrValidation, OTPRejectedMessage)
		}
		s.logger.Error("verify otp", zap.Error(err))
		return err
	}

	if s.requireVerifiedEmail {
		if err := s.otp.MarkVerified(ctx, email); err != nil {
			s.logger.Error("mark email verified", zap.Error(err))
			return err
		}
	}
	return nil
}

// FederationEnabled reports whether a provider is configured.
func (s *AuthService) FederationEnabled() bool {
	return s.provider != nil
}

// AuthCodeURL returns the provider consent URL for state.
func (s *AuthService) AuthCodeURL(state string) (string, error) {
	if s.provider == nil {
		return "", newError(ErrProviderUnavailable, "Federated login is not configured.")
	}
	return s.provider.AuthCodeURL(state), nil
}

// FederatedLogin completes the provider callback. The local account is found
// by email and created with an empty profile when absent.
func (s *AuthService) FederatedLogin(ctx context.Context, code string) (AuthResult, error) {
	if s.provider == nil {
		return AuthResult{}, newError(ErrProviderUnavailable, "Federated login is not configured.")
	}

	identity, token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("provider exchange failed", zap.String("provider", s.provider.Name()), zap.Error(err))
		return AuthResult{}, newError(ErrFederationFailed, "Federated login failed.")
	}

	user, isNew, err := s.findOrCreateFederated(ctx, identity)
	if err != nil {
		s.logger.Error("resolve federated user", zap.Error(err))
		return AuthResult{}, err
	}

	s.saveProviderToken(ctx, user.ID, token)
	return s.issue(user, isNew)
}

func (s *AuthService) findOrCreateFederated(ctx context.Context, identity oauth.Identity) (types.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, identity.Email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, false, err
	}

	user, err = s.users.Create(ctx, types.User{Name: identity.Name, Email: identity.Email})
	if err == nil {
		s.logger.Info("federated user created", zap.String("user_id", user.ID), zap.String("provider", s.provider.Name()))
		return user, true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return types.User{}, false, err
	}

	// a concurrent callback created it first
	user, err = s.users.GetByEmail(ctx, identity.Email)
	if err != nil {
		return types.User{}, false, err
	}
	return user, false, nil
}

func (s *AuthService) saveProviderToken(ctx context.Context, userID string, token *oauth2.Token) {
	if s.tokens == nil || token == nil {
		return
	}
	_, err := s.tokens.Upsert(ctx, types.ProviderToken{
		UserID:       userID,
		Provider:     s.provider.Name(),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	})
	if err != nil {
		s.logger.Error("persist provider token", zap.String("user_id", userID), zap.Error(err))
	}
}

// RefreshProviderToken refreshes the stored provider token of userID and persists the result.
func (s *AuthService) RefreshProviderToken(ctx context.Context, userID string) (types.ProviderToken, error) {
	if s.provider == nil || s.tokens == nil {
		return types.ProviderToken{}, newError(ErrProviderUnavailable, "Federated login is not configured.")
	}

	stored, err := s.tokens.Get(ctx, userID, s.provider.Name())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.ProviderToken{}, newError(ErrNotFound, "No provider token stored.")
		}
		return types.ProviderToken{}, err
	}

	fresh, err := s.provider.Refresh(ctx, &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	})
	if err != nil {
		if errors.Is(err, oauth.ErrNoRefreshToken) {
			return types.ProviderToken{}, newError(ErrNotFound, "No provider token stored.")
		}
		s.logger.Warn("provider refresh failed", zap.String("user_id", userID), zap.Error(err))
		return types.ProviderToken{}, newError(ErrFederationFailed, "Provider token refresh failed.")
	}

	return s.tokens.Upsert(ctx, types.ProviderToken{
		UserID:       userID,
		Provider:     s.provider.Name(),
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		TokenType:    fresh.Type(),
		Expiry:       fresh.Expiry,
	})
}

// Authenticate verifies a session token.
func (s *AuthService) Authenticate(token string) (session.Identity, error) {
	identity, err := s.sessions.Verify(token)
	if err != nil {
		return session.Identity{}, &Error{Kind: ErrUnauthorized, Message: "Unauthorized."}
	}
	return identity, nil
}

// CurrentUser loads the account a verified session speaks for.
func (s *AuthService) CurrentUser(ctx context.Context, identity session.Identity) (types.User, error) {
	user, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, newError(ErrNotFound, "User not found.")
		}
		return types.User{}, err
	}
	return user, nil
}

// CompleteProfile fills in the profile of the signed-in account. update.Email,
// when set, must name that account.
func (s *AuthService) CompleteProfile(ctx context.Context, identity session.Identity, update ProfileUpdate) (types.User, error) {
	update.Normalize()
	if err := update.Validate(); err != nil {
		return types.User{}, err
	}

	email := update.Email
	if email == "" {
		email = strings.ToLower(identity.Email)
	}
	if email != strings.ToLower(identity.Email) {
		return types.User{}, newError(ErrUnauthorized, "Unauthorized.")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, newError(ErrNotFound, "User not found.")
		}
		return types.User{}, err
	}

	user = update.apply(user)
	if !user.ProfileComplete() {
		return types.User{}, newError(ErrValidation, "Username, contact, address and country are required.")
	}
	if update.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(update.Password), s.bcryptCost)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = string(hash)
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if conflict := conflictError(err); conflict != nil {
			return types.User{}, conflict
		}
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, newError(ErrNotFound, "User not found.")
		}
		s.logger.Error("update profile", zap.String("user_id", user.ID), zap.Error(err))
		return types.User{}, err
	}
	return updated, nil
}

func (s *AuthService) issue(user types.User, isNew bool) (AuthResult, error) {
	token, err := s.sessions.Issue(session.Identity{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
	})
	if err != nil {
		s.logger.Error("issue session", zap.String("user_id", user.ID), zap.Error(err))
		return AuthResult{}, err
	}
	return AuthResult{User: user, Token: token, IsNewUser: isNew}, nil
}

func conflictError(err error) error {
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		return nil
	}
	switch conflict.Field {
	case "username":
		return newError(ErrConflict, "Username already exists.")
	case "email":
		return newError(ErrConflict, "Email already registered.")
	default:
		return newError(ErrConflict, "Account already exists.")
	}
}
