package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trendly/apiserver/internal/oauth"
	"github.com/trendly/apiserver/internal/services"
	"go.uber.org/zap"
)

const (
	stateCookieName = "oauth_state"
	stateCookiePath = "/oauth"
	stateTTL        = 10 * time.Minute
)

// Redirect error codes appended to the frontend login page.
const (
	errCodeUnavailable  = "provider_unavailable"
	errCodeDenied       = "access_denied"
	errCodeInvalidState = "invalid_state"
	errCodeMissingCode  = "missing_code"
	errCodeFederation   = "federation_failed"
	errCodeServer       = "server_error"
)

// OAuthHandler provides federated login, profile completion and session endpoints.
type OAuthHandler struct {
	authService *services.AuthService
	cookies     Cookies
	frontendURL string
	logger      *zap.Logger
}

func NewOAuthHandler(authService *services.AuthService, cookies Cookies, frontendURL string, logger *zap.Logger) *OAuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthHandler{
		authService: authService,
		cookies:     cookies,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// OAuthRouter registers the federation and session routes on the given router.
func OAuthRouter(r chi.Router, authService *services.AuthService, cookies Cookies, frontendURL string, logger *zap.Logger) {
	handler := NewOAuthHandler(authService, cookies, frontendURL, logger)
	requireSession := RequireSession(authService)

	r.Get("/user/login/google", handler.Login)
	r.Get("/user/login/google/callback", handler.Callback)
	r.Get("/user/logout", handler.Logout)
	r.With(requireSession).Put("/userinfo", handler.UpdateUserInfo)
	r.With(requireSession).Get("/me", handler.Me)
	r.With(requireSession).Post("/token/refresh", handler.RefreshToken)
}

// Login redirects to the provider consent page with a fresh state bound to a cookie.
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.authService.FederationEnabled() {
		h.redirectError(w, r, errCodeUnavailable)
		return
	}

	state, err := oauth.NewState()
	if err != nil {
		h.logger.Error("generate oauth state", zap.Error(err))
		h.redirectError(w, r, errCodeServer)
		return
	}
	target, err := h.authService.AuthCodeURL(state)
	if err != nil {
		h.redirectError(w, r, errCodeUnavailable)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   int(stateTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes the provider round trip and hands the session token to the frontend.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	expected := ""
	if cookie, err := r.Cookie(stateCookieName); err == nil {
		expected = cookie.Value
	}
	h.clearState(w)

	if query.Get("error") != "" {
		h.redirectError(w, r, errCodeDenied)
		return
	}
	state := query.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		h.redirectError(w, r, errCodeInvalidState)
		return
	}
	code := query.Get("code")
	if code == "" {
		h.redirectError(w, r, errCodeMissingCode)
		return
	}

	result, err := h.authService.FederatedLogin(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrProviderUnavailable):
			h.redirectError(w, r, errCodeUnavailable)
		case errors.Is(err, services.ErrFederationFailed):
			h.redirectError(w, r, errCodeFederation)
		default:
			h.redirectError(w, r, errCodeServer)
		}
		return
	}

	h.cookies.set(w, result.Token)
	page := "/dashboard"
	if result.IsNewUser {
		page = "/complete-profile"
	}
	http.Redirect(w, r, h.frontendURL+page+"#token="+url.QueryEscape(result.Token), http.StatusFound)
}

type UserInfoRequest struct {
	Data services.ProfileUpdate `json:"data"`
}

type UserInfoResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// UpdateUserInfo completes the profile of the signed-in account.
func (h *OAuthHandler) UpdateUserInfo(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Message: "Unauthorized."})
		return
	}

	var req UserInfoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Message: "Invalid request body."})
		return
	}

	user, err := h.authService.CompleteProfile(r.Context(), identity, req.Data)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserInfoResponse{
		Success: true,
		Message: "Profile updated successfully.",
		UserID:  user.ID,
	})
}

type MeUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Youtube  string `json:"youtube"`
}

type MeResponse struct {
	Success bool   `json:"success"`
	User    MeUser `json:"user"`
}

// Me returns the account behind the session token.
func (h *OAuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Message: "Unauthorized."})
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), identity)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		Success: true,
		User: MeUser{
			ID:       user.ID,
			Name:     user.Name,
			Email:    user.Email,
			Username: user.Username,
			Youtube:  user.Youtube,
		},
	})
}

// Logout clears the session cookie. Issued tokens stay valid until they expire.
func (h *OAuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.cookies.clear(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type RefreshResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RefreshToken refreshes the stored provider token of the signed-in account.
func (h *OAuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Message: "Unauthorized."})
		return
	}

	token, err := h.authService.RefreshProviderToken(r.Context(), identity.UserID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Success: true, ExpiresAt: token.Expiry})
}

func (h *OAuthHandler) clearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.frontendURL+"/login?error="+url.QueryEscape(code), http.StatusFound)
}
