package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trendly/apiserver/internal/services"
)

// AuthHandler provides the password signup and login endpoints.
type AuthHandler struct {
	authService *services.AuthService
	cookies     Cookies
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, cookies Cookies) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, cookies Cookies) {
	handler := NewAuthHandler(authService, cookies)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
}

// Signup creates a password account and signs it in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req services.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Message: "Invalid request body."})
		return
	}

	result, err := h.authService.Signup(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	h.cookies.set(w, result.Token)
	writeJSON(w, http.StatusCreated, newAuthResponse(result))
}

// Login verifies a username and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Message: "Invalid request body."})
		return
	}

	result, err := h.authService.Login(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	h.cookies.set(w, result.Token)
	writeJSON(w, http.StatusOK, newAuthResponse(result))
}

type AuthResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Youtube string `json:"youtube"`
	Token   string `json:"token"`
}

func newAuthResponse(result services.AuthResult) AuthResponse {
	return AuthResponse{
		Success: true,
		UserID:  result.User.ID,
		Name:    result.User.Name,
		Youtube: result.User.Youtube,
		Token:   result.Token,
	}
}
