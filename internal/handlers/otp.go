package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/trendly/apiserver/internal/services"
)

// OTPHandler provides the email verification endpoints.
type OTPHandler struct {
	authService *services.AuthService
}

func NewOTPHandler(authService *services.AuthService) *OTPHandler {
	return &OTPHandler{authService: authService}
}

// OTPRouter registers OTP routes on the given router.
func OTPRouter(r chi.Router, authService *services.AuthService) {
	handler := NewOTPHandler(authService)

	r.Post("/send", handler.Send)
	r.Post("/verify", handler.Verify)
}

type OTPSendRequest struct {
	Email string `json:"email"`
}

type OTPVerifyRequest struct {
	Email string  `json:"email"`
	OTP   OTPCode `json:"otp"`
}

// OTPCode accepts the code as a JSON number or a numeric string.
type OTPCode int

func (c *OTPCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return errors.New("otp is required")
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return errors.New("otp must be numeric")
	}
	*c = OTPCode(code)
	return nil
}

type OTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Send issues a challenge and dispatches its code to the address.
func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req OTPSendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, OTPResponse{Error: "Invalid request body."})
		return
	}

	if err := h.authService.SendOTP(r.Context(), req.Email); err != nil {
		writeJSON(w, statusFor(err), OTPResponse{Error: services.Message(err, "Failed to send OTP.")})
		return
	}
	writeJSON(w, http.StatusOK, OTPResponse{Success: true, Message: "OTP sent successfully."})
}

// Verify consumes the pending challenge. Every rejection carries the same message.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req OTPVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, OTPResponse{Error: services.OTPRejectedMessage})
		return
	}

	if err := h.authService.VerifyOTP(r.Context(), req.Email, int(req.OTP)); err != nil {
		status := statusFor(err)
		message := services.OTPRejectedMessage
		if status == http.StatusInternalServerError {
			message = "Failed to verify OTP."
		}
		writeJSON(w, status, OTPResponse{Error: message})
		return
	}
	writeJSON(w, http.StatusOK, OTPResponse{Success: true, Message: "OTP verified successfully."})
}
