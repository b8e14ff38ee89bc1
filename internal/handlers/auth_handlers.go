package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chartmaker/chartmaker/internal/middleware"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
	maxBodyBytes         = 1 << 16
)

type AuthHandlers struct {
	auth      *service.AuthService
	validator *RequestValidator
	logger    *logrus.Logger
}

func NewAuthHandlers(auth *service.AuthService, validator *RequestValidator, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		auth:      auth,
		validator: validator,
		logger:    logger,
	}
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"max=100"`
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"required,password"`
}

type RegisterResponse struct {
	AccountID      string     `json:"account_id"`
	VerifyWith     string     `json:"verify_with"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	DeliveryFailed bool       `json:"delivery_failed"`
	Message        string     `json:"message"`
}

type RequestCodeRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Channel   string `json:"channel" validate:"required,oneof=mobile email"`
}

type CodeSentResponse struct {
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

type VerifyCodeRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Channel   string `json:"channel" validate:"required,oneof=mobile email"`
	Code      string `json:"code" validate:"required,otp"`
}

type VerifyCodeResponse struct {
	Verified          bool                 `json:"verified"`
	FullyVerified     bool                 `json:"fully_verified"`
	VerificationState string               `json:"verification_state"`
	PendingChannels   []models.ChannelKind `json:"pending_channels"`
	Session           *models.SessionToken `json:"session,omitempty"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=72"`
}

type SessionResponse struct {
	Token     string          `json:"token"`
	TokenType string          `json:"token_type"`
	ExpiresAt time.Time       `json:"expires_at"`
	ExpiresIn int64           `json:"expires_in"`
	Account   *models.Account `json:"account,omitempty"`
}

type ForgotPasswordRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Channel    string `json:"channel" validate:"omitempty,oneof=mobile email"`
}

type ResetPasswordRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=254"`
	Channel     string `json:"channel" validate:"omitempty,oneof=mobile email"`
	Code        string `json:"code" validate:"required,otp"`
	NewPassword string `json:"new_password" validate:"required,password"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.auth.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	}, clientInfo(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	resp := RegisterResponse{
		AccountID:      result.Account.ID,
		VerifyWith:     result.Channel.String(),
		DeliveryFailed: result.DeliveryFailed,
		Message:        "Account created. Enter the code we sent to verify it.",
	}
	if result.DeliveryFailed {
		resp.Message = "Account created, but we could not send a verification code. Please request a new code."
	} else {
		resp.ExpiresAt = &result.ExpiresAt
	}

	h.respondWithJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandlers) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	channel, _ := models.ParseChannelKind(req.Channel)

	sent, err := h.auth.RequestCode(r.Context(), req.AccountID, channel, clientInfo(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, codeSentResponse(sent))
}

func (h *AuthHandlers) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	channel, _ := models.ParseChannelKind(req.Channel)

	result, err := h.auth.SubmitCode(r.Context(), req.AccountID, channel, req.Code, clientInfo(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	pending := result.Account.PendingChannels()
	if pending == nil {
		pending = []models.ChannelKind{}
	}
	h.respondWithJSON(w, http.StatusOK, VerifyCodeResponse{
		Verified:          true,
		FullyVerified:     result.FullyVerified,
		VerificationState: string(result.Account.VerificationState()),
		PendingChannels:   pending,
		Session:           result.Session,
	})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Identifier, req.Password, clientInfo(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	if result.VerificationRequired {
		h.respondWithJSON(w, statusFor(service.ReasonVerificationRequired), ErrorResponse{
			Error: ErrorDetail{
				Code:    string(service.ReasonVerificationRequired),
				Message: "Please verify your account before logging in.",
				Details: map[string]any{
					"account_id":       result.AccountID,
					"pending_channels": result.Pending,
				},
			},
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, sessionResponse(result.Session, result.Account))
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	channel, _ := models.ParseChannelKind(req.Channel)

	sent, err := h.auth.ForgotPassword(r.Context(), req.Identifier, channel, clientInfo(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, codeSentResponse(sent))
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	channel, _ := models.ParseChannelKind(req.Channel)

	session, err := h.auth.ResetPassword(r.Context(), req.Identifier, channel, req.Code, req.NewPassword, clientInfo(r))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, sessionResponse(session, nil))
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	if err := h.auth.Logout(r.Context(), claims); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	account, err := h.auth.Profile(r.Context(), claims.Subject)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, account)
}

func (h *AuthHandlers) MyActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	activities, err := h.auth.RecentActivity(r.Context(), claims.Subject, limit)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}

	h.respondWithJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// decode reads and validates a JSON body, answering the request itself when
// either step fails.
func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.WithError(err).Debug("Failed to decode request body")
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}

	if err := h.validator.Validate(dst); err != nil {
		var fields ValidationError
		if errors.As(err, &fields) {
			details := make(map[string]any, len(fields))
			for k, v := range fields {
				details[k] = v
			}
			h.respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: "Request validation failed",
					Details: details,
				},
			})
			return false
		}
		h.logger.WithError(err).Error("Request validation errored")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return false
	}

	return true
}

// respondWithServiceError maps expected outcomes to their status and hides
// everything else behind a generic 500.
func (h *AuthHandlers) respondWithServiceError(w http.ResponseWriter, err error) {
	e, ok := service.AsError(err)
	if !ok {
		h.logger.WithError(err).Error("Request failed")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	detail := ErrorDetail{Code: string(e.Reason), Message: e.Message}
	switch e.Reason {
	case service.ReasonInvalidOTP:
		detail.Details = map[string]any{"remaining_attempts": e.RemainingAttempts}
	case service.ReasonResendThrottled:
		seconds := int(math.Ceil(e.RetryAfter.Seconds()))
		detail.Details = map[string]any{
			"reason":      string(e.Throttle),
			"retry_after": seconds,
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	h.respondWithJSON(w, statusFor(e.Reason), ErrorResponse{Error: detail})
}

func statusFor(reason service.Reason) int {
	switch reason {
	case service.ReasonNotFound:
		return http.StatusNotFound
	case service.ReasonAccountDeactivated, service.ReasonVerificationRequired:
		return http.StatusForbidden
	case service.ReasonInvalidCredentials, service.ReasonSessionRevoked:
		return http.StatusUnauthorized
	case service.ReasonNoChallenge, service.ReasonInvalidOTP, service.ReasonChannelUnavailable, service.ReasonInvalidInput:
		return http.StatusBadRequest
	case service.ReasonExpired:
		return http.StatusGone
	case service.ReasonTooManyAttempts, service.ReasonResendThrottled:
		return http.StatusTooManyRequests
	case service.ReasonDeliveryFailed:
		return http.StatusBadGateway
	case service.ReasonUsernameTaken, service.ReasonEmailTaken, service.ReasonPhoneTaken:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func codeSentResponse(sent *service.CodeSent) CodeSentResponse {
	return CodeSentResponse{
		Message:   "Verification code sent",
		Channel:   sent.Channel.String(),
		ExpiresAt: sent.ExpiresAt,
		ExpiresIn: int64(math.Max(0, time.Until(sent.ExpiresAt).Seconds())),
	}
}

func sessionResponse(session *models.SessionToken, account *models.Account) SessionResponse {
	return SessionResponse{
		Token:     session.Token,
		TokenType: session.TokenType,
		ExpiresAt: session.ExpiresAt,
		ExpiresIn: session.ExpiresIn,
		Account:   account,
	}
}

// clientInfo prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientInfo(r *http.Request) service.ClientInfo {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip == "" {
		ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
	}
	return service.ClientInfo{IPAddress: ip, UserAgent: r.UserAgent()}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
