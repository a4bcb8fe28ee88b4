package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type Server struct {
	authService *AuthService
	unavailable error
	logger      *slog.Logger
}

func NewServer(authService *AuthService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authService: authService,
		logger:      logger,
	}
}

// NewUnavailableServer answers every auth endpoint with 503. Used when the
// configuration is incomplete.
func NewUnavailableServer(reason error, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		unavailable: reason,
		logger:      logger,
	}
}

func (s *Server) Available() bool {
	return s.authService != nil && s.unavailable == nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.HandleRegister)
	mux.HandleFunc("/verify", s.HandleVerify)
	mux.HandleFunc("/signin", s.HandleSignin)
	mux.HandleFunc("/signout", s.HandleSignout)
	mux.HandleFunc("/token", s.HandleToken)
	mux.HandleFunc("/token/refresh", s.HandleTokenRefresh)
	mux.HandleFunc("/userinfo", s.HandleUserInfo)
	mux.HandleFunc("/health", s.HandleHealth)
	return s.withRequestID(mux)
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) || !s.checkAvailable(w) {
		return
	}

	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.authService.Register(r.Context(), RegisterRequest{
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.Password2,
	})
	if err != nil {
		s.respondFlowError(w, r, "registration_failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) || !s.checkAvailable(w) {
		return
	}

	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.authService.Verify(r.Context(), req.Email, req.Code); err != nil {
		s.respondFlowError(w, r, "verification_failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "verified",
	})
}

func (s *Server) HandleSignin(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) || !s.checkAvailable(w) {
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := s.authService.SignIn(r.Context(), req.Email, req.Password); err != nil {
		s.respondFlowError(w, r, "login_failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "signed_in",
	})
}

func (s *Server) HandleSignout(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) || !s.checkAvailable(w) {
		return
	}

	if err := s.authService.SignOut(r.Context()); err != nil {
		s.logger.Error("sign-out failed", "request_id", requestID(r), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to sign out")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "signed_out",
	})
}

func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) || !s.checkAvailable(w) {
		return
	}

	token, ok, err := s.authService.CurrentToken(r.Context())
	s.respondToken(w, r, token, ok, err)
}

func (s *Server) HandleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) || !s.checkAvailable(w) {
		return
	}

	token, ok, err := s.authService.RefreshToken(r.Context())
	s.respondToken(w, r, token, ok, err)
}

func (s *Server) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) || !s.checkAvailable(w) {
		return
	}

	claims, err := s.authService.UserInfo(r.Context())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrInvalidToken) {
			respondError(w, http.StatusUnauthorized, "no_session", "No active session")
			return
		}
		s.respondFlowError(w, r, "internal_error", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sub":            claims.Subject,
		"username":       claims.Username,
		"email":          claims.Email,
		"email_verified": claims.EmailVerified,
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.Available() {
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

func (s *Server) checkAvailable(w http.ResponseWriter) bool {
	if s.Available() {
		return true
	}
	respondError(w, http.StatusServiceUnavailable, "auth_unavailable", "Authentication is not configured")
	return false
}

func (s *Server) respondToken(w http.ResponseWriter, r *http.Request, token string, ok bool, err error) {
	if err != nil {
		s.respondFlowError(w, r, "internal_error", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no_session", "No active session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token": token,
	})
}

// respondFlowError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondFlowError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrLocalValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ErrSessionRetrieval):
		s.logger.Error("session retrieval failed", "request_id", requestID(r), "error", err)
		respondError(w, http.StatusBadGateway, "session_unavailable", "Failed to retrieve session")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "provider_timeout", "Identity provider did not respond")
	case errors.As(err, &perr):
		status := providerStatus(perr.Code)
		if status >= http.StatusInternalServerError {
			s.logger.Error("provider failure", "request_id", requestID(r), "code", perr.Code, "error", err)
		}
		respondError(w, status, fallback, perr.Error())
	default:
		s.logger.Error("request failed", "request_id", requestID(r), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}

func providerStatus(code string) int {
	switch code {
	case CodeNotAuthorized, CodeChallengeRequired:
		return http.StatusUnauthorized
	case CodeUserNotConfirmed:
		return http.StatusForbidden
	case CodeUserNotFound:
		return http.StatusNotFound
	case CodeUsernameExists, CodeAliasExists:
		return http.StatusConflict
	case CodeInvalidPassword, CodeInvalidParameter, CodeCodeMismatch, CodeExpiredCode:
		return http.StatusBadRequest
	case CodeTooManyRequests, CodeLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(contextWithRequestID(r.Context(), id)))
	})
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func validateMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
