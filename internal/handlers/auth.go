package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/httpx"
	"github.com/threadcart/api/internal/services"
)

// AuthHandlers exposes account lifecycle endpoints: signup, signin, profile,
// and the password management flows.
type AuthHandlers struct {
	authn        *auth.Authenticator
	users        services.UserService
	limiter      rateLimiter
	resetBaseURL string
}

// AuthHandlersOption customises the handler set.
type AuthHandlersOption func(*AuthHandlers)

// WithAuthRateLimiter applies a per-client limiter to the credential
// endpoints (signin and forgot-password).
func WithAuthRateLimiter(limiter rateLimiter) AuthHandlersOption {
	return func(h *AuthHandlers) {
		h.limiter = limiter
	}
}

// WithResetBaseURL overrides the frontend URL reset tokens are appended to.
func WithResetBaseURL(url string) AuthHandlersOption {
	return func(h *AuthHandlers) {
		h.resetBaseURL = url
	}
}

// NewAuthHandlers wires the user service into the account endpoints.
func NewAuthHandlers(authn *auth.Authenticator, users services.UserService, opts ...AuthHandlersOption) *AuthHandlers {
	h := &AuthHandlers{
		authn:        authn,
		users:        users,
		limiter:      newSimpleRateLimiter(10, time.Minute, nil),
		resetBaseURL: "https://shop.example.com/reset-password/",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the account endpoints on the provided router.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/signup", h.signUp)
	r.Post("/signin", h.signIn)
	r.Post("/signout", h.signOut)
	r.Post("/forgot-password", h.forgotPassword)
	r.Post("/reset-password", h.resetPassword)

	r.Group(func(priv chi.Router) {
		if h.authn != nil {
			priv.Use(h.authn.RequireAuth())
		}
		priv.Get("/me", h.me)
		priv.Put("/me", h.updateProfile)
		priv.Post("/change-password", h.changePassword)
	})
}

type userPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildUserPayload(user domain.User) userPayload {
	return userPayload{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		CreatedAt: formatTime(user.CreatedAt),
		UpdatedAt: formatTime(user.UpdatedAt),
	}
}

type authSessionPayload struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at,omitempty"`
	User      userPayload `json:"user"`
}

func buildAuthSessionPayload(session services.AuthSession) authSessionPayload {
	return authSessionPayload{
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		User:      buildUserPayload(session.User),
	}
}

// sessionCookieName matches the cookie the auth middleware falls back to
// when no bearer header is present.
const sessionCookieName = "token"

func setSessionCookie(w http.ResponseWriter, session services.AuthSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) signUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req signUpRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.users.SignUp(ctx, services.SignUpCommand{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	setSessionCookie(w, session)
	writeJSONResponse(w, http.StatusCreated, buildAuthSessionPayload(session))
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many attempts, retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req signInRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.users.SignIn(ctx, services.SignInCommand{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	setSessionCookie(w, session)
	writeJSONResponse(w, http.StatusOK, buildAuthSessionPayload(session))
}

// signOut clears the session cookie. Bearer clients simply discard their token.
func (h *AuthHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w)
	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	user, err := h.users.Profile(ctx, identity.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateProfileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	user, err := h.users.UpdateProfile(ctx, services.UpdateProfileCommand{
		UserID: identity.UID,
		Name:   req.Name,
		Email:  req.Email,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req changePasswordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	err = h.users.ChangePassword(ctx, services.ChangePasswordCommand{
		UserID:      identity.UID,
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many attempts, retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req forgotPasswordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	err = h.users.ForgotPassword(ctx, services.ForgotPasswordCommand{
		Email:        req.Email,
		ResetBaseURL: h.resetBaseURL,
	})
	if err != nil && !errors.Is(err, services.ErrUserNotFound) {
		writeUserError(ctx, w, err)
		return
	}

	// Unknown addresses get the same response so the endpoint cannot be
	// used to probe for accounts.
	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req resetPasswordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	err = h.users.ResetPassword(ctx, services.ResetPasswordCommand{
		Token:       req.Token,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserBadCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password incorrect", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "email already registered", http.StatusConflict))
	case errors.Is(err, services.ErrUserResetTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("reset_token_invalid", "reset token invalid or expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_operation_failed", "unable to complete the request", http.StatusInternalServerError))
	}
}
