package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/services"
)

type stubUserService struct {
	signUpFn          func(ctx context.Context, cmd services.SignUpCommand) (services.AuthSession, error)
	signInFn          func(ctx context.Context, cmd services.SignInCommand) (services.AuthSession, error)
	profileFn         func(ctx context.Context, userID string) (domain.User, error)
	updateProfileFn   func(ctx context.Context, cmd services.UpdateProfileCommand) (domain.User, error)
	listUsersFn       func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error)
	adminUpdateUserFn func(ctx context.Context, cmd services.AdminUpdateUserCommand) (domain.User, error)
	deleteUserFn      func(ctx context.Context, userID string) error
	changePasswordFn  func(ctx context.Context, cmd services.ChangePasswordCommand) error
	forgotPasswordFn  func(ctx context.Context, cmd services.ForgotPasswordCommand) error
	resetPasswordFn   func(ctx context.Context, cmd services.ResetPasswordCommand) error
}

func (s *stubUserService) UpdateProfile(ctx context.Context, cmd services.UpdateProfileCommand) (domain.User, error) {
	if s.updateProfileFn != nil {
		return s.updateProfileFn(ctx, cmd)
	}
	return domain.User{}, nil
}

func (s *stubUserService) ListUsers(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error) {
	if s.listUsersFn != nil {
		return s.listUsersFn(ctx, pager)
	}
	return domain.CursorPage[domain.User]{}, nil
}

func (s *stubUserService) AdminUpdateUser(ctx context.Context, cmd services.AdminUpdateUserCommand) (domain.User, error) {
	if s.adminUpdateUserFn != nil {
		return s.adminUpdateUserFn(ctx, cmd)
	}
	return domain.User{}, nil
}

func (s *stubUserService) DeleteUser(ctx context.Context, userID string) error {
	if s.deleteUserFn != nil {
		return s.deleteUserFn(ctx, userID)
	}
	return nil
}

func (s *stubUserService) SignUp(ctx context.Context, cmd services.SignUpCommand) (services.AuthSession, error) {
	if s.signUpFn != nil {
		return s.signUpFn(ctx, cmd)
	}
	return services.AuthSession{}, nil
}

func (s *stubUserService) SignIn(ctx context.Context, cmd services.SignInCommand) (services.AuthSession, error) {
	if s.signInFn != nil {
		return s.signInFn(ctx, cmd)
	}
	return services.AuthSession{}, nil
}

func (s *stubUserService) Profile(ctx context.Context, userID string) (domain.User, error) {
	if s.profileFn != nil {
		return s.profileFn(ctx, userID)
	}
	return domain.User{}, nil
}

func (s *stubUserService) ChangePassword(ctx context.Context, cmd services.ChangePasswordCommand) error {
	if s.changePasswordFn != nil {
		return s.changePasswordFn(ctx, cmd)
	}
	return nil
}

func (s *stubUserService) ForgotPassword(ctx context.Context, cmd services.ForgotPasswordCommand) error {
	if s.forgotPasswordFn != nil {
		return s.forgotPasswordFn(ctx, cmd)
	}
	return nil
}

func (s *stubUserService) ResetPassword(ctx context.Context, cmd services.ResetPasswordCommand) error {
	if s.resetPasswordFn != nil {
		return s.resetPasswordFn(ctx, cmd)
	}
	return nil
}

func TestAuthHandlersSignUpSuccess(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var captured services.SignUpCommand
	users := &stubUserService{
		signUpFn: func(ctx context.Context, cmd services.SignUpCommand) (services.AuthSession, error) {
			captured = cmd
			return services.AuthSession{
				Token:     "token-user-1",
				ExpiresAt: now.Add(72 * time.Hour),
				User: domain.User{
					ID:        "user-1",
					Name:      "Asha Rao",
					Email:     "asha@example.com",
					Role:      domain.RoleUser,
					CreatedAt: now,
					UpdatedAt: now,
				},
			}, nil
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"name":"Asha Rao","email":"asha@example.com","password":"correct horse"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Email != "asha@example.com" || captured.Password != "correct horse" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var payload authSessionPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Token != "token-user-1" {
		t.Fatalf("expected token token-user-1, got %s", payload.Token)
	}
	if payload.User.ID != "user-1" || payload.User.Role != "user" {
		t.Fatalf("unexpected user payload: %+v", payload.User)
	}
}

func TestAuthHandlersSignUpConflict(t *testing.T) {
	users := &stubUserService{
		signUpFn: func(ctx context.Context, cmd services.SignUpCommand) (services.AuthSession, error) {
			return services.AuthSession{}, services.ErrUserEmailTaken
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"name":"Asha","email":"asha@example.com","password":"secret123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "email_taken" {
		t.Fatalf("expected email_taken, got %s", envelope.Error)
	}
}

func TestAuthHandlersSignInBadCredentials(t *testing.T) {
	users := &stubUserService{
		signInFn: func(ctx context.Context, cmd services.SignInCommand) (services.AuthSession, error) {
			return services.AuthSession{}, services.ErrUserBadCredentials
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"email":"asha@example.com","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", envelope.Error)
	}
}

func TestAuthHandlersSignInRateLimited(t *testing.T) {
	users := &stubUserService{
		signInFn: func(ctx context.Context, cmd services.SignInCommand) (services.AuthSession, error) {
			return services.AuthSession{Token: "token-user-1"}, nil
		},
	}

	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time {
		return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	})
	handler := NewAuthHandlers(nil, users, WithAuthRateLimiter(limiter))
	router := NewRouter(WithAuthRoutes(handler.Routes))

	send := func() *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"email":"asha@example.com","password":"secret123"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", body)
		req.RemoteAddr = "203.0.113.7:4242"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	if resp := send(); resp.Code != http.StatusOK {
		t.Fatalf("expected first attempt to pass, got %d", resp.Code)
	}
	resp := send()
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "rate_limited" {
		t.Fatalf("expected rate_limited, got %s", envelope.Error)
	}
}

func TestAuthHandlersMeRequiresIdentity(t *testing.T) {
	handler := NewAuthHandlers(nil, &stubUserService{})
	router := NewRouter(WithAuthRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthHandlersMeReturnsProfile(t *testing.T) {
	users := &stubUserService{
		profileFn: func(ctx context.Context, userID string) (domain.User, error) {
			if userID != "user-1" {
				t.Fatalf("expected user-1, got %s", userID)
			}
			return domain.User{ID: "user-1", Name: "Asha Rao", Email: "asha@example.com", Role: domain.RoleUser}, nil
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Role: auth.RoleUser}))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload userPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.ID != "user-1" || payload.Email != "asha@example.com" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAuthHandlersUpdateProfile(t *testing.T) {
	var captured services.UpdateProfileCommand
	users := &stubUserService{
		updateProfileFn: func(ctx context.Context, cmd services.UpdateProfileCommand) (domain.User, error) {
			captured = cmd
			return domain.User{ID: cmd.UserID, Name: cmd.Name, Email: cmd.Email, Role: domain.RoleUser}, nil
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"name":"Asha Rao","email":"asha@example.com"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/auth/me", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Role: auth.RoleUser}))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.UserID != "user-1" || captured.Name != "Asha Rao" || captured.Email != "asha@example.com" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var payload userPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Name != "Asha Rao" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAuthHandlersChangePasswordPropagatesIdentity(t *testing.T) {
	var captured services.ChangePasswordCommand
	users := &stubUserService{
		changePasswordFn: func(ctx context.Context, cmd services.ChangePasswordCommand) error {
			captured = cmd
			return nil
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"old_password":"old secret","new_password":"new secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Role: auth.RoleUser}))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if captured.UserID != "user-1" || captured.OldPassword != "old secret" || captured.NewPassword != "new secret" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestAuthHandlersForgotPasswordHidesUnknownAccounts(t *testing.T) {
	users := &stubUserService{
		forgotPasswordFn: func(ctx context.Context, cmd services.ForgotPasswordCommand) error {
			return services.ErrUserNotFound
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"email":"nobody@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown account, got %d", resp.Code)
	}
}

func TestAuthHandlersResetPasswordInvalidToken(t *testing.T) {
	users := &stubUserService{
		resetPasswordFn: func(ctx context.Context, cmd services.ResetPasswordCommand) error {
			return services.ErrUserResetTokenInvalid
		},
	}

	handler := NewAuthHandlers(nil, users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"token":"deadbeef","new_password":"new secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/reset-password", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "reset_token_invalid" {
		t.Fatalf("expected reset_token_invalid, got %s", envelope.Error)
	}
}

type stubTokenVerifier struct {
	verifyFn func(tokenStr string) (*auth.Identity, error)
}

func (s *stubTokenVerifier) Verify(tokenStr string) (*auth.Identity, error) {
	if s.verifyFn != nil {
		return s.verifyFn(tokenStr)
	}
	return nil, auth.ErrTokenInvalid
}

func TestAuthHandlersMeWithBearerToken(t *testing.T) {
	users := &stubUserService{
		profileFn: func(ctx context.Context, userID string) (domain.User, error) {
			return domain.User{ID: userID, Email: "asha@example.com", Role: domain.RoleUser}, nil
		},
	}
	verifier := &stubTokenVerifier{
		verifyFn: func(tokenStr string) (*auth.Identity, error) {
			if tokenStr != "valid-token" {
				return nil, auth.ErrTokenInvalid
			}
			return &auth.Identity{UID: "user-1", Role: auth.RoleUser}, nil
		},
	}

	handler := NewAuthHandlers(auth.NewAuthenticator(verifier), users)
	router := NewRouter(WithAuthRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	resp = httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bad token, got %d", resp.Code)
	}
}

func TestAuthHandlersSessionCookieLifecycle(t *testing.T) {
	users := &stubUserService{
		signInFn: func(ctx context.Context, cmd services.SignInCommand) (services.AuthSession, error) {
			return services.AuthSession{
				Token:     "token-cookie-1",
				ExpiresAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
				User:      domain.User{ID: "user-1", Email: "asha@example.com", Role: domain.RoleUser},
			}, nil
		},
	}

	handler := NewAuthHandlers(nil, users, WithAuthRateLimiter(nil))
	router := NewRouter(WithAuthRoutes(handler.Routes))

	signin := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":"asha@example.com","password":"pw"}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, signin)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	cookies := resp.Result().Cookies()
	var session *http.Cookie
	for _, c := range cookies {
		if c.Name == "token" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected token cookie on signin")
	}
	if session.Value != "token-cookie-1" || !session.HttpOnly {
		t.Fatalf("unexpected cookie: %+v", session)
	}

	signout := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, signout)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 on signout, got %d", resp.Code)
	}
	session = nil
	for _, c := range resp.Result().Cookies() {
		if c.Name == "token" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected token cookie cleared on signout")
	}
	if session.Value != "" || session.MaxAge >= 0 {
		t.Fatalf("expected expired empty cookie, got %+v", session)
	}
}
