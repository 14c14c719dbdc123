package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/mail"
	"github.com/threadcart/api/internal/repositories"
)

const (
	bcryptCost          = 10
	resetTokenBytes     = 20
	resetTokenValidity  = 20 * time.Minute
	maxPasswordLength   = 72 // bcrypt input limit
	minPasswordLength   = 8
	defaultResetBaseURL = "/reset-password"
)

var (
	// ErrUserInvalidInput indicates missing or malformed account fields.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserEmailTaken indicates the email is already registered.
	ErrUserEmailTaken = errors.New("user: email already registered")
	// ErrUserNotFound indicates the account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserBadCredentials covers both unknown email and wrong password on signin.
	ErrUserBadCredentials = errors.New("user: invalid credentials")
	// ErrUserResetTokenInvalid indicates the reset token is unknown, expired, or already used.
	ErrUserResetTokenInvalid = errors.New("user: reset token invalid or expired")
)

// TokenIssuer mints signed access tokens for authenticated sessions.
type TokenIssuer interface {
	Issue(uid, email, role string) (string, time.Time, error)
}

// UserServiceDeps bundles collaborators required to construct a user service.
type UserServiceDeps struct {
	Users  repositories.UserRepository
	Tokens TokenIssuer
	Mailer mail.Sender
	// Jobs delivers reset mail off the request path; nil sends synchronously.
	Jobs        BackgroundJobDispatcher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	tokens TokenIssuer
	mailer mail.Sender
	jobs   BackgroundJobDispatcher
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ UserService = (*userService)(nil)

// NewUserService constructs the user service. Mailer may be nil; forgot
// password then only records the token.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service: token issuer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users:  deps.Users,
		tokens: deps.Tokens,
		mailer: deps.Mailer,
		jobs:   deps.Jobs,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *userService) SignUp(ctx context.Context, cmd SignUpCommand) (AuthSession, error) {
	name := strings.TrimSpace(cmd.Name)
	email := strings.TrimSpace(cmd.Email)
	if name == "" {
		return AuthSession{}, fmt.Errorf("%w: name is required", ErrUserInvalidInput)
	}
	if !validEmail(email) {
		return AuthSession{}, fmt.Errorf("%w: a valid email is required", ErrUserInvalidInput)
	}
	if err := validatePassword(cmd.Password); err != nil {
		return AuthSession{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcryptCost)
	if err != nil {
		return AuthSession{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock()
	user := domain.User{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		if isRepoConflict(err) {
			return AuthSession{}, fmt.Errorf("%w: %s", ErrUserEmailTaken, email)
		}
		return AuthSession{}, err
	}

	s.logger(ctx, "user_signed_up", map[string]any{"userId": user.ID})
	return s.session(user)
}

func (s *userService) SignIn(ctx context.Context, cmd SignInCommand) (AuthSession, error) {
	email := strings.TrimSpace(cmd.Email)
	if email == "" || cmd.Password == "" {
		return AuthSession{}, ErrUserBadCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isRepoNotFound(err) {
			return AuthSession{}, ErrUserBadCredentials
		}
		return AuthSession{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)) != nil {
		return AuthSession{}, ErrUserBadCredentials
	}
	return s.session(user)
}

func (s *userService) Profile(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return domain.User{}, err
	}
	return user, nil
}

// UpdateProfile applies name and email edits to an existing account.
// Email changes re-check uniqueness against other accounts.
func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (domain.User, error) {
	return s.applyAccountUpdate(ctx, cmd.UserID, cmd.Name, cmd.Email, "")
}

func (s *userService) ListUsers(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error) {
	return s.users.List(ctx, pager)
}

func (s *userService) AdminUpdateUser(ctx context.Context, cmd AdminUpdateUserCommand) (domain.User, error) {
	role := strings.TrimSpace(cmd.Role)
	if role != "" {
		switch domain.Role(role) {
		case domain.RoleUser, domain.RoleModerator, domain.RoleAdmin:
		default:
			return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, role)
		}
	}
	return s.applyAccountUpdate(ctx, cmd.UserID, cmd.Name, cmd.Email, role)
}

func (s *userService) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return err
	}
	s.logger(ctx, "user_deleted", map[string]any{"userId": userID})
	return nil
}

func (s *userService) applyAccountUpdate(ctx context.Context, userID, name, email, role string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return domain.User{}, err
	}

	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}
	if email = strings.TrimSpace(email); email != "" && !strings.EqualFold(email, user.Email) {
		if !validEmail(email) {
			return domain.User{}, fmt.Errorf("%w: a valid email is required", ErrUserInvalidInput)
		}
		existing, err := s.users.FindByEmail(ctx, email)
		if err == nil && existing.ID != user.ID {
			return domain.User{}, fmt.Errorf("%w: %s", ErrUserEmailTaken, email)
		}
		if err != nil && !isRepoNotFound(err) {
			return domain.User{}, err
		}
		user.Email = email
	}
	if role != "" {
		user.Role = domain.Role(role)
	}

	user.UpdatedAt = s.clock()
	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, err
	}
	s.logger(ctx, "user_updated", map[string]any{"userId": user.ID})
	return user, nil
}

func (s *userService) ChangePassword(ctx context.Context, cmd ChangePasswordCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if err := validatePassword(cmd.NewPassword); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.OldPassword)) != nil {
		return ErrUserBadCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.NewPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = s.clock()
	return s.users.Update(ctx, user)
}

// ForgotPassword issues a single-use reset token and mails the reset link.
// It reports success whether or not the email is registered.
func (s *userService) ForgotPassword(ctx context.Context, cmd ForgotPasswordCommand) error {
	email := strings.TrimSpace(cmd.Email)
	if !validEmail(email) {
		return fmt.Errorf("%w: a valid email is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isRepoNotFound(err) {
			// No account enumeration: behave identically for unknown emails.
			return nil
		}
		return err
	}

	token, tokenHash, err := newResetToken()
	if err != nil {
		return err
	}
	now := s.clock()
	expires := now.Add(resetTokenValidity)
	user.ResetTokenHash = tokenHash
	user.ResetTokenExpires = &expires
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	baseURL := strings.TrimSpace(cmd.ResetBaseURL)
	if baseURL == "" {
		baseURL = defaultResetBaseURL
	}
	resetURL := strings.TrimRight(baseURL, "/") + "/" + token
	msg := mail.PasswordResetMessage(user.Email, user.Name, resetURL)

	if s.mailer == nil {
		s.logger(ctx, "reset_mail_skipped", map[string]any{"userId": user.ID})
		return nil
	}
	send := func(ctx context.Context) error { return s.mailer.Send(ctx, msg) }
	if s.jobs != nil {
		if _, err := s.jobs.Enqueue(ctx, BackgroundTask{Name: "password_reset_mail", Run: send}); err != nil {
			s.logger(ctx, "reset_mail_enqueue_failed", map[string]any{"userId": user.ID, "error": err.Error()})
		}
		return nil
	}
	if err := send(ctx); err != nil {
		s.logger(ctx, "reset_mail_send_failed", map[string]any{"userId": user.ID, "error": err.Error()})
	}
	return nil
}

// ResetPassword consumes a reset token: the stored hash must match and the
// expiry must not have passed. Token fields clear on success.
func (s *userService) ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error {
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return ErrUserResetTokenInvalid
	}
	if err := validatePassword(cmd.NewPassword); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(token))
	user, err := s.users.FindByResetTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		if isRepoNotFound(err) {
			return ErrUserResetTokenInvalid
		}
		return err
	}

	now := s.clock()
	if user.ResetTokenExpires == nil || now.After(*user.ResetTokenExpires) {
		return ErrUserResetTokenInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.NewPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.ResetTokenHash = ""
	user.ResetTokenExpires = nil
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.logger(ctx, "password_reset", map[string]any{"userId": user.ID})
	return nil
}

func (s *userService) session(user domain.User) (AuthSession, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Email, string(user.Role))
	if err != nil {
		return AuthSession{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthSession{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func newResetToken() (token string, tokenHash string, err error) {
	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	token = hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:]), nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrUserInvalidInput, maxPasswordLength)
	}
	return nil
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n") && strings.Contains(email[at+1:], ".")
}
