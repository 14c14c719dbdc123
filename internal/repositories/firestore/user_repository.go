package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/threadcart/api/internal/domain"
	pfirestore "github.com/threadcart/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserRepository persists account records. Email uniqueness is enforced with
// an emailLower sentinel query inside the insert transaction.
type UserRepository struct {
	base     *pfirestore.Collection[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository: firestore provider is required")
	}
	return &UserRepository{
		base:     pfirestore.NewCollection[userDocument](provider, usersCollection),
		provider: provider,
	}, nil
}

// Insert stores a new account, rejecting duplicate email addresses.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	emailLower := strings.ToLower(strings.TrimSpace(user.Email))
	if emailLower == "" {
		return errors.New("user repository: email is required")
	}

	existing, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("emailLower", "==", emailLower).Limit(1)
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return pfirestore.WrapError("users.insert", status.Error(codes.AlreadyExists, "email already registered"))
	}

	docRef, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	doc := encodeUserDocument(user)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("users.insert", err)
	}
	return nil
}

// Update replaces the stored account state.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	doc := encodeUserDocument(user)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("users.update", err)
	}
	return nil
}

// Delete removes the account document permanently.
func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("users.delete", err)
	}
	return nil
}

// List pages over accounts newest first.
func (r *UserRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.User]{}, errors.New("user repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", status.Error(codes.InvalidArgument, "invalid page token"))
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.User]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeUserDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.User]{Items: items, NextPageToken: nextToken}, nil
}

// FindByID fetches a single account.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return decodeUserDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByEmail fetches the account registered under the email address,
// case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	emailLower := strings.ToLower(strings.TrimSpace(email))
	if emailLower == "" {
		return domain.User{}, errors.New("user repository: email is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("emailLower", "==", emailLower).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.find_by_email", status.Error(codes.NotFound, "user not found"))
	}
	doc := docs[0]
	return decodeUserDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByResetTokenHash fetches the account holding an unexpired reset token
// whose SHA-256 hash matches. Expiry is checked by the caller against
// ResetTokenExpires.
func (r *UserRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return domain.User{}, errors.New("user repository: token hash is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("resetTokenHash", "==", tokenHash).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.find_by_reset_token", status.Error(codes.NotFound, "reset token not found"))
	}
	doc := docs[0]
	return decodeUserDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

type userDocument struct {
	Name              string     `firestore:"name"`
	Email             string     `firestore:"email"`
	EmailLower        string     `firestore:"emailLower"`
	PasswordHash      string     `firestore:"passwordHash"`
	Role              string     `firestore:"role"`
	ResetTokenHash    string     `firestore:"resetTokenHash,omitempty"`
	ResetTokenExpires *time.Time `firestore:"resetTokenExpires,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func encodeUserDocument(user domain.User) userDocument {
	email := strings.TrimSpace(user.Email)
	role := user.Role
	if role == "" {
		role = domain.RoleUser
	}
	return userDocument{
		Name:              strings.TrimSpace(user.Name),
		Email:             email,
		EmailLower:        strings.ToLower(email),
		PasswordHash:      user.PasswordHash,
		Role:              string(role),
		ResetTokenHash:    user.ResetTokenHash,
		ResetTokenExpires: user.ResetTokenExpires,
		CreatedAt:         user.CreatedAt.UTC(),
		UpdatedAt:         user.UpdatedAt.UTC(),
	}
}

func decodeUserDocument(id string, doc userDocument, createTime, updateTime time.Time) domain.User {
	user := domain.User{
		ID:                id,
		Name:              doc.Name,
		Email:             doc.Email,
		PasswordHash:      doc.PasswordHash,
		Role:              domain.Role(doc.Role),
		ResetTokenHash:    doc.ResetTokenHash,
		ResetTokenExpires: doc.ResetTokenExpires,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = createTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = updateTime
	}
	return user
}
