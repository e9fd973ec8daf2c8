package services

import (
	"context"
	"strings"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/pkg/auth"
	apperrors "github.com/docflow/backend/pkg/errors"
	"github.com/docflow/backend/pkg/utils"
)

// AuthService handles account registration and login. Only initiators and
// template owners need an account; validators decide through token links.
type AuthService struct {
	users ports.UserStore
}

// NewAuthService creates a new AuthService
func NewAuthService(users ports.UserStore) *AuthService {
	return &AuthService{users: users}
}

// RegisterInput is the input for creating an account.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new active account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" {
		return nil, apperrors.NewValidationError("name", "name is required")
	}
	if !auth.IsValidEmail(email) {
		return nil, apperrors.NewValidationError("email", "invalid email address")
	}
	if err := auth.ValidatePasswordStrength(in.Password); err != nil {
		return nil, apperrors.NewValidationError("password", err.Error())
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.NewConflictError("user", "an account with this email already exists")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to hash password", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           utils.GenerateID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and returns the user plus a signed session
// token. Wrong email and wrong password are indistinguishable on purpose.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil || !user.IsActive || !auth.VerifyPassword(password, user.PasswordHash) {
		return nil, "", apperrors.NewUnauthorizedError("invalid credentials")
	}

	token, err := auth.GenerateToken(auth.UserSession{ID: user.ID, Name: user.Name, Email: user.Email})
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to sign session token", err)
	}
	return user, token, nil
}

// GetMe returns the account behind a session.
func (s *AuthService) GetMe(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NewNotFoundError("user", userID)
	}
	return user, nil
}
