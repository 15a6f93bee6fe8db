// Package auth authenticates users against the account store and mints
// session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"parley/internal/logging"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

var ErrInvalidCredentials = types.NewError(types.KindUnauthenticated, "invalid username or password")

const tokenBytes = 32

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Credentials is the login and registration payload.
type Credentials struct {
	Username string `json:"username" validate:"required,userid"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Service checks passwords and creates accounts.
type Service struct {
	users  interfaces.UserStore
	params Params
}

// NewService uses DefaultParams for new hashes.
func NewService(users interfaces.UserStore) *Service {
	return &Service{users: users, params: DefaultParams}
}

// WithParams overrides the hashing cost, mainly for tests.
func (s *Service) WithParams(p Params) *Service {
	s.params = p
	return s
}

// Register creates an account with a fresh user id.
func (s *Service) Register(ctx context.Context, creds Credentials, role types.Role) (types.User, error) {
	if err := types.Validator().Struct(creds); err != nil {
		return types.User{}, types.Errorf(types.KindValidation, "invalid credentials: %v", err)
	}
	if _, ok := types.ParseRole(string(role)); !ok {
		return types.User{}, types.Errorf(types.KindValidation, "unknown role %q", role)
	}

	hash, err := HashPassword(creds.Password, s.params)
	if err != nil {
		return types.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	user := types.User{ID: uuid.NewString(), Username: creds.Username, Role: role}
	if err := s.users.CreateUser(ctx, interfaces.StoredUser{User: user, PasswordHash: hash}); err != nil {
		return types.User{}, err
	}

	logging.Info().Str("user_id", user.ID).Str("username", user.Username).Str("role", string(role)).Msg("user registered")
	return user, nil
}

// Login verifies the password and returns the user with a new token for the
// caller to bind.
func (s *Service) Login(ctx context.Context, creds Credentials) (types.User, string, error) {
	stored, err := s.users.GetUserByUsername(ctx, creds.Username)
	if errors.Is(err, types.ErrNotFound) {
		return types.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return types.User{}, "", err
	}

	ok, err := ComparePassword(creds.Password, stored.PasswordHash)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", stored.ID).Msg("stored password hash unreadable")
		return types.User{}, "", ErrInvalidCredentials
	}
	if !ok {
		return types.User{}, "", ErrInvalidCredentials
	}

	token, err := NewToken()
	if err != nil {
		return types.User{}, "", err
	}
	return stored.User, token, nil
}
