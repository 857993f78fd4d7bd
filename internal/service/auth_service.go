package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthService signs in provisioned accounts for local development. In
// production the identity backend issues tokens with the same secret.
type AuthService struct {
	users    repository.UserRepository
	tokenMgr *auth.TokenManager
	logger   *zap.Logger
	timeout  time.Duration
}

// NewAuthService builds the service.
func NewAuthService(users repository.UserRepository, tokens *auth.TokenManager, logger *zap.Logger, storeTimeout time.Duration) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		tokenMgr: tokens,
		logger:   logger,
		timeout:  storeTimeout,
	}
}

// Login verifies credentials and returns a signed token for the profile.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("email and password are required", nil)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, storeError(err, "user", "")
	}
	if !auth.VerifyPassword(user, password) {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.Active {
		return nil, "", time.Time{}, apperrors.NewForbidden("account is deactivated")
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	s.logger.Info("user signed in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, token, exp, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
