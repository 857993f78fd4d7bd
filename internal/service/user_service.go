package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/policy"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// UserService covers admin profile management. Profiles are deactivated, never deleted.
type UserService struct {
	users      repository.UserRepository
	tickets    repository.TicketRepository
	tx         repository.TxRunner
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
	timeout    time.Duration
	now        func() time.Time
}

// UserDependencies bundles collaborators for the user service.
type UserDependencies struct {
	UserRepo     repository.UserRepository
	TicketRepo   repository.TicketRepository
	TxRunner     repository.TxRunner
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	BcryptCost   int
	StoreTimeout time.Duration
	Clock        func() time.Time
}

// CreateUserInput describes a provisioned account.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// UserListFilter narrows ListUsers.
type UserListFilter struct {
	Role   *domain.Role
	Active *bool
	Limit  int
	Offset int
}

// NewUserService constructs the service.
func NewUserService(deps UserDependencies) *UserService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &UserService{
		users:      deps.UserRepo,
		tickets:    deps.TicketRepo,
		tx:         deps.TxRunner,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		bcryptCost: deps.BcryptCost,
		timeout:    deps.StoreTimeout,
		now:        clock,
	}
}

// ListUsers returns profiles newest first.
func (s *UserService) ListUsers(ctx context.Context, actor *domain.User, filter UserListFilter) ([]domain.User, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": *filter.Role})
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.users.List(ctx, repository.UserFilter{
		Role:   filter.Role,
		Active: filter.Active,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		s.logger.Error("list users failed", zap.Error(err))
		return nil, storeError(err, "user", "")
	}
	return users, nil
}

// ListTechs returns the technicians a ticket can be assigned to.
func (s *UserService) ListTechs(ctx context.Context, actor *domain.User) ([]domain.User, error) {
	role := domain.RoleTech
	active := true
	return s.ListUsers(ctx, actor, UserListFilter{Role: &role, Active: &active})
}

// CreateUser provisions an account.
func (s *UserService) CreateUser(ctx context.Context, actor *domain.User, input CreateUserInput) (*domain.User, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	details := map[string]any{}
	if name == "" {
		details["name"] = "required"
	}
	if _, err := mail.ParseAddress(email); err != nil {
		details["email"] = "invalid"
	}
	switch err := auth.CheckPasswordPolicy(input.Password); {
	case errors.Is(err, auth.ErrPasswordTooShort):
		details["password"] = "too short"
	case errors.Is(err, auth.ErrPasswordTooLong):
		details["password"] = "too long"
	}
	role := input.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	if !role.Valid() {
		details["role"] = "unknown"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid user", details)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.users.Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		s.logger.Error("create user failed", zap.Error(err))
		return nil, storeError(err, "user", "")
	}
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	s.publish(ctx, actor, user)
	return user, nil
}

// UpdateRole changes a profile's role. A technician still holding tickets
// cannot be moved to another role.
func (s *UserService) UpdateRole(ctx context.Context, actor *domain.User, userID string, role domain.Role) (*domain.User, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	if userID == actor.ID {
		return nil, apperrors.NewForbidden("administrators cannot change their own role")
	}
	return s.update(ctx, actor, userID, func(ctx context.Context, user *domain.User) (bool, error) {
		if user.Role == role {
			return false, nil
		}
		if user.Role == domain.RoleTech {
			assigned := userID
			counts, err := s.tickets.Count(ctx, repository.TicketFilter{AssignedTechID: &assigned})
			if err != nil {
				return false, err
			}
			if counts.Total > 0 {
				return false, apperrors.NewConflict("technician still has assigned tickets",
					map[string]any{"assigned_tickets": counts.Total})
			}
		}
		user.Role = role
		return true, nil
	})
}

// SetActive activates or deactivates a profile.
func (s *UserService) SetActive(ctx context.Context, actor *domain.User, userID string, active bool) (*domain.User, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if userID == actor.ID {
		return nil, apperrors.NewForbidden("administrators cannot change their own active flag")
	}
	return s.update(ctx, actor, userID, func(_ context.Context, user *domain.User) (bool, error) {
		if user.Active == active {
			return false, nil
		}
		user.Active = active
		return true, nil
	})
}

func (s *UserService) update(ctx context.Context, actor *domain.User, userID string, apply func(context.Context, *domain.User) (bool, error)) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		result  *domain.User
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByIDLocked(ctx, userID, repository.LockUpdate)
		if err != nil {
			return err
		}
		changed, err = apply(ctx, user)
		if err != nil {
			return err
		}
		if changed {
			if err := s.users.Update(ctx, user); err != nil {
				return err
			}
		}
		result = user
		return nil
	})
	if err != nil {
		mapped := storeError(err, "user", userID)
		if apperrors.IsCode(mapped, apperrors.CodeStoreUnavailable) {
			s.logger.Error("update user failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, mapped
	}
	if changed {
		s.logger.Info("user updated",
			zap.String("user_id", result.ID),
			zap.String("role", string(result.Role)),
			zap.Bool("active", result.Active),
			zap.String("actor_id", actor.ID),
		)
		s.publish(ctx, actor, result)
	}
	return result, nil
}

func (s *UserService) requireAdmin(actor *domain.User) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !policy.CanManageUsers(actor.Role) {
		return apperrors.NewForbidden("user management requires an administrator")
	}
	return nil
}

func (s *UserService) publish(ctx context.Context, actor *domain.User, user *domain.User) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventUserUpdated,
		Actor:     events.ActorFrom(actor),
		Timestamp: s.now(),
		Payload: events.UserUpdatedPayload{
			UserID: user.ID,
			Role:   user.Role,
			Active: user.Active,
		},
	}
	if err := s.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("event handlers failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
