package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// UsersHandler exposes sign-in, the caller's profile and admin user management.
type UsersHandler struct {
	auth  *service.AuthService
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService, userService *service.UserService) *UsersHandler {
	return &UsersHandler{auth: authService, users: userService}
}

// Login handles POST /api/auth/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, token, exp, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{
		Token:     token,
		ExpiresAt: exp,
		User:      dto.NewUserResponse(user),
	}})
}

// Me handles GET /api/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ListUsers handles GET /api/users.
func (h *UsersHandler) ListUsers(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	filter := service.UserListFilter{}
	if raw := c.Query("role"); raw != "" {
		role := domain.Role(raw)
		filter.Role = &role
	}
	filter.Limit, filter.Offset = pagination(c)
	users, err := h.users.ListUsers(c.UserContext(), user, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponses(users)})
}

// ListTechs handles GET /api/users/techs.
func (h *UsersHandler) ListTechs(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	techs, err := h.users.ListTechs(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponses(techs)})
}

// CreateUser handles POST /api/users.
func (h *UsersHandler) CreateUser(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	created, err := h.users.CreateUser(c.UserContext(), user, service.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewUserResponse(created)})
}

// UpdateRole handles PATCH /api/users/:id/role.
func (h *UsersHandler) UpdateRole(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateRoleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	updated, err := h.users.UpdateRole(c.UserContext(), user, c.Params("id"), req.Role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(updated)})
}

// SetActive handles PATCH /api/users/:id/active.
func (h *UsersHandler) SetActive(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.SetActiveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Active == nil {
		return apperrors.NewValidationError("active is required", nil)
	}
	updated, err := h.users.SetActive(c.UserContext(), user, c.Params("id"), *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(updated)})
}
