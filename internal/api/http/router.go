package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Comments       *handlers.CommentsHandler
	Users          *handlers.UsersHandler
	Dashboard      *handlers.DashboardHandler
	AuthMiddleware *auth.AuthMiddleware
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api")
	api.Post("/auth/login", cfg.Users.Login)

	protected := api.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/me", cfg.Users.Me)
	protected.Get("/dashboard", cfg.Dashboard.Summary)
	protected.Get("/categories", cfg.Tickets.Categories)

	staff := auth.RequireRole(domain.RoleAdmin, domain.RoleTech)
	admin := auth.RequireRole(domain.RoleAdmin)

	tickets := protected.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", auth.RequireRole(domain.RoleCustomer), cfg.Tickets.CreateTicket)
	tickets.Get("/queue", staff, cfg.Tickets.ListQueue)
	tickets.Get("/assigned", auth.RequireRole(domain.RoleTech), cfg.Tickets.ListAssigned)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/status", cfg.Tickets.ChangeStatus)
	tickets.Post("/:id/priority", admin, cfg.Tickets.ChangePriority)
	tickets.Post("/:id/category", admin, cfg.Tickets.ChangeCategory)
	tickets.Post("/:id/assignment", staff, cfg.Tickets.Assign)
	tickets.Post("/:id/claim", auth.RequireRole(domain.RoleTech), cfg.Tickets.Claim)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)
	tickets.Get("/:id/comments", cfg.Comments.ListComments)
	tickets.Post("/:id/comments", cfg.Comments.AddComment)

	users := protected.Group("/users", admin)
	users.Get("/", cfg.Users.ListUsers)
	users.Post("/", cfg.Users.CreateUser)
	users.Get("/techs", cfg.Users.ListTechs)
	users.Patch("/:id/role", cfg.Users.UpdateRole)
	users.Patch("/:id/active", cfg.Users.SetActive)
}
