package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

// DashboardHandler serves the role landing summary.
type DashboardHandler struct {
	dashboards *service.DashboardService
	profiles   *service.ProfileService
}

// NewDashboardHandler constructs handler.
func NewDashboardHandler(dashboardService *service.DashboardService, profiles *service.ProfileService) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboardService, profiles: profiles}
}

// Summary GET /api/dashboard.
func (h *DashboardHandler) Summary(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	dash, err := h.dashboards.Summary(c.UserContext(), user)
	if err != nil {
		return err
	}
	profiles, err := h.profiles.TicketProfiles(c.UserContext(), dash.Recent...)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.DashboardResponse{
		Role:   dash.Role,
		Stats:  dash.Stats,
		Recent: dto.NewTicketResponses(dash.Recent, profiles),
	}})
}
