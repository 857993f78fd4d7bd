package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketsHandler exposes the ticket lifecycle.
type TicketsHandler struct {
	tickets  *service.TicketService
	profiles *service.ProfileService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, profiles *service.ProfileService) *TicketsHandler {
	return &TicketsHandler{tickets: ticketService, profiles: profiles}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), user, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusCreated, ticket)
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketFilter(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListTickets(c.UserContext(), user, filter)
	if err != nil {
		return err
	}
	return h.renderTickets(c, tickets)
}

// ListQueue GET /api/tickets/queue.
func (h *TicketsHandler) ListQueue(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	tickets, err := h.tickets.ListQueue(c.UserContext(), user, limit, offset)
	if err != nil {
		return err
	}
	return h.renderTickets(c, tickets)
}

// ListAssigned GET /api/tickets/assigned.
func (h *TicketsHandler) ListAssigned(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	tickets, err := h.tickets.ListAssigned(c.UserContext(), user, limit, offset)
	if err != nil {
		return err
	}
	return h.renderTickets(c, tickets)
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusOK, ticket)
}

// ChangeStatus POST /api/tickets/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.StatusChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.ApplyStatusChange(c.UserContext(), user, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusOK, ticket)
}

// ChangePriority POST /api/tickets/:id/priority.
func (h *TicketsHandler) ChangePriority(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.PriorityChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.ApplyPriorityChange(c.UserContext(), user, c.Params("id"), req.Priority)
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusOK, ticket)
}

// ChangeCategory POST /api/tickets/:id/category.
func (h *TicketsHandler) ChangeCategory(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.CategoryChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.ApplyCategoryChange(c.UserContext(), user, c.Params("id"), req.Category)
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusOK, ticket)
}

// Assign POST /api/tickets/:id/assignment.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.AssignmentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.ApplyAssignment(c.UserContext(), user, c.Params("id"), req.AssignedTechID)
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusOK, ticket)
}

// Claim POST /api/tickets/:id/claim.
func (h *TicketsHandler) Claim(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.ClaimTicket(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return h.renderTicket(c, http.StatusOK, ticket)
}

// ListHistory GET /api/tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	entries, err := h.tickets.ListHistory(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ActorID)
	}
	profiles, err := h.profiles.Summaries(c.UserContext(), ids...)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryResponses(entries, profiles)})
}

// Categories GET /api/categories.
func (h *TicketsHandler) Categories(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.tickets.Categories()})
}

func (h *TicketsHandler) renderTicket(c *fiber.Ctx, status int, ticket *domain.Ticket) error {
	profiles, err := h.profiles.TicketProfiles(c.UserContext(), *ticket)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, profiles)})
}

func (h *TicketsHandler) renderTickets(c *fiber.Ctx, tickets []domain.Ticket) error {
	profiles, err := h.profiles.TicketProfiles(c.UserContext(), tickets...)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponses(tickets, profiles)})
}

func parseTicketFilter(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{
		Category:       optionalQuery(c, "category"),
		AssignedTechID: optionalQuery(c, "assigned_tech_id"),
		SearchTerm:     optionalQuery(c, "search"),
	}
	if raw := c.Query("status"); raw != "" {
		status := domain.TicketStatus(raw)
		if !status.Valid() {
			return filter, apperrors.NewValidationError("unknown status", map[string]any{"status": raw})
		}
		filter.Status = &status
	}
	if raw := c.Query("priority"); raw != "" {
		priority := domain.TicketPriority(raw)
		if !priority.Valid() {
			return filter, apperrors.NewValidationError("unknown priority", map[string]any{"priority": raw})
		}
		filter.Priority = &priority
	}
	if raw := filter.AssignedTechID; raw != nil && *raw != repository.UnassignedFilter {
		if _, err := uuid.Parse(*raw); err != nil {
			return filter, apperrors.NewValidationError("assigned_tech_id must be a user id or UNASSIGNED",
				map[string]any{"assigned_tech_id": *raw})
		}
	}
	filter.Limit, filter.Offset = pagination(c)
	return filter, nil
}
