package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
}

// StatusChangeRequest payload.
type StatusChangeRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// PriorityChangeRequest payload.
type PriorityChangeRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// CategoryChangeRequest payload.
type CategoryChangeRequest struct {
	Category string `json:"category"`
}

// AssignmentRequest payload. A null assigned_tech_id unassigns.
type AssignmentRequest struct {
	AssignedTechID *string `json:"assigned_tech_id"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Message  string `json:"message"`
	Internal bool   `json:"internal"`
}

// UserSummaryResponse is the display part of a profile.
type UserSummaryResponse struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

// Profiles holds resolved summaries keyed by user id. A missing entry renders as null.
type Profiles map[string]domain.UserSummary

func (p Profiles) lookup(id *string) *UserSummaryResponse {
	if id == nil {
		return nil
	}
	summary, ok := p[*id]
	if !ok {
		return nil
	}
	return &UserSummaryResponse{ID: summary.ID, Name: summary.Name, Role: summary.Role}
}

// TicketResponse represents a ticket.
type TicketResponse struct {
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Status         domain.TicketStatus   `json:"status"`
	Priority       domain.TicketPriority `json:"priority"`
	Category       string                `json:"category"`
	CustomerID     string                `json:"customer_id"`
	Customer       *UserSummaryResponse  `json:"customer"`
	AssignedTechID *string               `json:"assigned_tech_id"`
	AssignedTech   *UserSummaryResponse  `json:"assigned_tech"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	ClosedAt       *time.Time            `json:"closed_at"`
}

// CommentResponse represents a thread comment.
type CommentResponse struct {
	ID        string               `json:"id"`
	TicketID  string               `json:"ticket_id"`
	AuthorID  string               `json:"author_id"`
	Author    *UserSummaryResponse `json:"author"`
	Message   string               `json:"message"`
	Internal  bool                 `json:"is_internal"`
	CreatedAt time.Time            `json:"created_at"`
}

// HistoryResponse represents an audit entry.
type HistoryResponse struct {
	ID        string               `json:"id"`
	TicketID  string               `json:"ticket_id"`
	ActorID   string               `json:"actor_id"`
	Actor     *UserSummaryResponse `json:"actor"`
	Action    domain.HistoryAction `json:"action"`
	FromValue *string              `json:"from_value"`
	ToValue   *string              `json:"to_value"`
	CreatedAt time.Time            `json:"created_at"`
}

// DashboardResponse is the role landing summary.
type DashboardResponse struct {
	Role   domain.Role      `json:"role"`
	Stats  map[string]int   `json:"stats"`
	Recent []TicketResponse `json:"recent"`
}

// NewTicketResponse maps a ticket, embedding customer and technician from profiles.
func NewTicketResponse(ticket *domain.Ticket, profiles Profiles) TicketResponse {
	return TicketResponse{
		ID:             ticket.ID,
		Title:          ticket.Title,
		Description:    ticket.Description,
		Status:         ticket.Status,
		Priority:       ticket.Priority,
		Category:       ticket.Category,
		CustomerID:     ticket.CustomerID,
		Customer:       profiles.lookup(&ticket.CustomerID),
		AssignedTechID: ticket.AssignedTechID,
		AssignedTech:   profiles.lookup(ticket.AssignedTechID),
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
		ClosedAt:       ticket.ClosedAt,
	}
}

// NewTicketResponses maps a list, never returning nil.
func NewTicketResponses(tickets []domain.Ticket, profiles Profiles) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, NewTicketResponse(&tickets[i], profiles))
	}
	return out
}

func NewCommentResponse(comment *domain.Comment, profiles Profiles) CommentResponse {
	return CommentResponse{
		ID:        comment.ID,
		TicketID:  comment.TicketID,
		AuthorID:  comment.AuthorID,
		Author:    profiles.lookup(&comment.AuthorID),
		Message:   comment.Message,
		Internal:  comment.Internal,
		CreatedAt: comment.CreatedAt,
	}
}

func NewCommentResponses(comments []domain.Comment, profiles Profiles) []CommentResponse {
	out := make([]CommentResponse, 0, len(comments))
	for i := range comments {
		out = append(out, NewCommentResponse(&comments[i], profiles))
	}
	return out
}

func NewHistoryResponses(entries []domain.HistoryEntry, profiles Profiles) []HistoryResponse {
	out := make([]HistoryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, HistoryResponse{
			ID:        entry.ID,
			TicketID:  entry.TicketID,
			ActorID:   entry.ActorID,
			Actor:     profiles.lookup(&entry.ActorID),
			Action:    entry.Action,
			FromValue: entry.FromValue,
			ToValue:   entry.ToValue,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out
}
