package events

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketCategoryChanged EventType = "ticket_category_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketCommentAdded    EventType = "ticket_comment_added"
	EventUserUpdated           EventType = "user_updated"
)

// AllEventTypes lists every event the services publish.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketPriorityChanged,
	EventTicketCategoryChanged,
	EventTicketAssigned,
	EventTicketCommentAdded,
	EventUserUpdated,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// ActorFrom builds an Actor from a profile.
func ActorFrom(user *domain.User) Actor {
	if user == nil {
		return Actor{}
	}
	return Actor{ID: user.ID, Role: user.Role}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	CustomerID string                `json:"customer_id"`
	Category   string                `json:"category"`
	Priority   domain.TicketPriority `json:"priority"`
	Title      string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Claimed   bool                `json:"claimed,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketCategoryChangedPayload payload.
type TicketCategoryChangedPayload struct {
	OldCategory string `json:"old_category"`
	NewCategory string `json:"new_category"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OldTechID *string `json:"old_tech_id,omitempty"`
	NewTechID *string `json:"new_tech_id,omitempty"`
	Claimed   bool    `json:"claimed,omitempty"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID      string `json:"comment_id"`
	AuthorID       string `json:"author_id"`
	Internal       bool   `json:"internal"`
	MessagePreview string `json:"message_preview"`
}

// UserUpdatedPayload payload.
type UserUpdatedPayload struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
	Active bool        `json:"active"`
}
