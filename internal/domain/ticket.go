package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "OPEN"
	TicketStatusInProgress      TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingCustomer TicketStatus = "WAITING_CUSTOMER"
	TicketStatusResolved        TicketStatus = "RESOLVED"
	TicketStatusClosed          TicketStatus = "CLOSED"
	TicketStatusCanceled        TicketStatus = "CANCELED"
)

// TicketStatuses lists every status in lifecycle order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusWaitingCustomer,
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusCanceled,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range TicketStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Terminal reports whether the status closes the ticket.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusClosed || s == TicketStatusCanceled
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// TicketPriorities lists priorities from least to most urgent.
var TicketPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityUrgent,
}

// Rank orders priorities; higher is more urgent. Unknown values rank -1.
func (p TicketPriority) Rank() int {
	for i, candidate := range TicketPriorities {
		if p == candidate {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	return p.Rank() >= 0
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID             string
	Title          string
	Description    string
	Status         TicketStatus
	Priority       TicketPriority
	Category       string
	CustomerID     string
	AssignedTechID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// Unassigned reports whether no technician holds the ticket.
func (t *Ticket) Unassigned() bool {
	return t.AssignedTechID == nil
}

// SetStatus moves the ticket to status and keeps ClosedAt consistent:
// set when entering a terminal status, cleared when leaving one.
func (t *Ticket) SetStatus(status TicketStatus, now time.Time) {
	t.Status = status
	if status.Terminal() {
		if t.ClosedAt == nil {
			closed := now
			t.ClosedAt = &closed
		}
		return
	}
	t.ClosedAt = nil
}
