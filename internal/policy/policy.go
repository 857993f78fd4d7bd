// Package policy holds the role rules for ticket mutations. Every function is
// pure; services consult it instead of re-deriving permissions.
package policy

import "github.com/spec-kit/helpdesk-service/internal/domain"

var techTargets = []domain.TicketStatus{
	domain.TicketStatusInProgress,
	domain.TicketStatusWaitingCustomer,
	domain.TicketStatusResolved,
}

// PermittedStatusTargets returns the statuses role may move a ticket to from current.
// Terminal tickets can only be reopened by an admin.
func PermittedStatusTargets(role domain.Role, current domain.TicketStatus) []domain.TicketStatus {
	switch role {
	case domain.RoleAdmin:
		return append([]domain.TicketStatus(nil), domain.TicketStatuses...)
	case domain.RoleTech:
		if current.Terminal() {
			return nil
		}
		return append([]domain.TicketStatus(nil), techTargets...)
	case domain.RoleCustomer:
		switch current {
		case domain.TicketStatusOpen:
			return []domain.TicketStatus{domain.TicketStatusCanceled}
		case domain.TicketStatusResolved:
			return []domain.TicketStatus{domain.TicketStatusClosed}
		}
	}
	return nil
}

// CanTransition reports whether target is in PermittedStatusTargets(role, current).
func CanTransition(role domain.Role, current, target domain.TicketStatus) bool {
	for _, candidate := range PermittedStatusTargets(role, current) {
		if candidate == target {
			return true
		}
	}
	return false
}

func CanChangePriority(role domain.Role) bool {
	return role == domain.RoleAdmin
}

func CanChangeCategory(role domain.Role) bool {
	return role == domain.RoleAdmin
}

func CanAssignTech(role domain.Role) bool {
	return role == domain.RoleAdmin
}

func CanMarkInternal(role domain.Role) bool {
	return role == domain.RoleAdmin || role == domain.RoleTech
}

// CanSeeInternal mirrors CanMarkInternal for reads.
func CanSeeInternal(role domain.Role) bool {
	return CanMarkInternal(role)
}

func CanManageUsers(role domain.Role) bool {
	return role == domain.RoleAdmin
}

func CanCreateTicket(role domain.Role) bool {
	return role == domain.RoleCustomer
}

// CanWorkQueue reports whether role may browse the unassigned queue.
func CanWorkQueue(role domain.Role) bool {
	return role == domain.RoleTech || role == domain.RoleAdmin
}

// CanSelfAssign is the queue claim: a technician takes an open, unassigned ticket.
func CanSelfAssign(role domain.Role, ticket *domain.Ticket) bool {
	if role != domain.RoleTech || ticket == nil {
		return false
	}
	return ticket.Status == domain.TicketStatusOpen && ticket.Unassigned()
}

// CanViewTicket gives staff every ticket and customers only their own.
func CanViewTicket(actor *domain.User, ticket *domain.Ticket) bool {
	if actor == nil || ticket == nil {
		return false
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleTech:
		return true
	case domain.RoleCustomer:
		return ticket.CustomerID == actor.ID
	}
	return false
}
