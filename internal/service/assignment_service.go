package service

import (
	"context"
	"errors"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/policy"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// ApplyAssignment sets or clears the ticket's technician. Admins assign anyone
// eligible; a technician naming themselves goes through ClaimTicket.
func (s *TicketService) ApplyAssignment(ctx context.Context, actor *domain.User, ticketID string, techID *string) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !policy.CanAssignTech(actor.Role) {
		if actor.Role == domain.RoleTech && techID != nil && *techID == actor.ID {
			return s.ClaimTicket(ctx, actor, ticketID)
		}
		return nil, apperrors.NewForbidden("assignments require an administrator")
	}

	return s.mutate(ctx, actor, ticketID, func(ctx context.Context, ticket *domain.Ticket) (*mutation, error) {
		if techID != nil {
			if err := s.checkAssignee(ctx, *techID); err != nil {
				return nil, err
			}
		}
		old := ticket.AssignedTechID
		if sameAssignee(old, techID) {
			return nil, apperrors.NewInvalidTransition("ticket already has this assignee", nil)
		}
		status := ticket.Status
		ticket.AssignedTechID = copyID(techID)
		return &mutation{
			cond: repository.TicketCondition{Status: &status},
			entries: []domain.HistoryEntry{{
				Action:    domain.HistoryAssignedTech,
				FromValue: copyID(old),
				ToValue:   copyID(techID),
			}},
			events: []events.Event{{
				Type: events.EventTicketAssigned,
				Payload: events.TicketAssignedPayload{
					OldTechID: copyID(old),
					NewTechID: copyID(techID),
				},
			}},
		}, nil
	})
}

// ClaimTicket assigns an open queue ticket to the calling technician and moves
// it to IN_PROGRESS in one write. When two technicians race, the store's
// conditional update lets exactly one win.
func (s *TicketService) ClaimTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleTech {
		return nil, apperrors.NewForbidden("only technicians claim queue tickets")
	}

	taken := apperrors.NewInvalidTransition("ticket is no longer available in the queue",
		map[string]any{"ticket_id": ticketID})

	return s.mutate(ctx, actor, ticketID, func(ctx context.Context, ticket *domain.Ticket) (*mutation, error) {
		if !policy.CanSelfAssign(actor.Role, ticket) {
			return nil, taken
		}
		if err := s.checkAssignee(ctx, actor.ID); err != nil {
			if apperrors.IsCode(err, apperrors.CodeInvalidAssignee) {
				return nil, apperrors.NewForbidden("only active technicians claim queue tickets")
			}
			return nil, err
		}
		from := ticket.Status
		ticket.AssignedTechID = copyID(&actor.ID)
		ticket.SetStatus(domain.TicketStatusInProgress, s.now())
		return &mutation{
			cond:     repository.TicketCondition{Status: &from, Unassigned: true},
			conflict: taken,
			entries: []domain.HistoryEntry{
				{
					Action:  domain.HistoryAssignedTech,
					ToValue: strPtr(actor.ID),
				},
				{
					Action:    domain.HistoryStatusChanged,
					FromValue: strPtr(string(from)),
					ToValue:   strPtr(string(domain.TicketStatusInProgress)),
				},
			},
			events: []events.Event{
				{
					Type: events.EventTicketAssigned,
					Payload: events.TicketAssignedPayload{
						NewTechID: strPtr(actor.ID),
						Claimed:   true,
					},
				},
				{
					Type: events.EventTicketStatusChanged,
					Payload: events.TicketStatusChangedPayload{
						OldStatus: from,
						NewStatus: domain.TicketStatusInProgress,
						Claimed:   true,
					},
				},
			},
		}, nil
	})
}

// checkAssignee requires an existing, active technician. The profile row stays
// share-locked until the assignment commits, so a concurrent demotion either
// waits and then sees the ticket or commits first and fails this check.
func (s *TicketService) checkAssignee(ctx context.Context, techID string) error {
	tech, err := s.users.GetByIDLocked(ctx, techID, repository.LockShare)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewInvalidAssignee("technician not found", map[string]any{"assigned_tech_id": techID})
		}
		return err
	}
	if !tech.IsActiveTech() {
		return apperrors.NewInvalidAssignee("assignee must be an active technician",
			map[string]any{"assigned_tech_id": techID, "role": tech.Role, "active": tech.Active})
	}
	return nil
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
