package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/policy"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketService is the ticket state machine. It is the only writer of
// ticket status, priority, category and assignment, and of history entries.
type TicketService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	users      repository.UserRepository
	tx         repository.TxRunner
	categories domain.CategoryList
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	HistoryRepo  repository.TicketHistoryRepository
	UserRepo     repository.UserRepository
	TxRunner     repository.TxRunner
	Categories   domain.CategoryList
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StoreTimeout time.Duration
	Clock        func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Category    string
	Priority    domain.TicketPriority
}

// TicketListFilter describes listing filters. AssignedTechID accepts
// repository.UnassignedFilter.
type TicketListFilter struct {
	Status         *domain.TicketStatus
	Priority       *domain.TicketPriority
	Category       *string
	AssignedTechID *string
	SearchTerm     *string
	Limit          int
	Offset         int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		users:      deps.UserRepo,
		tx:         deps.TxRunner,
		categories: deps.Categories,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		timeout:    deps.StoreTimeout,
		now:        clock,
	}
}

// Categories returns the accepted ticket categories.
func (s *TicketService) Categories() []string {
	return s.categories.Names()
}

// CreateTicket opens a ticket on behalf of a customer.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !policy.CanCreateTicket(actor.Role) {
		return nil, apperrors.NewForbidden("only customers can open tickets")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}
	if !s.categories.Contains(input.Category) {
		return nil, apperrors.NewInvalidCategory(input.Category)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}

	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Category:    input.Category,
		CustomerID:  actor.ID,
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return err
		}
		return s.history.Create(ctx, &domain.HistoryEntry{
			TicketID: ticket.ID,
			ActorID:  actor.ID,
			Action:   domain.HistoryCreated,
			ToValue:  strPtr(string(ticket.Status)),
		})
	})
	if err != nil {
		s.logger.Error("create ticket failed", zap.String("customer_id", actor.ID), zap.Error(err))
		return nil, storeError(err, "ticket", "")
	}

	s.metrics.RecordMutation(string(domain.HistoryCreated))
	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.String("customer_id", actor.ID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketCreatedPayload{
			CustomerID: ticket.CustomerID,
			Category:   ticket.Category,
			Priority:   ticket.Priority,
			Title:      ticket.Title,
		},
	})
	return ticket, nil
}

// GetTicket returns a ticket the actor is allowed to see.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.loadVisible(ctx, actor, ticketID)
}

// ListTickets lists tickets newest first. Customers only ever see their own.
func (s *TicketService) ListTickets(ctx context.Context, actor *domain.User, filter TicketListFilter) ([]domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	repoFilter := repository.TicketFilter{
		Status:         filter.Status,
		Priority:       filter.Priority,
		Category:       filter.Category,
		AssignedTechID: filter.AssignedTechID,
		SearchTerm:     filter.SearchTerm,
		Order:          repository.OrderNewest,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	}
	if actor.Role == domain.RoleCustomer {
		repoFilter.CustomerID = &actor.ID
	}
	return s.list(ctx, repoFilter)
}

// ListQueue returns open, unassigned tickets, most urgent and then oldest first.
func (s *TicketService) ListQueue(ctx context.Context, actor *domain.User, limit, offset int) ([]domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !policy.CanWorkQueue(actor.Role) {
		return nil, apperrors.NewForbidden("queue is restricted to staff")
	}
	status := domain.TicketStatusOpen
	unassigned := repository.UnassignedFilter
	return s.list(ctx, repository.TicketFilter{
		Status:         &status,
		AssignedTechID: &unassigned,
		Order:          repository.OrderQueue,
		Limit:          limit,
		Offset:         offset,
	})
}

// ListAssigned returns the technician's own tickets, most recently updated first.
func (s *TicketService) ListAssigned(ctx context.Context, actor *domain.User, limit, offset int) ([]domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleTech {
		return nil, apperrors.NewForbidden("only technicians hold assignments")
	}
	return s.list(ctx, repository.TicketFilter{
		AssignedTechID: &actor.ID,
		Order:          repository.OrderRecentlyUpdated,
		Limit:          limit,
		Offset:         offset,
	})
}

// ListHistory returns the audit trail newest first. Customers do not see
// entries recording internal comments.
func (s *TicketService) ListHistory(ctx context.Context, actor *domain.User, ticketID string) ([]domain.HistoryEntry, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.loadVisible(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", ticketID)
	}
	if policy.CanSeeInternal(actor.Role) {
		return entries, nil
	}
	visible := make([]domain.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Action == domain.HistoryCommentAdded && entry.ToValue != nil && *entry.ToValue == domain.CommentVisibilityInternal {
			continue
		}
		visible = append(visible, entry)
	}
	return visible, nil
}

// ApplyStatusChange moves a ticket to target if the actor's role permits it.
func (s *TicketService) ApplyStatusChange(ctx context.Context, actor *domain.User, ticketID string, target domain.TicketStatus) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": target})
	}
	return s.mutate(ctx, actor, ticketID, func(_ context.Context, ticket *domain.Ticket) (*mutation, error) {
		current := ticket.Status
		if !policy.CanTransition(actor.Role, current, target) {
			return nil, apperrors.NewForbidden("status change not permitted for role")
		}
		if current == target {
			return nil, apperrors.NewInvalidTransition("ticket already has this status",
				map[string]any{"status": target})
		}
		ticket.SetStatus(target, s.now())
		return &mutation{
			cond: repository.TicketCondition{Status: &current},
			entries: []domain.HistoryEntry{{
				Action:    domain.HistoryStatusChanged,
				FromValue: strPtr(string(current)),
				ToValue:   strPtr(string(target)),
			}},
			events: []events.Event{{
				Type: events.EventTicketStatusChanged,
				Payload: events.TicketStatusChangedPayload{
					OldStatus: current,
					NewStatus: target,
				},
			}},
		}, nil
	})
}

// ApplyPriorityChange sets a new priority. Admin only.
func (s *TicketService) ApplyPriorityChange(ctx context.Context, actor *domain.User, ticketID string, target domain.TicketPriority) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": target})
	}
	if !policy.CanChangePriority(actor.Role) {
		return nil, apperrors.NewForbidden("priority changes require an administrator")
	}
	return s.mutate(ctx, actor, ticketID, func(_ context.Context, ticket *domain.Ticket) (*mutation, error) {
		old := ticket.Priority
		if old == target {
			return nil, apperrors.NewInvalidTransition("ticket already has this priority",
				map[string]any{"priority": target})
		}
		status := ticket.Status
		ticket.Priority = target
		return &mutation{
			cond: repository.TicketCondition{Status: &status},
			entries: []domain.HistoryEntry{{
				Action:    domain.HistoryPriorityChanged,
				FromValue: strPtr(string(old)),
				ToValue:   strPtr(string(target)),
			}},
			events: []events.Event{{
				Type: events.EventTicketPriorityChanged,
				Payload: events.TicketPriorityChangedPayload{
					OldPriority: old,
					NewPriority: target,
				},
			}},
		}, nil
	})
}

// ApplyCategoryChange recategorizes a ticket. Admin only.
func (s *TicketService) ApplyCategoryChange(ctx context.Context, actor *domain.User, ticketID, category string) (*domain.Ticket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !policy.CanChangeCategory(actor.Role) {
		return nil, apperrors.NewForbidden("category changes require an administrator")
	}
	if !s.categories.Contains(category) {
		return nil, apperrors.NewInvalidCategory(category)
	}
	return s.mutate(ctx, actor, ticketID, func(_ context.Context, ticket *domain.Ticket) (*mutation, error) {
		old := ticket.Category
		if old == category {
			return nil, apperrors.NewInvalidTransition("ticket already has this category",
				map[string]any{"category": category})
		}
		status := ticket.Status
		ticket.Category = category
		return &mutation{
			cond: repository.TicketCondition{Status: &status},
			entries: []domain.HistoryEntry{{
				Action:    domain.HistoryCategoryChanged,
				FromValue: strPtr(old),
				ToValue:   strPtr(category),
			}},
			events: []events.Event{{
				Type: events.EventTicketCategoryChanged,
				Payload: events.TicketCategoryChangedPayload{
					OldCategory: old,
					NewCategory: category,
				},
			}},
		}, nil
	})
}

// mutation is what a validated change writes: the guarded ticket update,
// its history entries, and the events to publish after commit.
type mutation struct {
	cond    repository.TicketCondition
	entries []domain.HistoryEntry
	events  []events.Event
	// conflict replaces the default error when cond no longer holds.
	conflict error
}

// mutate loads the ticket, lets apply validate and change it, then writes the
// ticket and its history in one transaction.
func (s *TicketService) mutate(ctx context.Context, actor *domain.User, ticketID string, apply func(context.Context, *domain.Ticket) (*mutation, error)) (*domain.Ticket, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		result *domain.Ticket
		change *mutation
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ticket, err := s.loadVisible(ctx, actor, ticketID)
		if err != nil {
			return err
		}
		change, err = apply(ctx, ticket)
		if err != nil {
			return err
		}
		if err := s.tickets.Update(ctx, ticket, change.cond); err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				if change.conflict != nil {
					return change.conflict
				}
				return apperrors.NewInvalidTransition("ticket was modified concurrently",
					map[string]any{"ticket_id": ticketID})
			}
			return err
		}
		for i := range change.entries {
			entry := &change.entries[i]
			entry.TicketID = ticket.ID
			entry.ActorID = actor.ID
			if err := s.history.Create(ctx, entry); err != nil {
				return err
			}
		}
		result = ticket
		return nil
	})
	if err != nil {
		mapped := storeError(err, "ticket", ticketID)
		if apperrors.IsCode(mapped, apperrors.CodeStoreUnavailable) {
			s.logger.Error("ticket mutation failed", zap.String("ticket_id", ticketID), zap.Error(err))
		}
		return nil, mapped
	}

	for _, entry := range change.entries {
		s.metrics.RecordMutation(string(entry.Action))
		s.logger.Info("ticket mutated",
			zap.String("ticket_id", result.ID),
			zap.String("actor_id", actor.ID),
			zap.String("action", string(entry.Action)),
			zap.Stringp("from", entry.FromValue),
			zap.Stringp("to", entry.ToValue),
		)
	}
	for _, event := range change.events {
		event.TicketID = result.ID
		event.Actor = events.ActorFrom(actor)
		s.publishEvent(ctx, event)
	}
	return result, nil
}

// loadVisible fetches a ticket and enforces read access.
func (s *TicketService) loadVisible(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", ticketID)
	}
	if !policy.CanViewTicket(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

func (s *TicketService) list(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		s.logger.Error("list tickets failed", zap.Error(err))
		return nil, storeError(err, "ticket", "")
	}
	return tickets, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("event handlers failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
