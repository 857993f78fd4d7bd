package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const dashboardRecentLimit = 5

// Dashboard is the role-specific landing summary. Only the counters relevant
// to the role are filled.
type Dashboard struct {
	Role   domain.Role
	Stats  map[string]int
	Recent []domain.Ticket
}

// DashboardService aggregates ticket counts for the landing page.
type DashboardService struct {
	tickets repository.TicketRepository
	logger  *zap.Logger
	timeout time.Duration
}

// NewDashboardService constructs the service.
func NewDashboardService(tickets repository.TicketRepository, logger *zap.Logger, storeTimeout time.Duration) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{tickets: tickets, logger: logger, timeout: storeTimeout}
}

// Summary builds the dashboard for actor's role.
func (s *DashboardService) Summary(ctx context.Context, actor *domain.User) (*Dashboard, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		dash *Dashboard
		err  error
	)
	switch actor.Role {
	case domain.RoleAdmin:
		dash, err = s.adminSummary(ctx)
	case domain.RoleTech:
		dash, err = s.techSummary(ctx, actor.ID)
	case domain.RoleCustomer:
		dash, err = s.customerSummary(ctx, actor.ID)
	default:
		return nil, apperrors.NewForbidden("unknown role")
	}
	if err != nil {
		s.logger.Error("dashboard failed", zap.String("user_id", actor.ID), zap.Error(err))
		return nil, storeError(err, "dashboard", "")
	}
	dash.Role = actor.Role
	return dash, nil
}

func (s *DashboardService) adminSummary(ctx context.Context) (*Dashboard, error) {
	counts, err := s.tickets.Count(ctx, repository.TicketFilter{})
	if err != nil {
		return nil, err
	}
	recent, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Order: repository.OrderNewest,
		Limit: dashboardRecentLimit,
	})
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		Stats: map[string]int{
			"total":       counts.Total,
			"open":        counts.ByStatus[domain.TicketStatusOpen],
			"in_progress": counts.ByStatus[domain.TicketStatusInProgress],
			"urgent":      counts.ByPriority[domain.TicketPriorityUrgent],
		},
		Recent: recent,
	}, nil
}

func (s *DashboardService) techSummary(ctx context.Context, techID string) (*Dashboard, error) {
	assigned, err := s.tickets.Count(ctx, repository.TicketFilter{AssignedTechID: &techID})
	if err != nil {
		return nil, err
	}
	open := domain.TicketStatusOpen
	unassigned := repository.UnassignedFilter
	queue, err := s.tickets.Count(ctx, repository.TicketFilter{Status: &open, AssignedTechID: &unassigned})
	if err != nil {
		return nil, err
	}
	recent, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		AssignedTechID: &techID,
		Order:          repository.OrderRecentlyUpdated,
		Limit:          dashboardRecentLimit,
	})
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		Stats: map[string]int{
			"assigned":    assigned.Total,
			"queue":       queue.Total,
			"in_progress": assigned.ByStatus[domain.TicketStatusInProgress],
			"resolved":    assigned.ByStatus[domain.TicketStatusResolved],
		},
		Recent: recent,
	}, nil
}

func (s *DashboardService) customerSummary(ctx context.Context, customerID string) (*Dashboard, error) {
	counts, err := s.tickets.Count(ctx, repository.TicketFilter{CustomerID: &customerID})
	if err != nil {
		return nil, err
	}
	recent, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		CustomerID: &customerID,
		Order:      repository.OrderNewest,
		Limit:      dashboardRecentLimit,
	})
	if err != nil {
		return nil, err
	}
	resolved := counts.ByStatus[domain.TicketStatusResolved] + counts.ByStatus[domain.TicketStatusClosed]
	return &Dashboard{
		Stats: map[string]int{
			"total":    counts.Total,
			"open":     counts.Total - resolved - counts.ByStatus[domain.TicketStatusCanceled],
			"resolved": resolved,
		},
		Recent: recent,
	}, nil
}
