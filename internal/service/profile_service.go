package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// ProfileService resolves the names and roles shown beside tickets, comments
// and history. Any authenticated role may read them; emails are never exposed.
type ProfileService struct {
	users   repository.UserRepository
	logger  *zap.Logger
	timeout time.Duration
}

// NewProfileService constructs the service. users is usually the cached repository.
func NewProfileService(users repository.UserRepository, logger *zap.Logger, storeTimeout time.Duration) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{users: users, logger: logger, timeout: storeTimeout}
}

// Summaries returns the summary of every known id. Empty and unknown ids are omitted.
func (s *ProfileService) Summaries(ctx context.Context, ids ...string) (map[string]domain.UserSummary, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	out := make(map[string]domain.UserSummary, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		user, err := s.users.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("resolve profile failed", zap.String("user_id", id), zap.Error(err))
			return nil, storeError(err, "user", id)
		}
		out[id] = user.Summary()
	}
	return out, nil
}

// TicketProfiles resolves the customer and technician of each ticket.
func (s *ProfileService) TicketProfiles(ctx context.Context, tickets ...domain.Ticket) (map[string]domain.UserSummary, error) {
	ids := make([]string, 0, 2*len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.CustomerID)
		if t.AssignedTechID != nil {
			ids = append(ids, *t.AssignedTechID)
		}
	}
	return s.Summaries(ctx, ids...)
}
