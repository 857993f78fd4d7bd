package service

import (
	"context"
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

const commentPreviewLength = 140

// CommentService manages ticket comment threads.
type CommentService struct {
	tickets    repository.TicketRepository
	comments   repository.CommentRepository
	history    repository.TicketHistoryRepository
	tx         repository.TxRunner
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	now        func() time.Time
}

// CommentDependencies bundles collaborators for the comment service.
type CommentDependencies struct {
	TicketRepo   repository.TicketRepository
	CommentRepo  repository.CommentRepository
	HistoryRepo  repository.TicketHistoryRepository
	TxRunner     repository.TxRunner
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	StoreTimeout time.Duration
	Clock        func() time.Time
}

// NewCommentService constructs the service.
func NewCommentService(deps CommentDependencies) *CommentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CommentService{
		tickets:    deps.TicketRepo,
		comments:   deps.CommentRepo,
		history:    deps.HistoryRepo,
		tx:         deps.TxRunner,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		timeout:    deps.StoreTimeout,
		now:        clock,
	}
}

// AddComment appends a message to the ticket thread. An internal flag from a
// role that cannot mark comments internal is dropped, not rejected.
func (s *CommentService) AddComment(ctx context.Context, actor *domain.User, ticketID, message string, internal bool) (*domain.Comment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewEmptyMessage()
	}
	if internal && !policy.CanMarkInternal(actor.Role) {
		s.logger.Debug("internal flag dropped", zap.String("ticket_id", ticketID), zap.String("role", string(actor.Role)))
		internal = false
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	comment := &domain.Comment{
		TicketID: ticketID,
		AuthorID: actor.ID,
		Message:  message,
		Internal: internal,
	}
	visibility := domain.CommentVisibilityPublic
	if internal {
		visibility = domain.CommentVisibilityInternal
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if !policy.CanViewTicket(actor, ticket) {
			return apperrors.NewForbidden("access denied")
		}
		if err := s.comments.Create(ctx, comment); err != nil {
			return err
		}
		return s.history.Create(ctx, &domain.HistoryEntry{
			TicketID: ticketID,
			ActorID:  actor.ID,
			Action:   domain.HistoryCommentAdded,
			ToValue:  strPtr(visibility),
		})
	})
	if err != nil {
		mapped := storeError(err, "ticket", ticketID)
		if apperrors.IsCode(mapped, apperrors.CodeStoreUnavailable) {
			s.logger.Error("add comment failed", zap.String("ticket_id", ticketID), zap.Error(err))
		}
		return nil, mapped
	}

	s.metrics.RecordMutation(string(domain.HistoryCommentAdded))
	s.logger.Info("comment added",
		zap.String("ticket_id", ticketID),
		zap.String("comment_id", comment.ID),
		zap.Bool("internal", comment.Internal),
	)
	if s.dispatcher != nil {
		event := events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventTicketCommentAdded,
			TicketID:  ticketID,
			Actor:     events.ActorFrom(actor),
			Timestamp: s.now(),
			Payload: events.TicketCommentAddedPayload{
				CommentID:      comment.ID,
				AuthorID:       comment.AuthorID,
				Internal:       comment.Internal,
				MessagePreview: stringPreview(comment.Message, commentPreviewLength),
			},
		}
		if err := s.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
			s.logger.Warn("event handlers failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}
	return comment, nil
}

// ListComments returns the thread oldest first. Customers never receive internal comments.
func (s *CommentService) ListComments(ctx context.Context, actor *domain.User, ticketID string) ([]domain.Comment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", ticketID)
	}
	if !policy.CanViewTicket(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	comments, err := s.comments.ListByTicket(ctx, ticketID)
	if err != nil {
		s.logger.Error("list comments failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return nil, storeError(err, "ticket", ticketID)
	}
	if policy.CanSeeInternal(actor.Role) {
		return comments, nil
	}
	visible := make([]domain.Comment, 0, len(comments))
	for _, comment := range comments {
		if !comment.Internal {
			visible = append(visible, comment)
		}
	}
	return visible, nil
}
