package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CommentRepository manages ticket comment threads. Comments are immutable.
type CommentRepository interface {
	Create(ctx context.Context, comment *domain.Comment) error
	// ListByTicket returns comments oldest first.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error)
}

type commentRepository struct {
	pool *pgxpool.Pool
}

// NewCommentRepository builds repository.
func NewCommentRepository(pool *pgxpool.Pool) CommentRepository {
	return &commentRepository{pool: pool}
}

func (r *commentRepository) Create(ctx context.Context, comment *domain.Comment) error {
	const query = `
        INSERT INTO ticket_comments (ticket_id, author_id, message, is_internal)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		comment.TicketID,
		comment.AuthorID,
		comment.Message,
		comment.Internal,
	).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *commentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	const query = `
        SELECT id, ticket_id, author_id, message, is_internal, created_at
        FROM ticket_comments WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", notFound(err))
	}
	defer rows.Close()

	result := []domain.Comment{}
	for rows.Next() {
		var comment domain.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.TicketID,
			&comment.AuthorID,
			&comment.Message,
			&comment.Internal,
			&comment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, comment)
	}
	return result, rows.Err()
}
