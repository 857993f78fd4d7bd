package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketHistoryRepository stores audit entries. Entries are append-only.
type TicketHistoryRepository interface {
	Create(ctx context.Context, entry *domain.HistoryEntry) error
	// ListByTicket returns entries newest first.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, entry *domain.HistoryEntry) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, actor_id, action, from_value, to_value)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		entry.TicketID,
		entry.ActorID,
		string(entry.Action),
		entry.FromValue,
		entry.ToValue,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	const query = `
        SELECT id, ticket_id, actor_id, action, from_value, to_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at DESC, seq DESC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", notFound(err))
	}
	defer rows.Close()

	result := []domain.HistoryEntry{}
	for rows.Next() {
		var (
			entry  domain.HistoryEntry
			action string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.ActorID,
			&action,
			&entry.FromValue,
			&entry.ToValue,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Action = domain.HistoryAction(action)
		result = append(result, entry)
	}
	return result, rows.Err()
}
