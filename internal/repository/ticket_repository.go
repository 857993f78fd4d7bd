package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// UnassignedFilter is the AssignedTechID sentinel matching tickets with no technician.
const UnassignedFilter = "UNASSIGNED"

// TicketOrder selects the listing order.
type TicketOrder int

const (
	// OrderNewest sorts by creation time, newest first.
	OrderNewest TicketOrder = iota
	// OrderQueue sorts by priority (most urgent first), then oldest first.
	OrderQueue
	// OrderRecentlyUpdated sorts by last update, newest first.
	OrderRecentlyUpdated
)

// TicketFilter captures listing parameters. Nil fields do not filter.
type TicketFilter struct {
	CustomerID     *string
	Status         *domain.TicketStatus
	Priority       *domain.TicketPriority
	Category       *string
	AssignedTechID *string
	SearchTerm     *string
	Order          TicketOrder
	Limit          int
	Offset         int
}

// TicketCondition guards Update. Zero value means unconditional.
type TicketCondition struct {
	Status     *domain.TicketStatus
	Unassigned bool
}

func (c TicketCondition) empty() bool {
	return c.Status == nil && !c.Unassigned
}

// TicketCounts aggregates tickets matching a filter.
type TicketCounts struct {
	Total      int
	ByStatus   map[domain.TicketStatus]int
	ByPriority map[domain.TicketPriority]int
}

// NewTicketCounts returns counts with initialized maps.
func NewTicketCounts() TicketCounts {
	return TicketCounts{
		ByStatus:   make(map[domain.TicketStatus]int),
		ByPriority: make(map[domain.TicketPriority]int),
	}
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes the mutable fields of ticket when cond holds and refreshes UpdatedAt.
	// ClosedAt is stamped by the store from the clock that set CreatedAt; a ticket
	// already closed keeps its first close time. It returns ErrConditionFailed
	// when the row exists but cond does not match.
	Update(ctx context.Context, ticket *domain.Ticket, cond TicketCondition) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (TicketCounts, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, title, description, status, priority, category, customer_id,
               assigned_tech_id, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, category, customer_id, assigned_tech_id, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,CASE WHEN $3 IN ('CLOSED','CANCELED') THEN NOW() END)
        RETURNING id, created_at, updated_at, closed_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.Category,
		ticket.CustomerID,
		ticket.AssignedTechID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt, &ticket.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket, cond TicketCondition) error {
	query := `
        UPDATE tickets SET title=$1, description=$2, status=$3, priority=$4, category=$5,
            assigned_tech_id=$6, updated_at=NOW(),
            closed_at=CASE WHEN $3 IN ('CLOSED','CANCELED') THEN COALESCE(closed_at, NOW()) END
        WHERE id=$7`
	args := []any{
		ticket.Title,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.Category,
		ticket.AssignedTechID,
		ticket.ID,
	}
	if cond.Status != nil {
		args = append(args, string(*cond.Status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cond.Unassigned {
		query += " AND assigned_tech_id IS NULL"
	}
	query += " RETURNING updated_at, closed_at"

	err := conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&ticket.UpdatedAt, &ticket.ClosedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update ticket: %w", err)
	}
	if cond.empty() {
		return ErrNotFound
	}
	if _, getErr := r.GetByID(ctx, ticket.ID); getErr != nil {
		return getErr
	}
	return ErrConditionFailed
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := ticketWhere(filter)
	limit, offset := normalizePage(filter.Limit, filter.Offset, 50)

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
		ticketColumns, where, orderClause(filter.Order), limit, offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (TicketCounts, error) {
	where, args := ticketWhere(filter)
	query := fmt.Sprintf(`SELECT status, priority, COUNT(*) FROM tickets WHERE %s GROUP BY status, priority`, where)

	counts := NewTicketCounts()
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return counts, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status   string
			priority string
			n        int
		)
		if err := rows.Scan(&status, &priority, &n); err != nil {
			return counts, err
		}
		counts.Total += n
		counts.ByStatus[domain.TicketStatus(status)] += n
		counts.ByPriority[domain.TicketPriority(priority)] += n
	}
	return counts, rows.Err()
}

// ticketWhere builds the filter predicate. Ids that are not uuids match no
// row instead of failing the uuid cast.
func ticketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CustomerID != nil {
		if !isUUID(*filter.CustomerID) {
			return "FALSE", nil
		}
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, string(*filter.Priority))
		clauses = append(clauses, fmt.Sprintf("priority=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.AssignedTechID != nil {
		if *filter.AssignedTechID == UnassignedFilter {
			clauses = append(clauses, "assigned_tech_id IS NULL")
		} else {
			if !isUUID(*filter.AssignedTechID) {
				return "FALSE", nil
			}
			args = append(args, *filter.AssignedTechID)
			clauses = append(clauses, fmt.Sprintf("assigned_tech_id=$%d", len(args)))
		}
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const priorityRank = `CASE priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 1 ELSE 0 END`

func orderClause(order TicketOrder) string {
	switch order {
	case OrderQueue:
		return priorityRank + ` DESC, created_at ASC, seq ASC`
	case OrderRecentlyUpdated:
		return `updated_at DESC, seq DESC`
	default:
		return `created_at DESC, seq DESC`
	}
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket   domain.Ticket
		status   string
		priority string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&status,
		&priority,
		&ticket.Category,
		&ticket.CustomerID,
		&ticket.AssignedTechID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	ticket.Priority = domain.TicketPriority(priority)
	return &ticket, nil
}
