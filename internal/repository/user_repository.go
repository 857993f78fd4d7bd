package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// UserFilter defines query params for user listing.
type UserFilter struct {
	Role   *domain.Role
	Active *bool
	Limit  int
	Offset int
}

// LockMode selects the row lock GetByIDLocked takes. The lock is held until
// the surrounding transaction ends; outside a transaction it is released at once.
type LockMode int

const (
	// LockShare blocks concurrent writers but not other sharers (FOR SHARE).
	LockShare LockMode = iota
	// LockUpdate blocks writers and sharers (FOR UPDATE).
	LockUpdate
)

// UserRepository defines persistence access for profiles.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByIDLocked reads the profile and locks its row for the rest of the transaction.
	GetByIDLocked(ctx context.Context, id string, mode LockMode) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// List returns users newest first.
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, role, is_active, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (name, email, password_hash, role, is_active)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Active,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET name=$1, email=$2, password_hash=$3, role=$4, is_active=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Active,
		user.ID,
	).Scan(&user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err = notFound(err); err == ErrNotFound {
			return err
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *userRepository) GetByIDLocked(ctx context.Context, id string, mode LockMode) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1 FOR SHARE`
	if mode == LockUpdate {
		query = `SELECT ` + userColumns + ` FROM users WHERE id=$1 FOR UPDATE`
	}
	return r.fetchSingle(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email)=LOWER($1)`
	return r.fetchSingle(ctx, query, email)
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := conn(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	user.Role = domain.Role(role)
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	clauses := []string{}

	if filter.Role != nil {
		args = append(args, string(*filter.Role))
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("is_active=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset, 100)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT %d OFFSET %d", limit, offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	result := []domain.User{}
	for rows.Next() {
		var (
			user domain.User
			role string
		)
		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.PasswordHash,
			&role,
			&user.Active,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		user.Role = domain.Role(role)
		result = append(result, user)
	}
	return result, rows.Err()
}
