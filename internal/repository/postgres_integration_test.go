package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
)

// setupTestDB starts a Postgres container and applies the migrations.
// Set TEST_INTEGRATION to run.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("helpdesk_test"),
		postgres.WithUsername("helpdesk"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := zaptest.NewLogger(t)
	require.NoError(t, persistence.RunMigrations(ctx, pool, "../../migrations", logger))
	// a second run is a no-op
	require.NoError(t, persistence.RunMigrations(ctx, pool, "../../migrations", logger))
	return pool
}

func createUser(t *testing.T, repo UserRepository, email string, role domain.Role) *domain.User {
	t.Helper()
	user := &domain.User{Name: email, Email: email, Role: role, Active: true}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func createTicket(t *testing.T, repo TicketRepository, customerID, title string, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Title:       title,
		Description: "about " + title,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Category:    "Technical",
		CustomerID:  customerID,
	}
	require.NoError(t, repo.Create(context.Background(), ticket))
	return ticket
}

func TestPostgres_Users(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)

	tech := createUser(t, users, "tech@example.com", domain.RoleTech)
	assert.NotEmpty(t, tech.ID)
	assert.False(t, tech.CreatedAt.IsZero())

	found, err := users.GetByEmail(ctx, "TECH@example.com")
	require.NoError(t, err)
	assert.Equal(t, tech.ID, found.ID)

	err = users.Create(ctx, &domain.User{Name: "dup", Email: "Tech@Example.com", Role: domain.RoleCustomer, Active: true})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = users.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = users.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	found.Active = false
	require.NoError(t, users.Update(ctx, found))
	role := domain.RoleTech
	active := true
	techs, err := users.List(ctx, UserFilter{Role: &role, Active: &active})
	require.NoError(t, err)
	assert.Empty(t, techs)
}

func TestPostgres_ConditionalUpdate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	alice := createUser(t, users, "alice@example.com", domain.RoleTech)
	bob := createUser(t, users, "bob@example.com", domain.RoleTech)
	ticket := createTicket(t, tickets, customer.ID, "VPN drops", domain.TicketPriorityHigh)

	open := domain.TicketStatusOpen
	claim := func(techID string) error {
		current, err := tickets.GetByID(ctx, ticket.ID)
		require.NoError(t, err)
		current.AssignedTechID = &techID
		current.SetStatus(domain.TicketStatusInProgress, time.Now())
		return tickets.Update(ctx, current, TicketCondition{Status: &open, Unassigned: true})
	}

	require.NoError(t, claim(alice.ID))
	assert.ErrorIs(t, claim(bob.ID), ErrConditionFailed)

	stored, err := tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AssignedTechID)
	assert.Equal(t, alice.ID, *stored.AssignedTechID)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)

	missing := *stored
	missing.ID = uuid.NewString()
	assert.ErrorIs(t, tickets.Update(ctx, &missing, TicketCondition{Status: &open}), ErrNotFound)
	assert.ErrorIs(t, tickets.Update(ctx, &missing, TicketCondition{}), ErrNotFound)
}

func TestPostgres_QueueAndFilters(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	tech := createUser(t, users, "tech@example.com", domain.RoleTech)

	low := createTicket(t, tickets, customer.ID, "Slow laptop", domain.TicketPriorityLow)
	urgent := createTicket(t, tickets, customer.ID, "Server down", domain.TicketPriorityUrgent)
	olderHigh := createTicket(t, tickets, customer.ID, "Email bounce", domain.TicketPriorityHigh)
	newerHigh := createTicket(t, tickets, customer.ID, "Printer jam", domain.TicketPriorityHigh)
	taken := createTicket(t, tickets, customer.ID, "Password reset", domain.TicketPriorityUrgent)
	taken.AssignedTechID = &tech.ID
	require.NoError(t, tickets.Update(ctx, taken, TicketCondition{}))

	open := domain.TicketStatusOpen
	unassigned := UnassignedFilter
	queue, err := tickets.ListWithFilter(ctx, TicketFilter{Status: &open, AssignedTechID: &unassigned, Order: OrderQueue})
	require.NoError(t, err)
	ids := make([]string, 0, len(queue))
	for _, ticket := range queue {
		ids = append(ids, ticket.ID)
	}
	assert.Equal(t, []string{urgent.ID, olderHigh.ID, newerHigh.ID, low.ID}, ids)

	search := "PRINTER"
	found, err := tickets.ListWithFilter(ctx, TicketFilter{SearchTerm: &search})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, newerHigh.ID, found[0].ID)

	counts, err := tickets.Count(ctx, TicketFilter{CustomerID: &customer.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Total)
	assert.Equal(t, 2, counts.ByPriority[domain.TicketPriorityUrgent])

	mine, err := tickets.Count(ctx, TicketFilter{AssignedTechID: &tech.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, mine.Total)
}

func TestPostgres_TxRunnerRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)
	history := NewTicketHistoryRepository(pool)
	tx := NewTxRunner(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	boom := errors.New("boom")

	var rolledBack string
	err := tx.RunInTx(ctx, func(ctx context.Context) error {
		ticket := &domain.Ticket{
			Title:       "Inside tx",
			Description: "never committed",
			Status:      domain.TicketStatusOpen,
			Priority:    domain.TicketPriorityLow,
			Category:    "General",
			CustomerID:  customer.ID,
		}
		if err := tickets.Create(ctx, ticket); err != nil {
			return err
		}
		rolledBack = ticket.ID
		created := string(domain.TicketStatusOpen)
		if err := history.Create(ctx, &domain.HistoryEntry{
			TicketID: ticket.ID,
			ActorID:  customer.ID,
			Action:   domain.HistoryCreated,
			ToValue:  &created,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = tickets.GetByID(ctx, rolledBack)
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := history.ListByTicket(ctx, rolledBack)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostgres_HistoryAndComments(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)
	history := NewTicketHistoryRepository(pool)
	comments := NewCommentRepository(pool)
	tx := NewTxRunner(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	ticket := createTicket(t, tickets, customer.ID, "Billing question", domain.TicketPriorityMedium)

	// entries written in one transaction share created_at
	require.NoError(t, tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, action := range []domain.HistoryAction{domain.HistoryCreated, domain.HistoryStatusChanged, domain.HistoryCommentAdded} {
			if err := history.Create(ctx, &domain.HistoryEntry{TicketID: ticket.ID, ActorID: customer.ID, Action: action}); err != nil {
				return err
			}
		}
		return nil
	}))
	entries, err := history.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.HistoryCommentAdded, entries[0].Action)
	assert.Equal(t, domain.HistoryCreated, entries[2].Action)

	for _, msg := range []string{"first", "second"} {
		require.NoError(t, comments.Create(ctx, &domain.Comment{TicketID: ticket.ID, AuthorID: customer.ID, Message: msg}))
	}
	thread, err := comments.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "first", thread[0].Message)
	assert.Equal(t, "second", thread[1].Message)
}

func TestPostgres_NonUUIDFilterMatchesNothing(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	createTicket(t, tickets, customer.ID, "Mouse broken", domain.TicketPriorityLow)

	bogus := "tech-42"
	list, err := tickets.ListWithFilter(ctx, TicketFilter{AssignedTechID: &bogus})
	require.NoError(t, err)
	assert.Empty(t, list)

	counts, err := tickets.Count(ctx, TicketFilter{CustomerID: &bogus})
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestPostgres_SameInstantTicketsKeepInsertOrder(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)
	tx := NewTxRunner(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)

	// NOW() is fixed for a transaction, so these share created_at
	var created []string
	require.NoError(t, tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, title := range []string{"first", "second", "third"} {
			ticket := &domain.Ticket{
				Title: title, Description: title, Status: domain.TicketStatusOpen,
				Priority: domain.TicketPriorityHigh, Category: "General", CustomerID: customer.ID,
			}
			if err := tickets.Create(ctx, ticket); err != nil {
				return err
			}
			created = append(created, ticket.ID)
		}
		return nil
	}))

	queue, err := tickets.ListWithFilter(ctx, TicketFilter{Order: OrderQueue})
	require.NoError(t, err)
	newest, err := tickets.ListWithFilter(ctx, TicketFilter{Order: OrderNewest})
	require.NoError(t, err)
	require.Len(t, queue, 3)
	require.Len(t, newest, 3)
	for i := range created {
		assert.Equal(t, created[i], queue[i].ID)
		assert.Equal(t, created[len(created)-1-i], newest[i].ID)
	}
}

func TestPostgres_ClosedAtUsesDatabaseClock(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	ticket := createTicket(t, tickets, customer.ID, "Old laptop", domain.TicketPriorityLow)

	// an application clock a day behind the database
	ticket.SetStatus(domain.TicketStatusClosed, ticket.CreatedAt.Add(-24*time.Hour))
	require.NoError(t, tickets.Update(ctx, ticket, TicketCondition{}))
	require.NotNil(t, ticket.ClosedAt)
	assert.False(t, ticket.ClosedAt.Before(ticket.CreatedAt))
	firstClose := *ticket.ClosedAt

	ticket.SetStatus(domain.TicketStatusCanceled, time.Now().Add(time.Hour))
	require.NoError(t, tickets.Update(ctx, ticket, TicketCondition{}))
	require.NotNil(t, ticket.ClosedAt)
	assert.True(t, firstClose.Equal(*ticket.ClosedAt))

	ticket.SetStatus(domain.TicketStatusOpen, time.Now())
	require.NoError(t, tickets.Update(ctx, ticket, TicketCondition{}))
	assert.Nil(t, ticket.ClosedAt)
}

func TestPostgres_AssigneeLockBlocksDemotion(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)
	tx := NewTxRunner(pool)

	customer := createUser(t, users, "cust@example.com", domain.RoleCustomer)
	tech := createUser(t, users, "tech@example.com", domain.RoleTech)
	ticket := createTicket(t, tickets, customer.ID, "Disk full", domain.TicketPriorityHigh)

	locked := make(chan struct{})
	release := make(chan struct{})
	assigned := make(chan error, 1)
	go func() {
		assigned <- tx.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := users.GetByIDLocked(ctx, tech.ID, LockShare); err != nil {
				return err
			}
			close(locked)
			<-release
			ticket.AssignedTechID = &tech.ID
			return tickets.Update(ctx, ticket, TicketCondition{})
		})
	}()
	<-locked

	held := make(chan int, 1)
	demoted := make(chan error, 1)
	go func() {
		demoted <- tx.RunInTx(ctx, func(ctx context.Context) error {
			user, err := users.GetByIDLocked(ctx, tech.ID, LockUpdate)
			if err != nil {
				return err
			}
			counts, err := tickets.Count(ctx, TicketFilter{AssignedTechID: &user.ID})
			if err != nil {
				return err
			}
			held <- counts.Total
			if counts.Total > 0 {
				return nil
			}
			user.Role = domain.RoleCustomer
			return users.Update(ctx, user)
		})
	}()

	select {
	case <-held:
		t.Fatal("demotion read the profile while an assignment held it")
	case <-time.After(300 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-assigned)
	assert.Equal(t, 1, <-held)
	require.NoError(t, <-demoted)

	stored, err := users.GetByID(ctx, tech.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleTech, stored.Role)
}

func TestPostgres_ProfileLockSerializesUpdates(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	tx := NewTxRunner(pool)

	tech := createUser(t, users, "tech@example.com", domain.RoleTech)

	locked := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- tx.RunInTx(ctx, func(ctx context.Context) error {
			user, err := users.GetByIDLocked(ctx, tech.ID, LockUpdate)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			user.Active = false
			return users.Update(ctx, user)
		})
	}()
	<-locked

	second := make(chan error, 1)
	go func() {
		second <- tx.RunInTx(ctx, func(ctx context.Context) error {
			user, err := users.GetByIDLocked(ctx, tech.ID, LockUpdate)
			if err != nil {
				return err
			}
			user.Role = domain.RoleAdmin
			return users.Update(ctx, user)
		})
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	stored, err := users.GetByID(ctx, tech.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active, "deactivation survives the concurrent role change")
	assert.Equal(t, domain.RoleAdmin, stored.Role)
}
