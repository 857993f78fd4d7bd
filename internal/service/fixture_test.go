package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type fixture struct {
	store     *memory.Store
	tickets   *TicketService
	comments  *CommentService
	users     *UserService
	dashboard *DashboardService

	admin     *domain.User
	alice     *domain.User
	bob       *domain.User
	customer  *domain.User
	otherCust *domain.User

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	dispatcher := events.NewInMemoryDispatcher()
	f := &fixture{store: store}
	dispatcher.SubscribeAll(func(_ context.Context, e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	})

	f.tickets = NewTicketService(TicketDependencies{
		TicketRepo:  store.Tickets(),
		HistoryRepo: store.History(),
		UserRepo:    store.Users(),
		TxRunner:    store,
		Categories:  domain.NewCategoryList(domain.DefaultCategories),
		Dispatcher:  dispatcher,
	})
	f.comments = NewCommentService(CommentDependencies{
		TicketRepo:  store.Tickets(),
		CommentRepo: store.Comments(),
		HistoryRepo: store.History(),
		TxRunner:    store,
		Dispatcher:  dispatcher,
	})
	f.users = NewUserService(UserDependencies{
		UserRepo:   store.Users(),
		TicketRepo: store.Tickets(),
		TxRunner:   store,
		Dispatcher: dispatcher,
		BcryptCost: 4,
	})
	f.dashboard = NewDashboardService(store.Tickets(), nil, 0)

	f.admin = f.seedUser(t, "admin-1", "Ada", domain.RoleAdmin)
	f.alice = f.seedUser(t, "tech-alice", "Alice", domain.RoleTech)
	f.bob = f.seedUser(t, "tech-bob", "Bob", domain.RoleTech)
	f.customer = f.seedUser(t, "cust-1", "Carol", domain.RoleCustomer)
	f.otherCust = f.seedUser(t, "cust-2", "Dan", domain.RoleCustomer)
	return f
}

func (f *fixture) seedUser(t *testing.T, id, name string, role domain.Role) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:     id,
		Name:   name,
		Email:  id + "@example.com",
		Role:   role,
		Active: true,
	}
	require.NoError(t, f.store.Users().Create(context.Background(), user))
	return user
}

func (f *fixture) openTicket(t *testing.T, title string, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), f.customer, TicketCreateInput{
		Title:       title,
		Description: "details for " + title,
		Category:    "Technical",
		Priority:    priority,
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) history(t *testing.T, ticketID string) []domain.HistoryEntry {
	t.Helper()
	entries, err := f.store.History().ListByTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, apperrors.IsCode(err, code), "expected %s, got %v", code, err)
}

func ptr[T any](v T) *T {
	return &v
}
