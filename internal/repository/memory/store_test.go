package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTicket(title string, priority domain.TicketPriority) *domain.Ticket {
	return &domain.Ticket{
		Title:       title,
		Description: "d",
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Category:    "General",
		CustomerID:  "cust-1",
	}
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	var created *domain.Ticket
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		created = newTicket("rolled back", domain.TicketPriorityLow)
		require.NoError(t, s.Tickets().Create(ctx, created))
		require.NoError(t, s.History().Create(ctx, &domain.HistoryEntry{
			TicketID: created.ID, ActorID: "cust-1", Action: domain.HistoryCreated,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Tickets().GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	entries, err := s.History().ListByTicket(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTicketUpdate_Conditions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ticket := newTicket("cas", domain.TicketPriorityLow)
	require.NoError(t, s.Tickets().Create(ctx, ticket))

	open := domain.TicketStatusOpen
	resolved := domain.TicketStatusResolved

	stale := *ticket
	stale.Status = domain.TicketStatusInProgress
	assert.ErrorIs(t, s.Tickets().Update(ctx, &stale, repository.TicketCondition{Status: &resolved}), repository.ErrConditionFailed)

	tech := "tech-1"
	claimed := *ticket
	claimed.AssignedTechID = &tech
	claimed.Status = domain.TicketStatusInProgress
	claimed.CustomerID = "someone-else"
	require.NoError(t, s.Tickets().Update(ctx, &claimed, repository.TicketCondition{Status: &open, Unassigned: true}))

	second := *ticket
	second.AssignedTechID = &tech
	assert.ErrorIs(t, s.Tickets().Update(ctx, &second, repository.TicketCondition{Unassigned: true}), repository.ErrConditionFailed)

	stored, err := s.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", stored.CustomerID)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)

	missing := newTicket("missing", domain.TicketPriorityLow)
	missing.ID = "nope"
	assert.ErrorIs(t, s.Tickets().Update(ctx, missing, repository.TicketCondition{}), repository.ErrNotFound)
}

func TestListWithFilter_OrdersAndFilters(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(WithClock(clock.now))
	ctx := context.Background()

	low := newTicket("Low printer", domain.TicketPriorityLow)
	urgent1 := newTicket("Urgent one", domain.TicketPriorityUrgent)
	high := newTicket("High", domain.TicketPriorityHigh)
	urgent2 := newTicket("urgent two", domain.TicketPriorityUrgent)
	for _, ticket := range []*domain.Ticket{low, urgent1, high, urgent2} {
		require.NoError(t, s.Tickets().Create(ctx, ticket))
	}
	tech := "tech-1"
	high.AssignedTechID = &tech
	require.NoError(t, s.Tickets().Update(ctx, high, repository.TicketCondition{}))

	ids := func(tickets []domain.Ticket) []string {
		out := []string{}
		for _, ticket := range tickets {
			out = append(out, ticket.ID)
		}
		return out
	}

	newest, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{urgent2.ID, high.ID, urgent1.ID, low.ID}, ids(newest))

	queue, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{Order: repository.OrderQueue})
	require.NoError(t, err)
	assert.Equal(t, []string{urgent1.ID, urgent2.ID, high.ID, low.ID}, ids(queue))

	recent, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{Order: repository.OrderRecentlyUpdated, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{high.ID}, ids(recent))

	unassigned := repository.UnassignedFilter
	search := "URGENT"
	filtered, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{AssignedTechID: &unassigned, SearchTerm: &search})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{urgent1.ID, urgent2.ID}, ids(filtered))

	byTech, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{AssignedTechID: &tech})
	require.NoError(t, err)
	assert.Equal(t, []string{high.ID}, ids(byTech))

	page, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{high.ID, urgent1.ID}, ids(page))

	counts, err := s.Tickets().Count(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Total)
	assert.Equal(t, 2, counts.ByPriority[domain.TicketPriorityUrgent])
	assert.Equal(t, 4, counts.ByStatus[domain.TicketStatusOpen])
}

func TestHistoryAndComments_Ordering(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return frozen }))
	ctx := context.Background()
	ticket := newTicket("same instant", domain.TicketPriorityLow)
	require.NoError(t, s.Tickets().Create(ctx, ticket))

	for _, action := range []domain.HistoryAction{domain.HistoryCreated, domain.HistoryAssignedTech, domain.HistoryStatusChanged} {
		require.NoError(t, s.History().Create(ctx, &domain.HistoryEntry{TicketID: ticket.ID, ActorID: "a", Action: action}))
	}
	for _, msg := range []string{"first", "second"} {
		require.NoError(t, s.Comments().Create(ctx, &domain.Comment{TicketID: ticket.ID, AuthorID: "a", Message: msg}))
	}

	entries, err := s.History().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.HistoryStatusChanged, entries[0].Action)
	assert.Equal(t, domain.HistoryCreated, entries[2].Action)

	comments, err := s.Comments().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Message)

	assert.ErrorIs(t, s.History().Create(ctx, &domain.HistoryEntry{TicketID: "nope"}), repository.ErrNotFound)
	assert.ErrorIs(t, s.Comments().Create(ctx, &domain.Comment{TicketID: "nope"}), repository.ErrNotFound)
}

func TestUsers_UniqueEmailAndFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tech := &domain.User{Name: "T", Email: "tech@example.com", Role: domain.RoleTech, Active: true}
	require.NoError(t, s.Users().Create(ctx, tech))
	assert.NotEmpty(t, tech.ID)

	dup := &domain.User{Name: "D", Email: "TECH@example.com", Role: domain.RoleCustomer}
	assert.ErrorIs(t, s.Users().Create(ctx, dup), repository.ErrConflict)

	found, err := s.Users().GetByEmail(ctx, "Tech@Example.com")
	require.NoError(t, err)
	assert.Equal(t, tech.ID, found.ID)

	role := domain.RoleTech
	techs, err := s.Users().List(ctx, repository.UserFilter{Role: &role})
	require.NoError(t, err)
	assert.Len(t, techs, 1)

	found.Active = false
	require.NoError(t, s.Users().Update(ctx, found))
	active := true
	activeTechs, err := s.Users().List(ctx, repository.UserFilter{Role: &role, Active: &active})
	require.NoError(t, err)
	assert.Empty(t, activeTechs)
}

func TestFailWith(t *testing.T) {
	s := NewStore()
	down := errors.New("down")
	s.FailWith = down
	ctx := context.Background()

	_, err := s.Tickets().GetByID(ctx, "x")
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, s.RunInTx(ctx, func(context.Context) error { return nil }), down)
}

func TestRunInTx_RollbackKeepsConcurrentWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	written := make(chan string)
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.RunInTx(ctx, func(ctx context.Context) error {
			ticket := newTicket("rejected", domain.TicketPriorityLow)
			if err := s.Tickets().Create(ctx, ticket); err != nil {
				return err
			}
			written <- ticket.ID
			<-release
			return boom
		})
	}()
	rejectedID := <-written

	user := &domain.User{Name: "Erin", Email: "erin@example.com", Role: domain.RoleTech, Active: true}
	require.NoError(t, s.Users().Create(ctx, user))
	kept := newTicket("kept", domain.TicketPriorityHigh)
	require.NoError(t, s.Tickets().Create(ctx, kept))

	close(release)
	require.ErrorIs(t, <-done, boom)

	_, err := s.Tickets().GetByID(ctx, rejectedID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Users().GetByID(ctx, user.ID)
	assert.NoError(t, err)
	_, err = s.Tickets().GetByID(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestRunInTx_RollbackRestoresUpdatedRows(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ticket := newTicket("original", domain.TicketPriorityLow)
	require.NoError(t, s.Tickets().Create(ctx, ticket))
	user := &domain.User{Name: "T", Email: "t@example.com", Role: domain.RoleTech, Active: true}
	require.NoError(t, s.Users().Create(ctx, user))

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		changed := *ticket
		changed.Priority = domain.TicketPriorityUrgent
		require.NoError(t, s.Tickets().Update(ctx, &changed, repository.TicketCondition{}))
		demoted := *user
		demoted.Role = domain.RoleCustomer
		require.NoError(t, s.Users().Update(ctx, &demoted))
		require.NoError(t, s.Comments().Create(ctx, &domain.Comment{TicketID: ticket.ID, AuthorID: user.ID, Message: "gone"}))
		return errors.New("rejected")
	})
	require.Error(t, err)

	stored, err := s.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, stored.Priority)
	storedUser, err := s.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleTech, storedUser.Role)
	comments, err := s.Comments().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestTicketUpdate_StampsClosedAtFromStoreClock(t *testing.T) {
	storeNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return storeNow }))
	ctx := context.Background()
	ticket := newTicket("drift", domain.TicketPriorityLow)
	require.NoError(t, s.Tickets().Create(ctx, ticket))

	// caller's clock runs a day behind the store
	ticket.SetStatus(domain.TicketStatusClosed, storeNow.Add(-24*time.Hour))
	require.NoError(t, s.Tickets().Update(ctx, ticket, repository.TicketCondition{}))
	require.NotNil(t, ticket.ClosedAt)
	assert.Equal(t, storeNow, *ticket.ClosedAt)

	storeNow = storeNow.Add(time.Hour)
	ticket.SetStatus(domain.TicketStatusCanceled, storeNow)
	require.NoError(t, s.Tickets().Update(ctx, ticket, repository.TicketCondition{}))
	stored, err := s.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClosedAt)
	assert.Equal(t, storeNow.Add(-time.Hour), *stored.ClosedAt, "first close time is kept")
	assert.False(t, stored.ClosedAt.Before(stored.CreatedAt))
}
