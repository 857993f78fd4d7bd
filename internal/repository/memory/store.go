// Package memory implements the repository contracts in process. It backs
// the service when no Postgres DSN is configured and is used throughout tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

type txKey struct{}

type ticketRow struct {
	seq    int64
	ticket domain.Ticket
}

type historyRow struct {
	seq   int64
	entry domain.HistoryEntry
}

type commentRow struct {
	seq     int64
	comment domain.Comment
}

type userRow struct {
	seq  int64
	user domain.User
}

type state struct {
	tickets  map[string]ticketRow
	history  map[string][]historyRow
	comments map[string][]commentRow
	users    map[string]userRow
}

// txLog collects the inverse of every write made inside one transaction.
type txLog struct {
	undo []func()
}

// Store holds every table behind one lock. A failed transaction reverts only
// the rows it wrote, so writes committed alongside it survive.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data state
	seq  int64
	now  func() time.Time

	// FailWith, when set, is returned by every call. Tests use it to simulate an unreachable store.
	FailWith error
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: state{
			tickets:  make(map[string]ticketRow),
			history:  make(map[string][]historyRow),
			comments: make(map[string][]commentRow),
			users:    make(map[string]userRow),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx serializes fn against other transactions and undoes its writes if fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txLog); ok {
		return fn(ctx)
	}
	if s.FailWith != nil {
		return s.FailWith
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	log := &txLog{}
	if err := fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.mu.Lock()
		for i := len(log.undo) - 1; i >= 0; i-- {
			log.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// record registers undo against the transaction bound to ctx. mu must be held.
func record(ctx context.Context, undo func()) {
	if log, ok := ctx.Value(txKey{}).(*txLog); ok {
		log.undo = append(log.undo, undo)
	}
}

// Tickets returns the ticket repository view.
func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s} }

// History returns the history repository view.
func (s *Store) History() repository.TicketHistoryRepository { return historyRepo{s} }

// Comments returns the comment repository view.
func (s *Store) Comments() repository.CommentRepository { return commentRepo{s} }

// Users returns the user repository view.
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// stampClosed sets closed_at from the store clock, the same clock that sets
// created_at. A ticket already closed keeps its first close time.
func (s *Store) stampClosed(t *domain.Ticket, current *time.Time, now time.Time) *time.Time {
	if !t.Status.Terminal() {
		return nil
	}
	if current != nil {
		closed := *current
		return &closed
	}
	return &now
}

func (s *Store) check(ctx context.Context) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	return ctx.Err()
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	ticket.ClosedAt = r.s.stampClosed(ticket, nil, now)
	id := ticket.ID
	r.s.data.tickets[id] = ticketRow{seq: r.s.nextSeq(), ticket: copyTicket(*ticket)}
	record(ctx, func() { delete(r.s.data.tickets, id) })
	return nil
}

func (r ticketRepo) Update(ctx context.Context, ticket *domain.Ticket, cond repository.TicketCondition) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.data.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cond.Status != nil && row.ticket.Status != *cond.Status {
		return repository.ErrConditionFailed
	}
	if cond.Unassigned && row.ticket.AssignedTechID != nil {
		return repository.ErrConditionFailed
	}

	prev := row
	now := r.s.now()
	updated := copyTicket(*ticket)
	updated.CustomerID = row.ticket.CustomerID
	updated.CreatedAt = row.ticket.CreatedAt
	updated.UpdatedAt = now
	updated.ClosedAt = r.s.stampClosed(&updated, row.ticket.ClosedAt, now)
	row.ticket = updated
	r.s.data.tickets[ticket.ID] = row
	record(ctx, func() { r.s.data.tickets[prev.ticket.ID] = prev })

	ticket.UpdatedAt = updated.UpdatedAt
	ticket.ClosedAt = copyTicket(updated).ClosedAt
	return nil
}

func (r ticketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.data.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ticket := copyTicket(row.ticket)
	return &ticket, nil
}

func (r ticketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	rows, err := r.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortTickets(rows, filter.Order)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	result := []domain.Ticket{}
	for i := offset; i < len(rows) && len(result) < limit; i++ {
		result = append(result, copyTicket(rows[i].ticket))
	}
	return result, nil
}

func (r ticketRepo) Count(ctx context.Context, filter repository.TicketFilter) (repository.TicketCounts, error) {
	counts := repository.NewTicketCounts()
	rows, err := r.matching(ctx, filter)
	if err != nil {
		return counts, err
	}
	for _, row := range rows {
		counts.Total++
		counts.ByStatus[row.ticket.Status]++
		counts.ByPriority[row.ticket.Priority]++
	}
	return counts, nil
}

func (r ticketRepo) matching(ctx context.Context, filter repository.TicketFilter) ([]ticketRow, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var search string
	if filter.SearchTerm != nil {
		search = strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
	}

	rows := []ticketRow{}
	for _, row := range r.s.data.tickets {
		t := row.ticket
		if filter.CustomerID != nil && t.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && t.Priority != *filter.Priority {
			continue
		}
		if filter.Category != nil && t.Category != *filter.Category {
			continue
		}
		if filter.AssignedTechID != nil {
			if *filter.AssignedTechID == repository.UnassignedFilter {
				if t.AssignedTechID != nil {
					continue
				}
			} else if t.AssignedTechID == nil || *t.AssignedTechID != *filter.AssignedTechID {
				continue
			}
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func sortTickets(rows []ticketRow, order repository.TicketOrder) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch order {
		case repository.OrderQueue:
			if ra, rb := a.ticket.Priority.Rank(), b.ticket.Priority.Rank(); ra != rb {
				return ra > rb
			}
			if !a.ticket.CreatedAt.Equal(b.ticket.CreatedAt) {
				return a.ticket.CreatedAt.Before(b.ticket.CreatedAt)
			}
			return a.seq < b.seq
		case repository.OrderRecentlyUpdated:
			if !a.ticket.UpdatedAt.Equal(b.ticket.UpdatedAt) {
				return a.ticket.UpdatedAt.After(b.ticket.UpdatedAt)
			}
			return a.seq > b.seq
		default:
			if !a.ticket.CreatedAt.Equal(b.ticket.CreatedAt) {
				return a.ticket.CreatedAt.After(b.ticket.CreatedAt)
			}
			return a.seq > b.seq
		}
	})
}

type historyRepo struct{ s *Store }

func (r historyRepo) Create(ctx context.Context, entry *domain.HistoryEntry) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.tickets[entry.TicketID]; !ok {
		return repository.ErrNotFound
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.s.now()
	ticketID, id := entry.TicketID, entry.ID
	r.s.data.history[ticketID] = append(r.s.data.history[ticketID], historyRow{
		seq:   r.s.nextSeq(),
		entry: copyHistory(*entry),
	})
	record(ctx, func() {
		rows := r.s.data.history[ticketID]
		for i := range rows {
			if rows[i].entry.ID == id {
				r.s.data.history[ticketID] = append(rows[:i:i], rows[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r historyRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	rows := append([]historyRow(nil), r.s.data.history[ticketID]...)
	r.s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].entry.CreatedAt.Equal(rows[j].entry.CreatedAt) {
			return rows[i].entry.CreatedAt.After(rows[j].entry.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	result := make([]domain.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, copyHistory(row.entry))
	}
	return result, nil
}

type commentRepo struct{ s *Store }

func (r commentRepo) Create(ctx context.Context, comment *domain.Comment) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.tickets[comment.TicketID]; !ok {
		return repository.ErrNotFound
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = r.s.now()
	ticketID, id := comment.TicketID, comment.ID
	r.s.data.comments[ticketID] = append(r.s.data.comments[ticketID], commentRow{
		seq:     r.s.nextSeq(),
		comment: *comment,
	})
	record(ctx, func() {
		rows := r.s.data.comments[ticketID]
		for i := range rows {
			if rows[i].comment.ID == id {
				r.s.data.comments[ticketID] = append(rows[:i:i], rows[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r commentRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	rows := append([]commentRow(nil), r.s.data.comments[ticketID]...)
	r.s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].comment.CreatedAt.Equal(rows[j].comment.CreatedAt) {
			return rows[i].comment.CreatedAt.Before(rows[j].comment.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	result := make([]domain.Comment, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.comment)
	}
	return result, nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, user *domain.User) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.emailTaken(user.Email, "") {
		return repository.ErrConflict
	}
	now := r.s.now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	id := user.ID
	r.s.data.users[id] = userRow{seq: r.s.nextSeq(), user: *user}
	record(ctx, func() { delete(r.s.data.users, id) })
	return nil
}

func (r userRepo) Update(ctx context.Context, user *domain.User) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.data.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.emailTaken(user.Email, user.ID) {
		return repository.ErrConflict
	}
	prev := row
	user.CreatedAt = row.user.CreatedAt
	user.UpdatedAt = r.s.now()
	row.user = *user
	r.s.data.users[user.ID] = row
	record(ctx, func() { r.s.data.users[prev.user.ID] = prev })
	return nil
}

// emailTaken must be called with mu held.
func (r userRepo) emailTaken(email, exceptID string) bool {
	for id, row := range r.s.data.users {
		if id != exceptID && strings.EqualFold(row.user.Email, email) {
			return true
		}
	}
	return false
}

func (r userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := row.user
	return &user, nil
}

// GetByIDLocked is GetByID: transactions are already serialized.
func (r userRepo) GetByIDLocked(ctx context.Context, id string, _ repository.LockMode) (*domain.User, error) {
	return r.GetByID(ctx, id)
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, row := range r.s.data.users {
		if strings.EqualFold(row.user.Email, email) {
			user := row.user
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepo) List(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	rows := make([]userRow, 0, len(r.s.data.users))
	for _, row := range r.s.data.users {
		if filter.Role != nil && row.user.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && row.user.Active != *filter.Active {
			continue
		}
		rows = append(rows, row)
	}
	r.s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].user.CreatedAt.Equal(rows[j].user.CreatedAt) {
			return rows[i].user.CreatedAt.After(rows[j].user.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	result := []domain.User{}
	for i := offset; i < len(rows) && len(result) < limit; i++ {
		result = append(result, rows[i].user)
	}
	return result, nil
}

func copyTicket(t domain.Ticket) domain.Ticket {
	if t.AssignedTechID != nil {
		id := *t.AssignedTechID
		t.AssignedTechID = &id
	}
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		t.ClosedAt = &closed
	}
	return t
}

func copyHistory(e domain.HistoryEntry) domain.HistoryEntry {
	if e.FromValue != nil {
		v := *e.FromValue
		e.FromValue = &v
	}
	if e.ToValue != nil {
		v := *e.ToValue
		e.ToValue = &v
	}
	return e
}
