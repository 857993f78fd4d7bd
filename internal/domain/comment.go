package domain

import "time"

// Comment is a message in a ticket thread. Internal comments are hidden from customers.
type Comment struct {
	ID        string
	TicketID  string
	AuthorID  string
	Message   string
	Internal  bool
	CreatedAt time.Time
}
