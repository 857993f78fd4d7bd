package domain

import "time"

// HistoryAction captures what changed in a history entry.
type HistoryAction string

const (
	HistoryCreated         HistoryAction = "CREATED"
	HistoryStatusChanged   HistoryAction = "STATUS_CHANGED"
	HistoryPriorityChanged HistoryAction = "PRIORITY_CHANGED"
	HistoryAssignedTech    HistoryAction = "ASSIGNED_TECH"
	HistoryCategoryChanged HistoryAction = "CATEGORY_CHANGED"
	HistoryCommentAdded    HistoryAction = "COMMENT_ADDED"
)

// Visibility markers stored in ToValue of COMMENT_ADDED entries.
const (
	CommentVisibilityPublic   = "PUBLIC"
	CommentVisibilityInternal = "INTERNAL"
)

// HistoryEntry is an immutable audit trail entry.
type HistoryEntry struct {
	ID        string
	TicketID  string
	ActorID   string
	Action    HistoryAction
	FromValue *string
	ToValue   *string
	CreatedAt time.Time
}
