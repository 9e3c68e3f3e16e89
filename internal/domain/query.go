package domain

import "time"

// QueryStatus represents the lifecycle state of a search query. Transitions
// are strictly pending -> running -> {completed, failed}; completed and
// failed are terminal.
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusRunning   QueryStatus = "running"
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s QueryStatus) IsTerminal() bool {
	return s == QueryStatusCompleted || s == QueryStatusFailed
}

// Query is a user-submitted search query. ScheduledAt is nil for immediate
// queries; a scheduled query becomes due once ScheduledAt <= now and is
// picked up by the scheduler loop. Owner is the submitting wallet address;
// queries are never mutated by any other identity.
type Query struct {
	ID          string
	Owner       string // lowercase 0x wallet address
	Text        string
	ScheduledAt *time.Time
	NotifyEmail string
	Status      QueryStatus
	Error       string // terminal failure message, empty otherwise
	CreatedAt   time.Time
	ExecutedAt  *time.Time
}

// Due reports whether the query is eligible for execution at the given time.
func (q Query) Due(now time.Time) bool {
	if q.Status != QueryStatusPending {
		return false
	}
	return q.ScheduledAt == nil || !q.ScheduledAt.After(now)
}

// QueryResult is the 1:1 outcome of executing a query. It is created exactly
// once, at the terminal status transition.
type QueryResult struct {
	QueryID   string
	Summary   string
	Raw       []ProviderResult
	Error     string
	CreatedAt time.Time
}
