package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// QueryStore persists queries and their results.
type QueryStore interface {
	Create(ctx context.Context, q Query) error
	GetByID(ctx context.Context, id string) (Query, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Query, error)
	// ListDue returns pending queries whose scheduled time has passed,
	// ordered by scheduled time ascending. Immediate queries (nil
	// ScheduledAt) are always due.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Query, error)
	// Claim transitions a query from pending to running atomically. It
	// returns ErrQueryClaimed when the query was no longer pending, so two
	// overlapping ticks can never execute the same query twice. executedAt
	// records the actual execution start; cutoff is the due check, which a
	// run-now request sets to the scheduled time to pull a query forward.
	Claim(ctx context.Context, id string, executedAt, cutoff time.Time) error
	// SetStatus moves a running query to a terminal status. Terminal
	// statuses are never overwritten.
	SetStatus(ctx context.Context, id string, status QueryStatus, errMsg string) error
	// RecordResult stores the 1:1 result row. A second call for the same
	// query returns ErrAlreadyExists.
	RecordResult(ctx context.Context, res QueryResult) error
	GetResult(ctx context.Context, queryID string) (QueryResult, error)
	// Delete removes a query iff it is still pending and owned by owner.
	Delete(ctx context.Context, id, owner string) error
}

// UserStore persists wallet identities.
type UserStore interface {
	Upsert(ctx context.Context, address string, seenAt time.Time) error
	Get(ctx context.Context, address string) (User, error)
}

// MarketStore persists market queries and their resolutions.
type MarketStore interface {
	Create(ctx context.Context, m MarketQuery) error
	GetByContract(ctx context.Context, address string) (MarketQuery, error)
	GetByQueryID(ctx context.Context, queryID string) (MarketQuery, error)
	ListByCreator(ctx context.Context, creator string, opts ListOpts) ([]MarketQuery, error)
	ListUnresolved(ctx context.Context) ([]MarketQuery, error)
	// MarkResolved populates the resolution fields at most once; a second
	// call for the same contract returns ErrAlreadyResolved.
	MarkResolved(ctx context.Context, address string, outcome bool, txHash, analysis string, at time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
