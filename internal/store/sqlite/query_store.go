package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// QueryStore implements domain.QueryStore using SQLite.
type QueryStore struct {
	db *sql.DB
}

// NewQueryStore creates a new QueryStore backed by the given database.
func NewQueryStore(db *sql.DB) *QueryStore {
	return &QueryStore{db: db}
}

const queryCols = `id, owner, text, scheduled_at, notify_email, status, error, created_at, executed_at`

// scanQuery scans a single query row into a domain.Query.
func scanQuery(row interface{ Scan(...any) error }) (domain.Query, error) {
	var q domain.Query
	var status, createdAt string
	var scheduledAt, executedAt sql.NullString
	err := row.Scan(
		&q.ID, &q.Owner, &q.Text, &scheduledAt, &q.NotifyEmail,
		&status, &q.Error, &createdAt, &executedAt,
	)
	if err != nil {
		return domain.Query{}, err
	}
	q.Status = domain.QueryStatus(status)
	if q.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.Query{}, err
	}
	if q.ScheduledAt, err = decodeTimePtr(scheduledAt); err != nil {
		return domain.Query{}, err
	}
	if q.ExecutedAt, err = decodeTimePtr(executedAt); err != nil {
		return domain.Query{}, err
	}
	return q, nil
}

// Create inserts a new query row.
func (s *QueryStore) Create(ctx context.Context, q domain.Query) error {
	const query = `
		INSERT INTO queries (id, owner, text, scheduled_at, notify_email, status, error, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		q.ID, q.Owner, q.Text, encodeTimePtr(q.ScheduledAt), q.NotifyEmail,
		string(q.Status), q.Error, encodeTime(q.CreatedAt), encodeTimePtr(q.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create query %s: %w", q.ID, err)
	}
	return nil
}

// GetByID retrieves a query by its primary key.
func (s *QueryStore) GetByID(ctx context.Context, id string) (domain.Query, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queryCols+` FROM queries WHERE id = ?`, id)
	q, err := scanQuery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Query{}, domain.ErrNotFound
		}
		return domain.Query{}, fmt.Errorf("sqlite: get query %s: %w", id, err)
	}
	return q, nil
}

// ListByOwner returns the owner's queries, newest first.
func (s *QueryStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Query, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queryCols+` FROM queries WHERE owner = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		owner, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list queries for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []domain.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan query: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list queries rows: %w", err)
	}
	return out, nil
}

// ListDue returns pending queries whose scheduled time has passed, ordered
// by scheduled time ascending. Queries with no scheduled time are always due
// and sort first.
func (s *QueryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Query, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queryCols+` FROM queries
		WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY scheduled_at IS NOT NULL, scheduled_at ASC
		LIMIT ?`,
		encodeTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list due queries: %w", err)
	}
	defer rows.Close()

	var out []domain.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan due query: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list due queries rows: %w", err)
	}
	return out, nil
}

// Claim transitions a query from pending to running. The conditional update
// is the claim: whichever caller observes one affected row owns the query,
// so an overlapping tick or a concurrent run-now request cannot execute it
// a second time. executed_at records the actual execution start; cutoff only
// feeds the due check.
func (s *QueryStore) Claim(ctx context.Context, id string, executedAt, cutoff time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries SET status = 'running', executed_at = ?
		WHERE id = ? AND status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= ?)`,
		encodeTime(executedAt), id, encodeTime(cutoff),
	)
	if err != nil {
		return fmt.Errorf("sqlite: claim query %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: claim query %s rows affected: %w", id, err)
	}
	if n == 0 {
		return domain.ErrQueryClaimed
	}
	return nil
}

// SetStatus moves a running query to a terminal status. A query already in a
// terminal state is never overwritten; such calls return ErrNotFound so the
// caller notices the lost race.
func (s *QueryStore) SetStatus(ctx context.Context, id string, status domain.QueryStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries SET status = ?, error = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(status), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set query %s status %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set query %s status rows affected: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordResult stores the 1:1 result row for a query. The primary key on
// query_id makes a duplicate insert fail, which is surfaced as
// ErrAlreadyExists.
func (s *QueryStore) RecordResult(ctx context.Context, r domain.QueryResult) error {
	raw, err := json.Marshal(r.Raw)
	if err != nil {
		return fmt.Errorf("sqlite: marshal raw results for %s: %w", r.QueryID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_results (query_id, summary, raw, error, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.QueryID, r.Summary, string(raw), r.Error, encodeTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: record result for %s: %w", r.QueryID, err)
	}
	return nil
}

// GetResult retrieves the result row for a query.
func (s *QueryStore) GetResult(ctx context.Context, queryID string) (domain.QueryResult, error) {
	var r domain.QueryResult
	var raw, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT query_id, summary, raw, error, created_at
		FROM query_results WHERE query_id = ?`, queryID,
	).Scan(&r.QueryID, &r.Summary, &raw, &r.Error, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QueryResult{}, domain.ErrNotFound
		}
		return domain.QueryResult{}, fmt.Errorf("sqlite: get result for %s: %w", queryID, err)
	}
	if err := json.Unmarshal([]byte(raw), &r.Raw); err != nil {
		return domain.QueryResult{}, fmt.Errorf("sqlite: unmarshal raw results for %s: %w", queryID, err)
	}
	if r.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.QueryResult{}, err
	}
	return r, nil
}

// Delete removes a query iff it is still pending and owned by owner. The
// error distinguishes a missing row, a foreign owner, and a non-pending
// status so handlers can answer precisely.
func (s *QueryStore) Delete(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queries WHERE id = ? AND owner = ? AND status = 'pending'`,
		id, owner,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete query %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete query %s rows affected: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	// Nothing deleted: inspect the row to report why.
	q, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	if q.Owner != owner {
		return domain.ErrNotOwner
	}
	return domain.ErrNotPending
}

// ListResultsBefore returns result rows created strictly before the cutoff,
// oldest first, for archival.
func (s *QueryStore) ListResultsBefore(ctx context.Context, before time.Time) ([]domain.QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_id, summary, raw, error, created_at
		FROM query_results WHERE created_at < ? ORDER BY created_at ASC`,
		encodeTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list results before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.QueryResult
	for rows.Next() {
		var r domain.QueryResult
		var raw, createdAt string
		if err := rows.Scan(&r.QueryID, &r.Summary, &raw, &r.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan archived result: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Raw); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal raw results: %w", err)
		}
		if r.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list results rows: %w", err)
	}
	return out, nil
}

// DeleteResultsBefore prunes result rows created strictly before the cutoff,
// once they have been archived to cold storage. The queries themselves stay.
func (s *QueryStore) DeleteResultsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM query_results WHERE created_at < ?`, encodeTime(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete results before %s: %w", before, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete results rows affected: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of queries per status, for the status
// endpoint.
func (s *QueryStore) CountByStatus(ctx context.Context) (map[domain.QueryStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count queries by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.QueryStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scan status count: %w", err)
		}
		out[domain.QueryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: count queries rows: %w", err)
	}
	return out, nil
}
