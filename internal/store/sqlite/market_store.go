package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// MarketStore implements domain.MarketStore using SQLite.
type MarketStore struct {
	db *sql.DB
}

// NewMarketStore creates a new MarketStore backed by the given database.
func NewMarketStore(db *sql.DB) *MarketStore {
	return &MarketStore{db: db}
}

const marketCols = `contract_address, query_id, question, creator, resolution_date,
	resolved, outcome, resolution_tx, resolved_at, analysis, created_at`

func scanMarket(row interface{ Scan(...any) error }) (domain.MarketQuery, error) {
	var m domain.MarketQuery
	var resolutionDate, createdAt string
	var outcome sql.NullBool
	var resolvedAt sql.NullString
	err := row.Scan(
		&m.ContractAddress, &m.QueryID, &m.Question, &m.Creator, &resolutionDate,
		&m.Resolved, &outcome, &m.ResolutionTx, &resolvedAt, &m.Analysis, &createdAt,
	)
	if err != nil {
		return domain.MarketQuery{}, err
	}
	if outcome.Valid {
		v := outcome.Bool
		m.Outcome = &v
	}
	if m.ResolutionDate, err = decodeTime(resolutionDate); err != nil {
		return domain.MarketQuery{}, err
	}
	if m.ResolvedAt, err = decodeTimePtr(resolvedAt); err != nil {
		return domain.MarketQuery{}, err
	}
	if m.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.MarketQuery{}, err
	}
	return m, nil
}

// Create inserts a new market query row. A duplicate contract address or
// query ID returns ErrAlreadyExists.
func (s *MarketStore) Create(ctx context.Context, m domain.MarketQuery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_queries
			(contract_address, query_id, question, creator, resolution_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ContractAddress, m.QueryID, m.Question, m.Creator,
		encodeTime(m.ResolutionDate), encodeTime(m.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: create market %s: %w", m.ContractAddress, err)
	}
	return nil
}

// GetByContract retrieves a market query by contract address.
func (s *MarketStore) GetByContract(ctx context.Context, address string) (domain.MarketQuery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+marketCols+` FROM market_queries WHERE contract_address = ?`, address)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MarketQuery{}, domain.ErrNotFound
		}
		return domain.MarketQuery{}, fmt.Errorf("sqlite: get market %s: %w", address, err)
	}
	return m, nil
}

// GetByQueryID retrieves the market query linked to the given search query.
func (s *MarketStore) GetByQueryID(ctx context.Context, queryID string) (domain.MarketQuery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+marketCols+` FROM market_queries WHERE query_id = ?`, queryID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MarketQuery{}, domain.ErrNotFound
		}
		return domain.MarketQuery{}, fmt.Errorf("sqlite: get market for query %s: %w", queryID, err)
	}
	return m, nil
}

// ListByCreator returns the creator's markets, newest first.
func (s *MarketStore) ListByCreator(ctx context.Context, creator string, opts domain.ListOpts) ([]domain.MarketQuery, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marketCols+` FROM market_queries WHERE creator = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		creator, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets for %s: %w", creator, err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListUnresolved returns markets awaiting resolution, oldest resolution
// date first.
func (s *MarketStore) ListUnresolved(ctx context.Context) ([]domain.MarketQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marketCols+` FROM market_queries WHERE resolved = 0 ORDER BY resolution_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list unresolved markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

func collectMarkets(rows *sql.Rows) ([]domain.MarketQuery, error) {
	var out []domain.MarketQuery
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list markets rows: %w", err)
	}
	return out, nil
}

// MarkResolved populates the resolution fields at most once. The
// resolved = 0 predicate makes the first writer win; a later call for the
// same contract returns ErrAlreadyResolved.
func (s *MarketStore) MarkResolved(ctx context.Context, address string, outcome bool, txHash, analysis string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE market_queries
		SET resolved = 1, outcome = ?, resolution_tx = ?, analysis = ?, resolved_at = ?
		WHERE contract_address = ? AND resolved = 0`,
		outcome, txHash, analysis, encodeTime(at), address,
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark market %s resolved: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: mark market %s resolved rows affected: %w", address, err)
	}
	if n == 0 {
		if _, getErr := s.GetByContract(ctx, address); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}
