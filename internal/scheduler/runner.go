// Package scheduler drives query execution: a polling loop claims due
// queries, runs the search fan-out, records results, and kicks off the
// follow-on side effects.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// tickLockKey guards a polling tick across worker replicas.
const tickLockKey = "scheduler:tick"

// eventStream is the durable stream that keeps a bounded history of query
// lifecycle events alongside the ephemeral pub/sub fan-out.
const eventStream = "stream:events:queries"

// Executor runs the search fan-out for one query.
type Executor interface {
	Execute(ctx context.Context, query string) (domain.SearchOutcome, error)
}

// MarketResolver settles the escrow contract linked to a completed query.
type MarketResolver interface {
	Resolve(ctx context.Context, market domain.MarketQuery, summary string, raw []domain.ProviderResult) (domain.Resolution, error)
}

// Mailer sends the query-completion notification.
type Mailer interface {
	SendQueryCompleted(ctx context.Context, to string, q domain.Query, summary string) error
}

// Publisher carries lifecycle events to subscribers and appends them to a
// durable stream.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Config holds the runner's timing parameters.
type Config struct {
	TickInterval time.Duration
	BatchSize    int
}

// Runner is the scheduled-query execution loop.
type Runner struct {
	cfg      Config
	queries  domain.QueryStore
	markets  domain.MarketStore
	executor Executor
	resolver MarketResolver
	mailer   Mailer
	archiver domain.Archiver
	locks    domain.LockManager
	bus      Publisher
	audit    domain.AuditStore
	logger   *slog.Logger

	triggerCh chan string
}

// Deps bundles the runner's collaborators. markets, resolver, mailer,
// archiver, locks, bus, and audit are optional; a nil value disables the
// corresponding side effect.
type Deps struct {
	Queries  domain.QueryStore
	Markets  domain.MarketStore
	Executor Executor
	Resolver MarketResolver
	Mailer   Mailer
	Archiver domain.Archiver
	Locks    domain.LockManager
	Bus      Publisher
	Audit    domain.AuditStore
}

// NewRunner creates the execution loop.
func NewRunner(cfg Config, deps Deps, logger *slog.Logger) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Runner{
		cfg:       cfg,
		queries:   deps.Queries,
		markets:   deps.Markets,
		executor:  deps.Executor,
		resolver:  deps.Resolver,
		mailer:    deps.Mailer,
		archiver:  deps.Archiver,
		locks:     deps.Locks,
		bus:       deps.Bus,
		audit:     deps.Audit,
		logger:    logger.With(slog.String("component", "scheduler")),
		triggerCh: make(chan string, 64),
	}
}

// Trigger asks the loop to run the given query as soon as possible, ahead
// of its scheduled time check on the next tick. The send never blocks; a
// full trigger queue drops the request, which the next tick picks up anyway.
func (r *Runner) Trigger(queryID string) {
	select {
	case r.triggerCh <- queryID:
	default:
	}
}

// Run blocks, processing due queries every tick and run-now triggers as
// they arrive, until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("tick", r.cfg.TickInterval),
		slog.Int("batch", r.cfg.BatchSize))

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	// One immediate pass so a restart does not wait out a full interval.
	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		case id := <-r.triggerCh:
			r.runNow(ctx, id)
		}
	}
}

// tick claims and executes every due query, sequentially. The distributed
// lock keeps replicas from scanning the same batch; the per-query claim is
// still the real guard against double execution.
func (r *Runner) tick(ctx context.Context) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, tickLockKey, r.cfg.TickInterval)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				r.logger.ErrorContext(ctx, "tick lock", slog.String("error", err.Error()))
			}
			return
		}
		defer unlock()
	}

	now := time.Now().UTC()
	due, err := r.queries.ListDue(ctx, now, r.cfg.BatchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "list due queries", slog.String("error", err.Error()))
		return
	}

	for _, q := range due {
		if ctx.Err() != nil {
			return
		}
		r.process(ctx, q)
	}
}

// runNow executes one query immediately if it is still pending, overriding
// a future schedule.
func (r *Runner) runNow(ctx context.Context, queryID string) {
	q, err := r.queries.GetByID(ctx, queryID)
	if err != nil {
		r.logger.WarnContext(ctx, "run-now query missing",
			slog.String("query_id", queryID),
			slog.String("error", err.Error()))
		return
	}
	r.process(ctx, q)
}

// process claims one query and drives it to a terminal status. Side effects
// after the terminal transition are best-effort: each is isolated and
// logged, and none can revert the status.
func (r *Runner) process(ctx context.Context, q domain.Query) {
	// A run-now request raises the due cutoff to the scheduled time so it
	// can pull a future-scheduled query forward; the recorded execution
	// time is always the actual one.
	now := time.Now().UTC()
	cutoff := now
	if q.ScheduledAt != nil && q.ScheduledAt.After(now) {
		cutoff = *q.ScheduledAt
	}
	if err := r.queries.Claim(ctx, q.ID, now, cutoff); err != nil {
		if errors.Is(err, domain.ErrQueryClaimed) {
			return
		}
		r.logger.ErrorContext(ctx, "claim query",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
		return
	}
	r.auditLog(ctx, "query.claimed", map[string]any{"query_id": q.ID})

	outcome, execErr := r.executor.Execute(ctx, q.Text)
	if execErr != nil {
		r.fail(ctx, q, execErr)
		return
	}

	result := domain.QueryResult{
		QueryID:   q.ID,
		Summary:   outcome.Summary,
		Raw:       outcome.Results,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.queries.RecordResult(ctx, result); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		r.fail(ctx, q, fmt.Errorf("record result: %w", err))
		return
	}
	if err := r.queries.SetStatus(ctx, q.ID, domain.QueryStatusCompleted, ""); err != nil {
		r.logger.ErrorContext(ctx, "set completed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
		return
	}

	r.logger.InfoContext(ctx, "query completed", slog.String("query_id", q.ID))
	r.auditLog(ctx, "query.completed", map[string]any{"query_id": q.ID})

	r.resolveLinkedMarket(ctx, q, outcome)
	r.notify(ctx, q, outcome.Summary)
	r.archive(ctx, q, outcome)
	r.publish(ctx, "query_completed", q, "")
}

// fail moves the query to the failed terminal status with the error text.
func (r *Runner) fail(ctx context.Context, q domain.Query, cause error) {
	r.logger.ErrorContext(ctx, "query failed",
		slog.String("query_id", q.ID),
		slog.String("error", cause.Error()))

	if err := r.queries.SetStatus(ctx, q.ID, domain.QueryStatusFailed, cause.Error()); err != nil {
		r.logger.ErrorContext(ctx, "set failed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
		return
	}
	r.auditLog(ctx, "query.failed", map[string]any{"query_id": q.ID, "error": cause.Error()})
	r.publish(ctx, "query_failed", q, cause.Error())
}

func (r *Runner) resolveLinkedMarket(ctx context.Context, q domain.Query, outcome domain.SearchOutcome) {
	if r.markets == nil || r.resolver == nil {
		return
	}
	market, err := r.markets.GetByQueryID(ctx, q.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.ErrorContext(ctx, "load linked market",
				slog.String("query_id", q.ID),
				slog.String("error", err.Error()))
		}
		return
	}
	if market.Resolved {
		return
	}

	res, err := r.resolver.Resolve(ctx, market, outcome.Summary, outcome.Results)
	if err != nil {
		r.logger.ErrorContext(ctx, "market resolution failed",
			slog.String("contract", market.ContractAddress),
			slog.String("error", err.Error()))
		r.auditLog(ctx, "market.resolution_failed", map[string]any{
			"contract": market.ContractAddress,
			"error":    err.Error(),
		})
		return
	}
	r.auditLog(ctx, "market.resolved", map[string]any{
		"contract": market.ContractAddress,
		"outcome":  res.Outcome != nil && *res.Outcome,
		"tx":       res.TxHash,
	})
}

func (r *Runner) notify(ctx context.Context, q domain.Query, summary string) {
	if r.mailer == nil || q.NotifyEmail == "" {
		return
	}
	if err := r.mailer.SendQueryCompleted(ctx, q.NotifyEmail, q, summary); err != nil {
		r.logger.WarnContext(ctx, "completion email failed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) archive(ctx context.Context, q domain.Query, outcome domain.SearchOutcome) {
	if r.archiver == nil {
		return
	}
	if _, err := r.archiver.ArchiveRaw(ctx, q.ID, outcome.Results); err != nil {
		r.logger.WarnContext(ctx, "archive raw results failed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) publish(ctx context.Context, event string, q domain.Query, errText string) {
	if r.bus == nil {
		return
	}
	payload := fmt.Sprintf(`{"type":%q,"query_id":%q,"owner":%q,"error":%q}`,
		event, q.ID, q.Owner, errText)
	if err := r.bus.Publish(ctx, "events:queries", []byte(payload)); err != nil {
		r.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
	if err := r.bus.StreamAppend(ctx, eventStream, []byte(payload)); err != nil {
		r.logger.WarnContext(ctx, "append event to stream failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
