package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veridexhq/veridex/internal/auth"
	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/scheduler"
	"github.com/veridexhq/veridex/internal/server"
	"github.com/veridexhq/veridex/internal/server/handler"
	"github.com/veridexhq/veridex/internal/server/ws"
)

// ServeMode runs only the HTTP API. Queries created here are picked up by a
// separate worker on its next tick.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// WorkerMode runs only the execution loop: due queries, market resolution,
// archival, and operator alerts. No HTTP surface is exposed.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	runner := a.buildRunner(deps)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	a.startArchiveLoop(ctx, g, deps)
	a.startAlertWatcher(ctx, g, deps)
	a.startMarketWatcher(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API and the execution loop in one process. Run-now
// requests reach the scheduler directly instead of waiting out a tick.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := a.buildRunner(deps)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, runner)
	a.startArchiveLoop(ctx, g, deps)
	a.startAlertWatcher(ctx, g, deps)
	a.startMarketWatcher(ctx, g, deps)
	return g.Wait()
}

// buildAuthService assembles the sign-in-with-wallet service.
func (a *App) buildAuthService(deps *Dependencies) *auth.Service {
	return auth.NewService(deps.Nonces, deps.Sessions, deps.Users,
		a.cfg.Server.JWTSecret, a.cfg.Server.SessionTTL.Duration, a.logger)
}

// buildRunner assembles the scheduler loop from the wired dependencies.
func (a *App) buildRunner(deps *Dependencies) *scheduler.Runner {
	schedDeps := scheduler.Deps{
		Queries:  deps.Queries,
		Markets:  deps.Markets,
		Executor: deps.Aggregator,
		Resolver: deps.Resolver,
		Archiver: deps.Archiver,
		Locks:    deps.Locks,
		Bus:      deps.Bus,
		Audit:    deps.Audit,
	}
	if deps.Mailer != nil {
		schedDeps.Mailer = deps.Mailer
	}
	return scheduler.NewRunner(scheduler.Config{
		TickInterval: a.cfg.Scheduler.TickInterval.Duration,
		BatchSize:    a.cfg.Scheduler.BatchSize,
	}, schedDeps, a.logger)
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// errgroup. trigger is nil in serve mode; the query handler then leaves
// run-now to the worker's tick.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger handler.Trigger) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false, no HTTP API in this mode")
		return
	}

	startedAt := time.Now().UTC()
	minLead := a.cfg.Scheduler.MinLead.Duration

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	authSvc := a.buildAuthService(deps)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, startedAt, deps.Counter, a.logger),
		Auth:    handler.NewAuthHandler(authSvc, a.logger),
		Queries: handler.NewQueryHandler(deps.Queries, trigger, minLead, a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, deps.Queries, deps.Escrow,
			deps.Signer.Address(), minLead, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Deps{
		Sessions: authSvc,
		Gate:     deps.Gate,
		Limiter:  deps.RateLimiter,
		Hub:      hub,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop periodically bundles aged result rows into cold storage.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || a.cfg.S3.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				before := time.Now().UTC().Add(-retention)
				count, err := deps.Archiver.ArchiveCompleted(ctx, before)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive results failed",
						slog.String("error", err.Error()))
					continue
				}
				if count > 0 {
					a.logger.InfoContext(ctx, "archived aged results",
						slog.Int64("count", count),
						slog.Time("before", before))
				}
			}
		}
	})
}

// marketWatchInterval is how often the worker scans for markets stuck past
// their resolution date.
const marketWatchInterval = time.Hour

// overdueMarkets filters unresolved markets whose resolution date passed
// more than the watch interval ago. The grace period gives the scheduler's
// own resolution pass time to land before the operator is alerted.
func overdueMarkets(markets []domain.MarketQuery, now time.Time) []domain.MarketQuery {
	var out []domain.MarketQuery
	for _, m := range markets {
		if m.ResolutionDate.Before(now.Add(-marketWatchInterval)) {
			out = append(out, m)
		}
	}
	return out
}

// startMarketWatcher periodically alerts operators about markets that stayed
// unresolved past their resolution date, since resolution failures are not
// retried. Each contract is alerted at most once per process.
func (a *App) startMarketWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}

	g.Go(func() error {
		alerted := make(map[string]bool)
		ticker := time.NewTicker(marketWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				markets, err := deps.Markets.ListUnresolved(ctx)
				if err != nil {
					a.logger.ErrorContext(ctx, "list unresolved markets",
						slog.String("error", err.Error()))
					continue
				}
				for _, m := range overdueMarkets(markets, time.Now().UTC()) {
					if alerted[m.ContractAddress] {
						continue
					}
					alerted[m.ContractAddress] = true
					_ = deps.Notifier.Notify(ctx, "market_unresolved", "Market unresolved",
						fmt.Sprintf("Market %s passed its resolution date %s without a resolution",
							m.ContractAddress, m.ResolutionDate.Format(time.RFC3339)))
				}
			}
		}
	})
}

// startAlertWatcher forwards failure events from the signal bus to the
// operator notification channels.
func (a *App) startAlertWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}

	g.Go(func() error {
		ch, err := deps.Bus.Subscribe(ctx, "events:queries")
		if err != nil {
			return fmt.Errorf("alert watcher: subscribe: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-ch:
				if !ok {
					return nil
				}
				var event struct {
					Type    string `json:"type"`
					QueryID string `json:"query_id"`
					Error   string `json:"error"`
				}
				if err := json.Unmarshal(payload, &event); err != nil {
					continue
				}
				if event.Type != "query_failed" {
					continue
				}
				_ = deps.Notifier.Notify(ctx, event.Type, "Query failed",
					fmt.Sprintf("Query %s failed: %s", event.QueryID, event.Error))
			}
		}
	})
}
