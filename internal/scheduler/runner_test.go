package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/store/sqlite"
)

type fakeExecutor struct {
	outcome domain.SearchOutcome
	err     error
	calls   int
}

func (f *fakeExecutor) Execute(ctx context.Context, query string) (domain.SearchOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeResolver struct {
	err     error
	markets []string
	summary string
}

func (f *fakeResolver) Resolve(ctx context.Context, market domain.MarketQuery, summary string, raw []domain.ProviderResult) (domain.Resolution, error) {
	f.markets = append(f.markets, market.ContractAddress)
	f.summary = summary
	if f.err != nil {
		return domain.Resolution{}, f.err
	}
	outcome := true
	return domain.Resolution{Outcome: &outcome, TxHash: "0xtx"}, nil
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) SendQueryCompleted(ctx context.Context, to string, q domain.Query, summary string) error {
	f.sent = append(f.sent, to)
	return nil
}

type fakeBus struct {
	published map[string][]string
	streamed  map[string][]string
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if f.published == nil {
		f.published = make(map[string][]string)
	}
	f.published[channel] = append(f.published[channel], string(payload))
	return nil
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if f.streamed == nil {
		f.streamed = make(map[string][]string)
	}
	f.streamed[stream] = append(f.streamed[stream], string(payload))
	return nil
}

type testEnv struct {
	queries  *sqlite.QueryStore
	markets  *sqlite.MarketStore
	executor *fakeExecutor
	resolver *fakeResolver
	mailer   *fakeMailer
	bus      *fakeBus
	runner   *Runner
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	client, err := sqlite.New(ctx, sqlite.ClientConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))

	env := &testEnv{
		queries: sqlite.NewQueryStore(client.DB()),
		markets: sqlite.NewMarketStore(client.DB()),
		executor: &fakeExecutor{outcome: domain.SearchOutcome{
			Summary: "it rained",
			Results: []domain.ProviderResult{{Provider: "exa", Answer: "rain"}},
		}},
		resolver: &fakeResolver{},
		mailer:   &fakeMailer{},
		bus:      &fakeBus{},
	}
	env.runner = NewRunner(Config{TickInterval: time.Minute, BatchSize: 10}, Deps{
		Queries:  env.queries,
		Markets:  env.markets,
		Executor: env.executor,
		Resolver: env.resolver,
		Mailer:   env.mailer,
		Bus:      env.bus,
	}, slog.New(slog.DiscardHandler))
	return env
}

func (e *testEnv) addQuery(t *testing.T, notifyEmail string) domain.Query {
	t.Helper()
	q := domain.Query{
		ID:          uuid.NewString(),
		Owner:       "0xabc",
		Text:        "did it rain",
		NotifyEmail: notifyEmail,
		Status:      domain.QueryStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, e.queries.Create(context.Background(), q))
	return q
}

func TestTickCompletesDueQuery(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	q := env.addQuery(t, "")

	env.runner.tick(ctx)

	got, err := env.queries.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusCompleted, got.Status)
	require.NotNil(t, got.ExecutedAt)

	res, err := env.queries.GetResult(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "it rained", res.Summary)
	require.Len(t, res.Raw, 1)
}

func TestTickDoesNotReexecuteTerminalQuery(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.addQuery(t, "")

	env.runner.tick(ctx)
	require.Equal(t, 1, env.executor.calls)

	// A later tick finds nothing due and runs nothing.
	env.runner.tick(ctx)
	assert.Equal(t, 1, env.executor.calls)
}

func TestTickRecordsFailure(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.executor.err = errors.New("all providers down")
	q := env.addQuery(t, "")

	env.runner.tick(ctx)

	got, err := env.queries.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusFailed, got.Status)
	assert.Contains(t, got.Error, "all providers down")

	_, err = env.queries.GetResult(ctx, q.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The failure is terminal; the query is not retried.
	env.runner.tick(ctx)
	assert.Equal(t, 1, env.executor.calls)
}

func TestTickSkipsFutureQuery(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	future := time.Now().UTC().Add(time.Hour)
	q := domain.Query{
		ID:          uuid.NewString(),
		Owner:       "0xabc",
		Text:        "later",
		ScheduledAt: &future,
		Status:      domain.QueryStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, env.queries.Create(ctx, q))

	env.runner.tick(ctx)
	assert.Equal(t, 0, env.executor.calls)

	got, err := env.queries.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusPending, got.Status)
}

func TestTickResolvesLinkedMarket(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	q := env.addQuery(t, "")
	market := domain.MarketQuery{
		ContractAddress: "0xcontract",
		QueryID:         q.ID,
		Question:        "did it rain",
		Creator:         "0xabc",
		ResolutionDate:  time.Now().UTC().Add(time.Hour),
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, env.markets.Create(ctx, market))

	env.runner.tick(ctx)

	require.Equal(t, []string{"0xcontract"}, env.resolver.markets)
	assert.Equal(t, "it rained", env.resolver.summary)
}

func TestResolverFailureLeavesQueryCompleted(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.resolver.err = errors.New("receipt timeout")
	q := env.addQuery(t, "")
	require.NoError(t, env.markets.Create(ctx, domain.MarketQuery{
		ContractAddress: "0xcontract",
		QueryID:         q.ID,
		Question:        "q",
		Creator:         "0xabc",
		ResolutionDate:  time.Now().UTC().Add(time.Hour),
		CreatedAt:       time.Now().UTC(),
	}))

	env.runner.tick(ctx)

	got, err := env.queries.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusCompleted, got.Status)

	// The market stays unresolved for manual follow-up.
	m, err := env.markets.GetByContract(ctx, "0xcontract")
	require.NoError(t, err)
	assert.False(t, m.Resolved)
}

func TestCompletionEmail(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.addQuery(t, "who@example.com")
	env.addQuery(t, "")

	env.runner.tick(ctx)

	assert.Equal(t, []string{"who@example.com"}, env.mailer.sent)
}

func TestLifecycleEventsFanOutAndPersist(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	q := env.addQuery(t, "")

	env.runner.tick(ctx)

	// The completion event reaches live subscribers and the durable stream.
	require.Len(t, env.bus.published["events:queries"], 1)
	assert.Contains(t, env.bus.published["events:queries"][0], q.ID)
	assert.Contains(t, env.bus.published["events:queries"][0], "query_completed")
	require.Len(t, env.bus.streamed[eventStream], 1)
	assert.Equal(t, env.bus.published["events:queries"][0], env.bus.streamed[eventStream][0])
}

func TestRunNowTrigger(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	future := time.Now().UTC().Add(time.Hour)
	q := domain.Query{
		ID:          uuid.NewString(),
		Owner:       "0xabc",
		Text:        "run me now",
		ScheduledAt: &future,
		Status:      domain.QueryStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, env.queries.Create(ctx, q))

	// A normal tick leaves the future query alone.
	env.runner.tick(ctx)
	require.Equal(t, 0, env.executor.calls)

	// Run-now pulls it forward.
	env.runner.runNow(ctx, q.ID)
	assert.Equal(t, 1, env.executor.calls)

	got, err := env.queries.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusCompleted, got.Status)

	// The recorded execution time is when it actually ran, not the
	// schedule it was pulled away from.
	require.NotNil(t, got.ExecutedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.ExecutedAt, 10*time.Second)
	assert.True(t, got.ExecutedAt.Before(future))

	// A second run-now is a no-op: the claim already happened.
	env.runner.runNow(ctx, q.ID)
	assert.Equal(t, 1, env.executor.calls)
}
