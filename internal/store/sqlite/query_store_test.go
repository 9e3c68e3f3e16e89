package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func newPendingQuery(owner string, scheduledAt *time.Time) domain.Query {
	return domain.Query{
		ID:          uuid.NewString(),
		Owner:       owner,
		Text:        "will it rain in london tomorrow",
		ScheduledAt: scheduledAt,
		Status:      domain.QueryStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestQueryStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())

	sched := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	q := newPendingQuery("0xabc", &sched)
	q.NotifyEmail = "a@example.com"
	require.NoError(t, store.Create(ctx, q))

	got, err := store.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)
	assert.Equal(t, q.Owner, got.Owner)
	assert.Equal(t, q.Text, got.Text)
	assert.Equal(t, "a@example.com", got.NotifyEmail)
	assert.Equal(t, domain.QueryStatusPending, got.Status)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, got.ScheduledAt.Equal(sched))
	assert.Nil(t, got.ExecutedAt)

	_, err = store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryStoreListDue(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	immediate := newPendingQuery("0xabc", nil)
	due := newPendingQuery("0xabc", &past)
	notDue := newPendingQuery("0xabc", &future)
	require.NoError(t, store.Create(ctx, immediate))
	require.NoError(t, store.Create(ctx, due))
	require.NoError(t, store.Create(ctx, notDue))

	got, err := store.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []string{got[0].ID, got[1].ID}
	assert.Contains(t, ids, immediate.ID)
	assert.Contains(t, ids, due.ID)
}

func TestQueryStoreClaimOnce(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())
	now := time.Now().UTC()

	q := newPendingQuery("0xabc", nil)
	require.NoError(t, store.Create(ctx, q))

	require.NoError(t, store.Claim(ctx, q.ID, now, now))

	// Second claim loses.
	err := store.Claim(ctx, q.ID, now, now)
	assert.ErrorIs(t, err, domain.ErrQueryClaimed)

	got, err := store.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusRunning, got.Status)
	require.NotNil(t, got.ExecutedAt)
}

func TestQueryStoreClaimRespectsSchedule(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())
	now := time.Now().UTC()

	future := now.Add(time.Hour)
	q := newPendingQuery("0xabc", &future)
	require.NoError(t, store.Create(ctx, q))

	err := store.Claim(ctx, q.ID, now, now)
	assert.ErrorIs(t, err, domain.ErrQueryClaimed)
}

func TestQueryStoreClaimPullForwardKeepsRealExecutionTime(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())
	now := time.Now().UTC()

	future := now.Add(time.Hour)
	q := newPendingQuery("0xabc", &future)
	require.NoError(t, store.Create(ctx, q))

	// Raising the cutoff to the scheduled time claims the future query,
	// but executed_at stays the actual start, not the schedule.
	require.NoError(t, store.Claim(ctx, q.ID, now, future))

	got, err := store.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusRunning, got.Status)
	require.NotNil(t, got.ExecutedAt)
	assert.WithinDuration(t, now, *got.ExecutedAt, time.Second)
}

func TestQueryStoreTerminalStatusImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())
	now := time.Now().UTC()

	q := newPendingQuery("0xabc", nil)
	require.NoError(t, store.Create(ctx, q))
	require.NoError(t, store.Claim(ctx, q.ID, now, now))
	require.NoError(t, store.SetStatus(ctx, q.ID, domain.QueryStatusCompleted, ""))

	err := store.SetStatus(ctx, q.ID, domain.QueryStatusFailed, "late failure")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := store.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestQueryStoreRecordResultOnce(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())

	q := newPendingQuery("0xabc", nil)
	require.NoError(t, store.Create(ctx, q))

	res := domain.QueryResult{
		QueryID: q.ID,
		Summary: "it will rain",
		Raw: []domain.ProviderResult{
			{Provider: "exa", Answer: "rain expected"},
			{Provider: "brave", Err: "timeout"},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RecordResult(ctx, res))

	err := store.RecordResult(ctx, res)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := store.GetResult(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "it will rain", got.Summary)
	require.Len(t, got.Raw, 2)
	assert.Equal(t, "exa", got.Raw[0].Provider)
	assert.Equal(t, "timeout", got.Raw[1].Err)
}

func TestQueryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())
	now := time.Now().UTC()

	q := newPendingQuery("0xabc", nil)
	require.NoError(t, store.Create(ctx, q))

	// Wrong owner.
	err := store.Delete(ctx, q.ID, "0xdef")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	// Running query cannot be deleted.
	running := newPendingQuery("0xabc", nil)
	require.NoError(t, store.Create(ctx, running))
	require.NoError(t, store.Claim(ctx, running.ID, now, now))
	err = store.Delete(ctx, running.ID, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotPending)

	// Happy path.
	require.NoError(t, store.Delete(ctx, q.ID, "0xabc"))
	_, err = store.GetByID(ctx, q.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Already gone.
	err = store.Delete(ctx, q.ID, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryStoreListByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewQueryStore(newTestClient(t).DB())

	for i := 0; i < 3; i++ {
		q := newPendingQuery("0xabc", nil)
		q.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Create(ctx, q))
	}
	require.NoError(t, store.Create(ctx, newPendingQuery("0xother", nil)))

	got, err := store.ListByOwner(ctx, "0xabc", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))

	rest, err := store.ListByOwner(ctx, "0xabc", domain.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
