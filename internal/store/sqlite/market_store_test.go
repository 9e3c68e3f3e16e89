package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/domain"
)

func newMarketFixture(t *testing.T, ctx context.Context, qs *QueryStore, creator string) domain.MarketQuery {
	t.Helper()
	q := newPendingQuery(creator, nil)
	require.NoError(t, qs.Create(ctx, q))
	return domain.MarketQuery{
		ContractAddress: "0x" + uuid.NewString()[:8],
		QueryID:         q.ID,
		Question:        "will eth close above 5000 on friday",
		Creator:         creator,
		ResolutionDate:  time.Now().UTC().Add(24 * time.Hour),
		CreatedAt:       time.Now().UTC(),
	}
}

func TestMarketStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	db := newTestClient(t).DB()
	qs := NewQueryStore(db)
	store := NewMarketStore(db)

	m := newMarketFixture(t, ctx, qs, "0xabc")
	require.NoError(t, store.Create(ctx, m))

	got, err := store.GetByContract(ctx, m.ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, m.QueryID, got.QueryID)
	assert.Equal(t, m.Question, got.Question)
	assert.False(t, got.Resolved)
	assert.Nil(t, got.Outcome)

	byQuery, err := store.GetByQueryID(ctx, m.QueryID)
	require.NoError(t, err)
	assert.Equal(t, m.ContractAddress, byQuery.ContractAddress)

	// Same contract again.
	err = store.Create(ctx, m)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Same query linked to a second contract.
	dup := m
	dup.ContractAddress = "0xother"
	err = store.Create(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestMarketStoreMarkResolvedOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestClient(t).DB()
	qs := NewQueryStore(db)
	store := NewMarketStore(db)

	m := newMarketFixture(t, ctx, qs, "0xabc")
	require.NoError(t, store.Create(ctx, m))

	at := time.Now().UTC()
	require.NoError(t, store.MarkResolved(ctx, m.ContractAddress, true, "0xtx1", "confirmed by three sources", at))

	err := store.MarkResolved(ctx, m.ContractAddress, false, "0xtx2", "late contradiction", at)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	got, err := store.GetByContract(ctx, m.ContractAddress)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.Outcome)
	assert.True(t, *got.Outcome)
	assert.Equal(t, "0xtx1", got.ResolutionTx)
	assert.Equal(t, "confirmed by three sources", got.Analysis)
	require.NotNil(t, got.ResolvedAt)

	err = store.MarkResolved(ctx, "0xmissing", true, "0xtx", "", at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketStoreListUnresolved(t *testing.T) {
	ctx := context.Background()
	db := newTestClient(t).DB()
	qs := NewQueryStore(db)
	store := NewMarketStore(db)

	a := newMarketFixture(t, ctx, qs, "0xabc")
	a.ResolutionDate = time.Now().UTC().Add(48 * time.Hour)
	b := newMarketFixture(t, ctx, qs, "0xabc")
	b.ResolutionDate = time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	require.NoError(t, store.MarkResolved(ctx, a.ContractAddress, false, "0xtx", "", time.Now().UTC()))

	got, err := store.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ContractAddress, got[0].ContractAddress)
}

func TestAuditStoreLogList(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(newTestClient(t).DB())

	require.NoError(t, store.Log(ctx, "query.executed", map[string]any{"query_id": "q1"}))
	require.NoError(t, store.Log(ctx, "market.resolved", nil))

	got, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "market.resolved", got[0].Event)
	assert.Equal(t, "query.executed", got[1].Event)
	assert.Equal(t, "q1", got[1].Detail["query_id"])
}
