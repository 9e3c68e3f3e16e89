package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/store/sqlite"
)

type fakeDeployer struct {
	contract common.Address
	tx       string
	err      error
	calls    int
}

func (f *fakeDeployer) Deploy(ctx context.Context, question string, deadline time.Time, oracle common.Address) (common.Address, string, error) {
	f.calls++
	if f.err != nil {
		return common.Address{}, "", f.err
	}
	return f.contract, f.tx, nil
}

type marketEnv struct {
	markets  *sqlite.MarketStore
	queries  *sqlite.QueryStore
	deployer *fakeDeployer
	handler  *MarketHandler
}

func newMarketEnv(t *testing.T) *marketEnv {
	t.Helper()
	ctx := context.Background()
	client, err := sqlite.New(ctx, sqlite.ClientConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))

	env := &marketEnv{
		markets: sqlite.NewMarketStore(client.DB()),
		queries: sqlite.NewQueryStore(client.DB()),
		deployer: &fakeDeployer{
			contract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
			tx:       "0xdeploytx",
		},
	}
	env.handler = NewMarketHandler(env.markets, env.queries, env.deployer,
		common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		5*time.Minute, slog.New(slog.DiscardHandler))
	return env
}

func TestCreateMarket(t *testing.T) {
	ctx := context.Background()
	env := newMarketEnv(t)

	resolution := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	body := fmt.Sprintf(`{"question":"will it rain tomorrow","resolution_date":%q}`,
		resolution.Format(time.RFC3339))

	w := httptest.NewRecorder()
	env.handler.Create(w, authedRequest(http.MethodPost, "/api/markets", body, "0xcreator"))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, 1, env.deployer.calls)

	var resp struct {
		Market   marketResponse `json:"market"`
		DeployTx string         `json:"deploy_tx"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "0xdeploytx", resp.DeployTx)
	assert.Equal(t, "0xcreator", resp.Market.Creator)
	assert.False(t, resp.Market.Resolved)

	// The linked query is scheduled at the resolution date.
	q, err := env.queries.GetByID(ctx, resp.Market.QueryID)
	require.NoError(t, err)
	require.NotNil(t, q.ScheduledAt)
	assert.True(t, q.ScheduledAt.Equal(resolution))

	m, err := env.markets.GetByContract(ctx, resp.Market.ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, q.ID, m.QueryID)
}

func TestCreateMarketPastDateRejectedBeforeDeploy(t *testing.T) {
	env := newMarketEnv(t)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"question":"already happened","resolution_date":%q}`, past)

	w := httptest.NewRecorder()
	env.handler.Create(w, authedRequest(http.MethodPost, "/api/markets", body, "0xcreator"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	// Validation runs before deployment; no gas was spent.
	assert.Equal(t, 0, env.deployer.calls)
}

func TestCreateMarketDeployFailure(t *testing.T) {
	env := newMarketEnv(t)
	env.deployer.err = fmt.Errorf("rpc unavailable")

	resolution := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"question":"q","resolution_date":%q}`, resolution)

	w := httptest.NewRecorder()
	env.handler.Create(w, authedRequest(http.MethodPost, "/api/markets", body, "0xcreator"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetMarketInvalidAddress(t *testing.T) {
	env := newMarketEnv(t)

	r := authedRequest(http.MethodGet, "/api/markets/nonsense", "", "0xanyone")
	r.SetPathValue("address", "nonsense")
	w := httptest.NewRecorder()
	env.handler.Get(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMarketsOnlyOwn(t *testing.T) {
	ctx := context.Background()
	env := newMarketEnv(t)

	now := time.Now().UTC()
	for i, creator := range []string{"0xalice", "0xbob"} {
		q := domain.Query{
			ID: fmt.Sprintf("q-%d", i), Owner: creator, Text: "q",
			Status: domain.QueryStatusPending, CreatedAt: now,
		}
		require.NoError(t, env.queries.Create(ctx, q))
		require.NoError(t, env.markets.Create(ctx, domain.MarketQuery{
			ContractAddress: fmt.Sprintf("0x%040d", i),
			QueryID:         q.ID,
			Question:        "q",
			Creator:         creator,
			ResolutionDate:  now.Add(time.Hour),
			CreatedAt:       now,
		}))
	}

	w := httptest.NewRecorder()
	env.handler.List(w, authedRequest(http.MethodGet, "/api/markets", "", "0xalice"))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Markets []marketResponse `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Markets, 1)
	assert.Equal(t, "0xalice", resp.Markets[0].Creator)
}
