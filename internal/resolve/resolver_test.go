package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/chain"
	"github.com/veridexhq/veridex/internal/domain"
)

var oracleAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type fakeEscrow struct {
	state     chain.EscrowState
	stateErr  error
	txHash    string
	submitErr error
	submitted []bool
}

func (f *fakeEscrow) OracleAddress() common.Address { return oracleAddr }

func (f *fakeEscrow) State(ctx context.Context, contract common.Address) (chain.EscrowState, error) {
	return f.state, f.stateErr
}

func (f *fakeEscrow) SubmitResolution(ctx context.Context, contract common.Address, outcome bool) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, outcome)
	return f.txHash, nil
}

type fakeModel struct {
	structured    *verdict
	structuredErr error
	transcript    string
	completeErr   error
}

func (f *fakeModel) Complete(ctx context.Context, model, system, user string) (string, error) {
	return f.transcript, f.completeErr
}

func (f *fakeModel) CompleteStructured(ctx context.Context, model, system, user, schemaName string, schema json.RawMessage, out any) error {
	if f.structuredErr != nil {
		return f.structuredErr
	}
	*(out.(*verdict)) = *f.structured
	return nil
}

type fakeMarkets struct {
	domain.MarketStore
	resolved map[string]bool
	markErr  error
}

func (f *fakeMarkets) MarkResolved(ctx context.Context, address string, outcome bool, txHash, analysis string, at time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.resolved[address] = outcome
	return nil
}

type fakeBus struct {
	published [][]byte
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.published = append(f.published, payload)
	return nil
}

func testMarket() domain.MarketQuery {
	return domain.MarketQuery{
		ContractAddress: "0x00000000000000000000000000000000000000aa",
		QueryID:         "q1",
		Question:        "did it rain in london today",
	}
}

func openState() chain.EscrowState {
	return chain.EscrowState{Oracle: oracleAddr, Resolved: false}
}

func newResolver(e *fakeEscrow, m *fakeModel, stores *fakeMarkets, bus *fakeBus) *Resolver {
	var pub Publisher
	if bus != nil {
		pub = bus
	}
	return NewResolver(e, m, stores, pub, "gpt-test", slog.New(slog.DiscardHandler))
}

func TestResolveStructuredVerdict(t *testing.T) {
	escrow := &fakeEscrow{state: openState(), txHash: "0xtx"}
	model := &fakeModel{structured: &verdict{Outcome: true, Confidence: 0.92, Analysis: "three sources confirm"}}
	markets := &fakeMarkets{resolved: map[string]bool{}}
	bus := &fakeBus{}

	res, err := newResolver(escrow, model, markets, bus).
		Resolve(context.Background(), testMarket(), "it rained", nil)
	require.NoError(t, err)

	require.NotNil(t, res.Outcome)
	assert.True(t, *res.Outcome)
	assert.Equal(t, "0xtx", res.TxHash)
	assert.Equal(t, []bool{true}, escrow.submitted)
	assert.True(t, markets.resolved[testMarket().ContractAddress])
	require.Len(t, bus.published, 1)
	assert.Contains(t, string(bus.published[0]), "market_resolved")
}

func TestResolveFallsBackToExtraction(t *testing.T) {
	escrow := &fakeEscrow{state: openState(), txHash: "0xtx"}
	model := &fakeModel{
		structuredErr: errors.New("response_format unsupported"),
		transcript:    "After weighing the evidence: **FALSE**",
	}
	markets := &fakeMarkets{resolved: map[string]bool{}}

	res, err := newResolver(escrow, model, markets, nil).
		Resolve(context.Background(), testMarket(), "no rain", nil)
	require.NoError(t, err)

	require.NotNil(t, res.Outcome)
	assert.False(t, *res.Outcome)
	assert.Equal(t, []bool{false}, escrow.submitted)
}

func TestResolveNoMarkerWritesNothing(t *testing.T) {
	escrow := &fakeEscrow{state: openState(), txHash: "0xtx"}
	model := &fakeModel{
		structuredErr: errors.New("unsupported"),
		transcript:    "The evidence is entirely inconclusive.",
	}
	markets := &fakeMarkets{resolved: map[string]bool{}}

	res, err := newResolver(escrow, model, markets, nil).
		Resolve(context.Background(), testMarket(), "", nil)
	assert.ErrorIs(t, err, domain.ErrNoOutcome)
	assert.Nil(t, res.Outcome)
	assert.Empty(t, escrow.submitted)
	assert.Empty(t, markets.resolved)
}

func TestResolveAbortsWhenAlreadyResolvedOnChain(t *testing.T) {
	st := openState()
	st.Resolved = true
	escrow := &fakeEscrow{state: st}
	markets := &fakeMarkets{resolved: map[string]bool{}}

	_, err := newResolver(escrow, &fakeModel{}, markets, nil).
		Resolve(context.Background(), testMarket(), "", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Empty(t, escrow.submitted)
}

func TestResolveAbortsWhenNotOracle(t *testing.T) {
	st := openState()
	st.Oracle = common.HexToAddress("0x1111111111111111111111111111111111111111")
	escrow := &fakeEscrow{state: st}

	_, err := newResolver(escrow, &fakeModel{}, &fakeMarkets{resolved: map[string]bool{}}, nil).
		Resolve(context.Background(), testMarket(), "", nil)
	assert.ErrorIs(t, err, domain.ErrNotOracle)
	assert.Empty(t, escrow.submitted)
}

func TestResolveSubmitFailureLeavesStoreUntouched(t *testing.T) {
	escrow := &fakeEscrow{state: openState(), submitErr: errors.New("tx reverted")}
	model := &fakeModel{structured: &verdict{Outcome: true, Confidence: 1}}
	markets := &fakeMarkets{resolved: map[string]bool{}}

	_, err := newResolver(escrow, model, markets, nil).
		Resolve(context.Background(), testMarket(), "", nil)
	assert.Error(t, err)
	assert.Empty(t, markets.resolved)
}
