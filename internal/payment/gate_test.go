package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFacilitator struct {
	verify     VerifyResult
	verifyErr  error
	settle     SettleResult
	settleErr  error
	seenTerms  []Terms
	seenProofs [][]byte
}

func (f *fakeFacilitator) Verify(ctx context.Context, proof []byte, terms Terms) (VerifyResult, error) {
	f.seenTerms = append(f.seenTerms, terms)
	f.seenProofs = append(f.seenProofs, proof)
	return f.verify, f.verifyErr
}

func (f *fakeFacilitator) Settle(ctx context.Context, proof []byte, terms Terms) (SettleResult, error) {
	return f.settle, f.settleErr
}

var testPricing = Pricing{Base: 10_000, Scheduling: 5_000, Email: 2_000, Market: 100_000}

func newTestGate(f *fakeFacilitator) *Gate {
	return NewGate(GateConfig{
		Enabled: true,
		PayTo:   "0xpayee",
		Asset:   "usdc",
		Network: "eip155:84532",
		Pricing: testPricing,
	}, f, slog.New(slog.DiscardHandler))
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func allFeatures(r *http.Request) Features {
	return Features{Scheduled: true, NotifyEmail: true}
}

func TestPriceFor(t *testing.T) {
	assert.Equal(t, int64(10_000), testPricing.PriceFor(Features{}))
	assert.Equal(t, int64(15_000), testPricing.PriceFor(Features{Scheduled: true}))
	assert.Equal(t, int64(17_000), testPricing.PriceFor(Features{Scheduled: true, NotifyEmail: true}))
	assert.Equal(t, int64(110_000), testPricing.PriceFor(Features{Market: true}))
}

func TestGateChallengeShape(t *testing.T) {
	gate := newTestGate(&fakeFacilitator{})
	handler, called := okHandler()

	rec := httptest.NewRecorder()
	gate.Require(allFeatures, handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queries", nil))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, *called)

	raw, err := base64.StdEncoding.DecodeString(rec.Header().Get(HeaderPaymentRequired))
	require.NoError(t, err)

	var ch Challenge
	require.NoError(t, json.Unmarshal(raw, &ch))
	require.Len(t, ch.Accepts, 1)
	assert.Equal(t, "exact", ch.Accepts[0].Scheme)
	assert.Equal(t, int64(17_000), ch.Accepts[0].Price)
	assert.Equal(t, "0xpayee", ch.Accepts[0].PayTo)
	assert.Equal(t, "eip155:84532", ch.Accepts[0].Network)

	// The body carries the same challenge.
	var bodyCh Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bodyCh))
	assert.Equal(t, ch, bodyCh)
}

func TestGateSettlesAndForwards(t *testing.T) {
	f := &fakeFacilitator{
		verify: VerifyResult{Valid: true},
		settle: SettleResult{Settled: true, TxHash: "0xsettled"},
	}
	gate := newTestGate(f)
	handler, called := okHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/queries", nil)
	req.Header.Set(HeaderPayment, base64.StdEncoding.EncodeToString([]byte(`{"sig":"0xa"}`)))

	rec := httptest.NewRecorder()
	gate.Require(allFeatures, handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)

	raw, err := base64.StdEncoding.DecodeString(rec.Header().Get(HeaderPaymentReceipt))
	require.NoError(t, err)
	var receipt SettleResult
	require.NoError(t, json.Unmarshal(raw, &receipt))
	assert.Equal(t, "0xsettled", receipt.TxHash)

	require.Len(t, f.seenProofs, 1)
	assert.JSONEq(t, `{"sig":"0xa"}`, string(f.seenProofs[0]))
}

func TestGateRejectsInvalidProof(t *testing.T) {
	f := &fakeFacilitator{verify: VerifyResult{Valid: false, Reason: "expired authorization"}}
	gate := newTestGate(f)
	handler, called := okHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/queries", nil)
	req.Header.Set(HeaderPayment, base64.StdEncoding.EncodeToString([]byte("{}")))

	rec := httptest.NewRecorder()
	gate.Require(allFeatures, handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, *called)
	assert.Contains(t, rec.Body.String(), "expired authorization")
}

func TestGateFacilitatorDown(t *testing.T) {
	f := &fakeFacilitator{verifyErr: errors.New("connection refused")}
	gate := newTestGate(f)
	handler, called := okHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/queries", nil)
	req.Header.Set(HeaderPayment, base64.StdEncoding.EncodeToString([]byte("{}")))

	rec := httptest.NewRecorder()
	gate.Require(allFeatures, handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, *called)
}

func TestGateDisabledPassesThrough(t *testing.T) {
	gate := NewGate(GateConfig{Enabled: false}, &fakeFacilitator{}, slog.New(slog.DiscardHandler))
	handler, called := okHandler()

	rec := httptest.NewRecorder()
	gate.Require(allFeatures, handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}
