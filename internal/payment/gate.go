package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Header names for the 402 exchange.
const (
	HeaderPayment         = "X-Payment"
	HeaderPaymentRequired = "X-Payment-Required"
	HeaderPaymentReceipt  = "X-Payment-Receipt"
)

// Terms are the payment terms quoted in a 402 challenge and enforced at
// settlement. Price is in the asset's smallest unit.
type Terms struct {
	Scheme  string `json:"scheme"`
	Price   int64  `json:"price"`
	Asset   string `json:"asset"`
	Network string `json:"network"`
	PayTo   string `json:"payTo"`
}

// Challenge is the body and X-Payment-Required payload of a 402 response.
type Challenge struct {
	Accepts     []Terms `json:"accepts"`
	Description string  `json:"description"`
}

// Features describe the priced aspects of one request. The price is a flat
// lookup over these, not a metered cost.
type Features struct {
	Scheduled   bool
	NotifyEmail bool
	Market      bool
}

// Pricing holds the per-feature surcharges in the asset's smallest unit.
type Pricing struct {
	Base       int64
	Scheduling int64
	Email      int64
	Market     int64
}

// PriceFor returns the total price for a request with the given features.
func (p Pricing) PriceFor(f Features) int64 {
	price := p.Base
	if f.Scheduled {
		price += p.Scheduling
	}
	if f.NotifyEmail {
		price += p.Email
	}
	if f.Market {
		price += p.Market
	}
	return price
}

// Settler is the facilitator surface the gate needs.
type Settler interface {
	Verify(ctx context.Context, proof []byte, terms Terms) (VerifyResult, error)
	Settle(ctx context.Context, proof []byte, terms Terms) (SettleResult, error)
}

// GateConfig configures a payment gate.
type GateConfig struct {
	Enabled bool
	PayTo   string
	Asset   string
	Network string
	Pricing Pricing
}

// Gate enforces payment on wrapped endpoints.
type Gate struct {
	cfg         GateConfig
	facilitator Settler
	logger      *slog.Logger
}

// NewGate creates a payment gate. When cfg.Enabled is false the gate passes
// every request through untouched.
func NewGate(cfg GateConfig, facilitator Settler, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:         cfg,
		facilitator: facilitator,
		logger:      logger.With(slog.String("component", "payment")),
	}
}

// FeatureFunc derives the priced features from a request. It runs before
// the handler, so it must not consume the body destructively.
type FeatureFunc func(r *http.Request) Features

// Require wraps a handler with the payment gate. Requests without a payment
// proof get a 402 challenge quoting the price for their features; requests
// with one are verified and settled before the handler runs, and the
// settlement receipt rides back on the response.
func (g *Gate) Require(features FeatureFunc, next http.Handler) http.Handler {
	if !g.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		terms := Terms{
			Scheme:  "exact",
			Price:   g.cfg.Pricing.PriceFor(features(r)),
			Asset:   g.cfg.Asset,
			Network: g.cfg.Network,
			PayTo:   g.cfg.PayTo,
		}

		proofB64 := r.Header.Get(HeaderPayment)
		if proofB64 == "" {
			g.challenge(w, terms, "payment required")
			return
		}

		proof, err := base64.StdEncoding.DecodeString(proofB64)
		if err != nil {
			g.challenge(w, terms, "malformed payment proof")
			return
		}

		ctx := r.Context()

		verdict, err := g.facilitator.Verify(ctx, proof, terms)
		if err != nil {
			g.logger.ErrorContext(ctx, "facilitator verify failed", slog.String("error", err.Error()))
			http.Error(w, "payment facilitator unavailable", http.StatusBadGateway)
			return
		}
		if !verdict.Valid {
			g.challenge(w, terms, verdict.Reason)
			return
		}

		receipt, err := g.facilitator.Settle(ctx, proof, terms)
		if err != nil {
			g.logger.ErrorContext(ctx, "facilitator settle failed", slog.String("error", err.Error()))
			http.Error(w, "payment facilitator unavailable", http.StatusBadGateway)
			return
		}
		if !receipt.Settled {
			g.challenge(w, terms, receipt.Reason)
			return
		}

		receiptJSON, err := json.Marshal(receipt)
		if err == nil {
			w.Header().Set(HeaderPaymentReceipt, base64.StdEncoding.EncodeToString(receiptJSON))
		}

		g.logger.InfoContext(ctx, "payment settled",
			slog.Int64("price", terms.Price),
			slog.String("tx", receipt.TxHash))

		next.ServeHTTP(w, r)
	})
}

// challenge writes a 402 with the quoted terms in both the header and body.
func (g *Gate) challenge(w http.ResponseWriter, terms Terms, reason string) {
	ch := Challenge{
		Accepts:     []Terms{terms},
		Description: reason,
	}
	body, err := json.Marshal(ch)
	if err != nil {
		http.Error(w, "payment required", http.StatusPaymentRequired)
		return
	}

	w.Header().Set(HeaderPaymentRequired, base64.StdEncoding.EncodeToString(body))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write(body)
}
