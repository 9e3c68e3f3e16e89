// Package resolve settles escrow contracts: it turns a completed query's
// search evidence into a boolean verdict and submits it on-chain.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veridexhq/veridex/internal/chain"
	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/search"
)

const verdictSystemPrompt = "You are the oracle for a prediction market. " +
	"Given the market question and search evidence, decide whether the " +
	"question resolves TRUE or FALSE. Be decisive; base the verdict only on " +
	"the evidence."

// verdictSchema constrains the model to a machine-readable verdict instead
// of prose that has to be scraped afterwards.
var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"outcome": {"type": "boolean"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"analysis": {"type": "string"}
	},
	"required": ["outcome", "confidence", "analysis"],
	"additionalProperties": false
}`)

type verdict struct {
	Outcome    bool    `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Analysis   string  `json:"analysis"`
}

// Escrow is the on-chain surface the resolver needs.
type Escrow interface {
	OracleAddress() common.Address
	State(ctx context.Context, contract common.Address) (chain.EscrowState, error)
	SubmitResolution(ctx context.Context, contract common.Address, outcome bool) (string, error)
}

// Model is the completion surface the resolver needs.
type Model interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
	CompleteStructured(ctx context.Context, model, system, user, schemaName string, schema json.RawMessage, out any) error
}

// Publisher carries resolution events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Resolver settles escrow contracts against search evidence.
type Resolver struct {
	escrow  Escrow
	model   Model
	markets domain.MarketStore
	bus     Publisher
	modelID string
	logger  *slog.Logger
}

// NewResolver creates a Resolver. bus may be nil when no event fan-out is
// configured.
func NewResolver(escrow Escrow, model Model, markets domain.MarketStore, bus Publisher, modelID string, logger *slog.Logger) *Resolver {
	return &Resolver{
		escrow:  escrow,
		model:   model,
		markets: markets,
		bus:     bus,
		modelID: modelID,
		logger:  logger.With(slog.String("component", "resolve")),
	}
}

// Resolve settles the market against the evidence from its linked query.
// When the verdict cannot be determined it returns domain.ErrNoOutcome and
// writes nothing, on-chain or off.
func (r *Resolver) Resolve(ctx context.Context, market domain.MarketQuery, summary string, raw []domain.ProviderResult) (domain.Resolution, error) {
	contract := common.HexToAddress(market.ContractAddress)

	state, err := r.escrow.State(ctx, contract)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolve: read state of %s: %w", market.ContractAddress, err)
	}
	if state.Resolved {
		return domain.Resolution{}, domain.ErrAlreadyResolved
	}
	if state.Oracle != r.escrow.OracleAddress() {
		return domain.Resolution{}, fmt.Errorf("resolve: contract oracle is %s: %w",
			state.Oracle.Hex(), domain.ErrNotOracle)
	}

	v, err := r.verdict(ctx, market.Question, summary, raw)
	if err != nil {
		return domain.Resolution{Message: "no verdict could be extracted"}, err
	}

	txHash, err := r.escrow.SubmitResolution(ctx, contract, v.Outcome)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolve: submit for %s: %w", market.ContractAddress, err)
	}

	now := time.Now().UTC()
	if err := r.markets.MarkResolved(ctx, market.ContractAddress, v.Outcome, txHash, v.Analysis, now); err != nil {
		// The chain write landed; surface the store failure but keep the tx.
		return domain.Resolution{}, fmt.Errorf("resolve: mark %s resolved (tx %s): %w",
			market.ContractAddress, txHash, err)
	}

	r.publishResolved(ctx, market, v, txHash)

	outcome := v.Outcome
	return domain.Resolution{
		Outcome:    &outcome,
		Confidence: v.Confidence,
		Analysis:   v.Analysis,
		TxHash:     txHash,
		Message:    "resolved",
	}, nil
}

// verdict asks the model for a structured verdict and falls back to marker
// extraction over a plain transcript when structured output fails.
func (r *Resolver) verdict(ctx context.Context, question, summary string, raw []domain.ProviderResult) (verdict, error) {
	prompt := buildPrompt(question, summary, raw)

	var v verdict
	err := r.model.CompleteStructured(ctx, r.modelID, verdictSystemPrompt, prompt, "market_verdict", verdictSchema, &v)
	if err == nil {
		return v, nil
	}
	r.logger.WarnContext(ctx, "structured verdict failed, falling back to extraction",
		slog.String("error", err.Error()))

	transcript, err := r.model.Complete(ctx, r.modelID, verdictSystemPrompt+
		" State the verdict as **TRUE** or **FALSE**.", prompt)
	if err != nil {
		return verdict{}, fmt.Errorf("resolve: verdict completion: %w", err)
	}

	outcome, ok := ExtractOutcome(transcript)
	if !ok {
		return verdict{}, domain.ErrNoOutcome
	}
	return verdict{
		Outcome:  outcome,
		Analysis: strings.TrimSpace(transcript),
	}, nil
}

func buildPrompt(question, summary string, raw []domain.ProviderResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	if summary != "" {
		fmt.Fprintf(&b, "Summary of search results:\n%s\n\n", summary)
	}
	if evidence := search.BuildEvidence(raw); evidence != "" {
		fmt.Fprintf(&b, "Evidence:\n%s\n", evidence)
	}
	return b.String()
}

func (r *Resolver) publishResolved(ctx context.Context, market domain.MarketQuery, v verdict, txHash string) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":     "market_resolved",
		"contract": market.ContractAddress,
		"query_id": market.QueryID,
		"outcome":  v.Outcome,
		"tx":       txHash,
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, "events:markets", payload); err != nil {
		r.logger.WarnContext(ctx, "publish market_resolved failed",
			slog.String("contract", market.ContractAddress),
			slog.String("error", err.Error()))
	}
}
