package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/server/middleware"
)

// EscrowDeployer deploys an escrow contract for a market question.
type EscrowDeployer interface {
	Deploy(ctx context.Context, question string, deadline time.Time, oracle common.Address) (common.Address, string, error)
}

// MarketHandler serves the prediction-market endpoints.
type MarketHandler struct {
	markets  domain.MarketStore
	queries  domain.QueryStore
	deployer EscrowDeployer
	oracle   common.Address
	minLead  time.Duration
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. oracle is the service wallet that
// will submit resolutions on-chain.
func NewMarketHandler(markets domain.MarketStore, queries domain.QueryStore, deployer EscrowDeployer, oracle common.Address, minLead time.Duration, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		queries:  queries,
		deployer: deployer,
		oracle:   oracle,
		minLead:  minLead,
		logger:   logHandler(logger, "market"),
	}
}

type createMarketRequest struct {
	Question       string    `json:"question"`
	ResolutionDate time.Time `json:"resolution_date"`
}

type marketResponse struct {
	ContractAddress string     `json:"contract_address"`
	QueryID         string     `json:"query_id"`
	Question        string     `json:"question"`
	Creator         string     `json:"creator"`
	ResolutionDate  time.Time  `json:"resolution_date"`
	Resolved        bool       `json:"resolved"`
	Outcome         *bool      `json:"outcome,omitempty"`
	ResolutionTx    string     `json:"resolution_tx,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Analysis        string     `json:"analysis,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toMarketResponse(m domain.MarketQuery) marketResponse {
	return marketResponse{
		ContractAddress: m.ContractAddress,
		QueryID:         m.QueryID,
		Question:        m.Question,
		Creator:         m.Creator,
		ResolutionDate:  m.ResolutionDate,
		Resolved:        m.Resolved,
		Outcome:         m.Outcome,
		ResolutionTx:    m.ResolutionTx,
		ResolvedAt:      m.ResolvedAt,
		Analysis:        m.Analysis,
		CreatedAt:       m.CreatedAt,
	}
}

// Create handles POST /api/markets. Validation runs before the contract
// deployment so a bad request never spends gas. The deployed contract is
// linked to a search query scheduled at the resolution date; when that query
// completes the resolver settles the contract.
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	creator := middleware.Address(r.Context())

	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if len(question) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "question too long")
		return
	}
	if time.Until(req.ResolutionDate) < h.minLead {
		writeError(w, http.StatusBadRequest,
			"resolution_date must be at least "+h.minLead.String()+" in the future")
		return
	}

	resolutionDate := req.ResolutionDate.UTC()

	contract, deployTx, err := h.deployer.Deploy(r.Context(), question, resolutionDate, h.oracle)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "deploy escrow", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "contract deployment failed")
		return
	}

	now := time.Now().UTC()
	q := domain.Query{
		ID:          uuid.NewString(),
		Owner:       creator,
		Text:        question,
		ScheduledAt: &resolutionDate,
		Status:      domain.QueryStatusPending,
		CreatedAt:   now,
	}
	if err := h.queries.Create(r.Context(), q); err != nil {
		h.logger.ErrorContext(r.Context(), "create market query",
			slog.String("contract", contract.Hex()),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	market := domain.MarketQuery{
		ContractAddress: strings.ToLower(contract.Hex()),
		QueryID:         q.ID,
		Question:        question,
		Creator:         creator,
		ResolutionDate:  resolutionDate,
		CreatedAt:       now,
	}
	if err := h.markets.Create(r.Context(), market); err != nil {
		h.logger.ErrorContext(r.Context(), "persist market",
			slog.String("contract", market.ContractAddress),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.InfoContext(r.Context(), "market created",
		slog.String("contract", market.ContractAddress),
		slog.String("deploy_tx", deployTx),
		slog.String("creator", creator))

	writeJSON(w, http.StatusCreated, map[string]any{
		"market":    toMarketResponse(market),
		"deploy_tx": deployTx,
	})
}

// Get handles GET /api/markets/{address}. Markets are publicly readable by
// contract address.
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(pathParam(r, "address"))
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid contract address")
		return
	}

	m, err := h.markets.GetByContract(r.Context(), address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get market", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// List handles GET /api/markets. Only the caller's own markets are returned.
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	creator := middleware.Address(r.Context())

	markets, err := h.markets.ListByCreator(r.Context(), creator, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}
