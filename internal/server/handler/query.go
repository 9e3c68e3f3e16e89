package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/server/middleware"
)

// maxQueryLength bounds the accepted query text.
const maxQueryLength = 2000

// Trigger asks the scheduler to run a query ahead of its scheduled time.
type Trigger interface {
	Trigger(queryID string)
}

// QueryHandler serves the query CRUD and run-now endpoints.
type QueryHandler struct {
	queries domain.QueryStore
	trigger Trigger
	minLead time.Duration
	logger  *slog.Logger
}

// NewQueryHandler creates a QueryHandler. trigger may be nil when no
// scheduler runs in this process; creation still works and a worker picks
// the query up on its next tick.
func NewQueryHandler(queries domain.QueryStore, trigger Trigger, minLead time.Duration, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		queries: queries,
		trigger: trigger,
		minLead: minLead,
		logger:  logHandler(logger, "query"),
	}
}

type createQueryRequest struct {
	Query       string     `json:"query"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	NotifyEmail string     `json:"notify_email,omitempty"`
}

type queryResponse struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	NotifyEmail string     `json:"notify_email,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

type queryDetailResponse struct {
	queryResponse
	Result *resultResponse `json:"result,omitempty"`
}

type resultResponse struct {
	Summary   string                  `json:"summary"`
	Raw       []domain.ProviderResult `json:"raw"`
	CreatedAt time.Time               `json:"created_at"`
}

func toQueryResponse(q domain.Query) queryResponse {
	return queryResponse{
		ID:          q.ID,
		Query:       q.Text,
		Status:      string(q.Status),
		ScheduledAt: q.ScheduledAt,
		NotifyEmail: q.NotifyEmail,
		Error:       q.Error,
		CreatedAt:   q.CreatedAt,
		ExecutedAt:  q.ExecutedAt,
	}
}

// Create handles POST /api/queries. Immediate queries are nudged to the
// scheduler right away; scheduled ones must lead now by the configured
// minimum.
func (h *QueryHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Address(r.Context())

	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text := strings.TrimSpace(req.Query)
	if text == "" {
		writeError(w, http.StatusBadRequest, "query text is required")
		return
	}
	if len(text) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query text too long")
		return
	}

	if req.ScheduledAt != nil {
		if time.Until(*req.ScheduledAt) < h.minLead {
			writeError(w, http.StatusBadRequest,
				"scheduled_at must be at least "+h.minLead.String()+" in the future")
			return
		}
	}

	if req.NotifyEmail != "" {
		if _, err := mail.ParseAddress(req.NotifyEmail); err != nil {
			writeError(w, http.StatusBadRequest, "notify_email is not a valid address")
			return
		}
	}

	q := domain.Query{
		ID:          uuid.NewString(),
		Owner:       owner,
		Text:        text,
		ScheduledAt: normalizeSchedule(req.ScheduledAt),
		NotifyEmail: req.NotifyEmail,
		Status:      domain.QueryStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.queries.Create(r.Context(), q); err != nil {
		h.logger.ErrorContext(r.Context(), "create query", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if q.ScheduledAt == nil && h.trigger != nil {
		h.trigger.Trigger(q.ID)
	}

	writeJSON(w, http.StatusCreated, toQueryResponse(q))
}

// List handles GET /api/queries. Only the caller's own queries are returned.
func (h *QueryHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Address(r.Context())

	queries, err := h.queries.ListByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list queries", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]queryResponse, 0, len(queries))
	for _, q := range queries {
		out = append(out, toQueryResponse(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

// Get handles GET /api/queries/{id}. Completed queries include the result.
func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Address(r.Context())
	id := pathParam(r, "id")

	q, err := h.queries.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get query", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	// A foreign query reads as missing, so owners cannot be enumerated.
	if q.Owner != owner {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}

	resp := queryDetailResponse{queryResponse: toQueryResponse(q)}
	if q.Status == domain.QueryStatusCompleted {
		res, err := h.queries.GetResult(r.Context(), q.ID)
		if err == nil {
			resp.Result = &resultResponse{
				Summary:   res.Summary,
				Raw:       res.Raw,
				CreatedAt: res.CreatedAt,
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "get result", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/queries/{id}. Only a pending query can be
// cancelled, and only by its owner.
func (h *QueryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Address(r.Context())
	id := pathParam(r, "id")

	err := h.queries.Delete(r.Context(), id, owner)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotOwner):
		writeError(w, http.StatusNotFound, "query not found")
	case errors.Is(err, domain.ErrNotPending):
		writeError(w, http.StatusConflict, "only pending queries can be deleted")
	default:
		h.logger.ErrorContext(r.Context(), "delete query", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Run handles POST /api/queries/{id}/run. The owner can pull a pending query
// forward; the scheduler's claim decides the race with a concurrent tick.
func (h *QueryHandler) Run(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Address(r.Context())
	id := pathParam(r, "id")

	q, err := h.queries.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get query", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if q.Owner != owner {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if q.Status != domain.QueryStatusPending {
		writeError(w, http.StatusConflict, "query is not pending")
		return
	}
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "no scheduler attached to this instance")
		return
	}

	h.trigger.Trigger(q.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// normalizeSchedule converts a client-supplied time to UTC.
func normalizeSchedule(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
