package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// QueryCounter reports the number of queries per lifecycle status.
type QueryCounter interface {
	CountByStatus(ctx context.Context) (map[domain.QueryStatus]int64, error)
}

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	counter   QueryCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. counter may be nil.
func NewStatusHandler(mode string, startedAt time.Time, counter QueryCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		counter:   counter,
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus responds with the current mode, uptime, and query counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.counter != nil {
		counts, err := h.counter.CountByStatus(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "count queries", slog.String("error", err.Error()))
		} else {
			resp["queries"] = counts
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
