package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/store"
)

const (
	defaultChecksLimit = 50
	maxChecksLimit     = 500
	historyTimeout     = 3 * time.Second
)

// HistoryHandler exposes read-only check history.
type HistoryHandler struct {
	repo    store.HistoryRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the repository and logger.
func NewHistoryHandler(repo store.HistoryRepository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListChecks handles GET /v1/items/{item_id}/checks?limit=. It returns
// {"checks": [...]} newest first, 400 for an invalid limit, 503 when no
// repository is configured, or 500 if the repository call fails.
func (h *HistoryHandler) ListChecks(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history repository unavailable")
		return
	}
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	limit, err := parseLimit(r, defaultChecksLimit, maxChecksLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks, err := h.repo.ListChecks(ctx, itemID, limit)
	if err != nil {
		h.logger.Error("list checks failed", zap.String("item_id", itemID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list checks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checks": toCheckDTOs(checks),
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func toCheckDTOs(in []store.CheckRecord) []checkDTO {
	out := make([]checkDTO, 0, len(in))
	for _, c := range in {
		out = append(out, checkDTO{
			CheckID:    c.CheckID.String(),
			CheckedAt:  c.CheckedAt,
			Outcome:    c.Outcome,
			Strategy:   c.Strategy,
			Price:      c.Price,
			DurationMs: c.Duration.Milliseconds(),
			Note:       c.Note,
		})
	}
	return out
}

type checkDTO struct {
	CheckID    string    `json:"check_id"`
	CheckedAt  time.Time `json:"checked_at"`
	Outcome    string    `json:"outcome"`
	Strategy   string    `json:"strategy,omitempty"`
	Price      string    `json:"price,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Note       string    `json:"note,omitempty"`
}
