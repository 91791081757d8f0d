package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

const itemsTimeout = 5 * time.Second

// ItemHandler serves the tracked-item endpoints.
type ItemHandler struct {
	items   ItemStore
	fleet   Fleet
	timeout time.Duration
	logger  *zap.Logger
}

// NewItemHandler wires the store, fleet and logger. fleet may be nil when no
// watchers run in this process.
func NewItemHandler(items ItemStore, fleet Fleet, logger *zap.Logger) *ItemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemHandler{items: items, fleet: fleet, timeout: itemsTimeout, logger: logger}
}

// List handles GET /v1/items. It returns {"items": [...]} ordered by id.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.items == nil {
		writeError(w, http.StatusServiceUnavailable, "item store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	items, err := h.items.List(ctx)
	if err != nil {
		h.logger.Error("list items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	out := make([]itemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, h.toDTO(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// Get handles GET /v1/items/{item_id}. It returns {"item": {...}} or 404.
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.items == nil {
		writeError(w, http.StatusServiceUnavailable, "item store unavailable")
		return
	}
	id := chi.URLParam(r, "item_id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	item, ok, err := h.items.Get(ctx, id)
	if err != nil {
		h.logger.Error("get item failed", zap.String("item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": h.toDTO(item)})
}

// Put handles PUT /v1/items/{item_id}. It creates the item (201) or replaces
// its operator fields (200); availability state is left to the watcher.
func (h *ItemHandler) Put(w http.ResponseWriter, r *http.Request) {
	if h.items == nil {
		writeError(w, http.StatusServiceUnavailable, "item store unavailable")
		return
	}
	id := chi.URLParam(r, "item_id")
	var req putItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	item, err := req.toItem(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	_, existed, err := h.items.Get(ctx, id)
	if err != nil {
		h.logger.Error("get item failed", zap.String("item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if err := h.items.Upsert(ctx, item); err != nil {
		h.logger.Error("upsert item failed", zap.String("item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save item")
		return
	}
	saved, ok, err := h.items.Get(ctx, id)
	if err != nil || !ok {
		saved = item
	}
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	h.logger.Info("item saved", zap.String("item_id", id), zap.Bool("created", !existed))
	writeJSON(w, status, map[string]any{"item": h.toDTO(saved)})
}

// Delete handles DELETE /v1/items/{item_id}. It returns 204 or 404.
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.items == nil {
		writeError(w, http.StatusServiceUnavailable, "item store unavailable")
		return
	}
	id := chi.URLParam(r, "item_id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.items.Delete(ctx, id); err != nil {
		if errors.Is(err, watch.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		h.logger.Error("delete item failed", zap.String("item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	h.logger.Info("item deleted", zap.String("item_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) toDTO(item watch.TrackedItem) itemDTO {
	dto := itemDTO{
		ID:             item.ID,
		URL:            item.URL,
		Name:           item.Name,
		TargetPrice:    item.TargetPrice.StringFixed(2),
		CheckShipped:   item.RequireShippedByPlatform,
		CheckSold:      item.RequireSoldByPlatform,
		Available:      item.Available,
		AvailableSince: item.AvailableSince,
	}
	if h.fleet != nil {
		if state, ok := h.fleet.Status(item.ID); ok {
			dto.Watcher = &watcherDTO{State: string(state)}
		}
	}
	return dto
}

type putItemRequest struct {
	URL          string `json:"url"`
	Name         string `json:"name"`
	TargetPrice  string `json:"target_price"`
	CheckShipped bool   `json:"check_shipped"`
	CheckSold    bool   `json:"check_sold"`
}

func (req putItemRequest) toItem(id string) (watch.TrackedItem, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return watch.TrackedItem{}, errors.New("url must be an absolute http(s) URL")
	}
	target, err := decimal.NewFromString(strings.TrimSpace(req.TargetPrice))
	if err != nil {
		return watch.TrackedItem{}, errors.New("target_price must be a decimal number")
	}
	if !target.IsPositive() {
		return watch.TrackedItem{}, errors.New("target_price must be > 0")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = id
	}
	return watch.TrackedItem{
		ID:                       id,
		URL:                      u.String(),
		Name:                     name,
		TargetPrice:              target,
		RequireShippedByPlatform: req.CheckShipped,
		RequireSoldByPlatform:    req.CheckSold,
	}, nil
}

type itemDTO struct {
	ID             string      `json:"id"`
	URL            string      `json:"url"`
	Name           string      `json:"name"`
	TargetPrice    string      `json:"target_price"`
	CheckShipped   bool        `json:"check_shipped"`
	CheckSold      bool        `json:"check_sold"`
	Available      bool        `json:"available"`
	AvailableSince *time.Time  `json:"available_since,omitempty"`
	Watcher        *watcherDTO `json:"watcher,omitempty"`
}

type watcherDTO struct {
	State string `json:"state"`
}
