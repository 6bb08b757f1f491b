package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/nimbusmart/stockcore/internal/platform/httpx"
	"github.com/nimbusmart/stockcore/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	query     *QueryService
	validator *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service, query *QueryService) *Handler {
	return &Handler{logger: logger, service: service, query: query, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{productID}", h.handleGetRecord)
	r.Get("/{productID}/ledger", h.handleLedger)
	r.Get("/{productID}/replay", h.handleReplay)
	r.Post("/{productID}/adjust", h.handleAdjust)
	r.Post("/availability", h.handleAvailability)
}

type recordResponse struct {
	ProductID      int64     `json:"product_id"`
	CurrentStock   int64     `json:"current_stock"`
	ReservedStock  int64     `json:"reserved_stock"`
	AvailableStock int64     `json:"available_stock"`
	MinimumStock   int64     `json:"minimum_stock"`
	MaximumStock   int64     `json:"maximum_stock"`
	AlertThreshold int64     `json:"alert_threshold"`
	LastUpdated    time.Time `json:"last_updated"`
}

type ledgerEntryResponse struct {
	ID                string    `json:"id"`
	ProductID         int64     `json:"product_id"`
	Movement          string    `json:"movement"`
	Quantity          int64     `json:"quantity"`
	PreviousStock     int64     `json:"previous_stock"`
	NewStock          int64     `json:"new_stock"`
	RelatedEntityID   string    `json:"related_entity_id,omitempty"`
	RelatedEntityType string    `json:"related_entity_type,omitempty"`
	ActorID           int64     `json:"actor_id,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type adjustRequest struct {
	Delta          int64  `json:"delta" validate:"required"`
	Movement       string `json:"movement" validate:"omitempty,oneof=STOCK_IN STOCK_OUT ADJUSTMENT RETURN LOSS"`
	Reason         string `json:"reason" validate:"required,min=3"`
	ActorID        int64  `json:"actor_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type availabilityRequest struct {
	Items []availabilityItem `json:"items" validate:"required,min=1,dive"`
}

type availabilityItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	rec, err := h.query.GetRecord(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	filter := LedgerFilter{ProductID: productID}
	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if fromStr := q.Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from timestamp")
			return
		}
		filter.From = from
	}
	if toStr := q.Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to timestamp")
			return
		}
		filter.To = to
	}
	if pageStr := q.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "page must be a positive integer")
			return
		}
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		entries, pagination, err := h.service.LedgerPage(r.Context(), filter, page, perPage)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		out := make([]ledgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toLedgerResponse(e))
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"entries": out,
			"pagination": map[string]int{
				"page":        pagination.Page,
				"per_page":    pagination.PerPage,
				"total":       pagination.Total,
				"total_pages": pagination.TotalPages,
			},
		})
		return
	}
	entries, err := h.service.Ledger(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	result, err := h.service.ReplayForProduct(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !result.Consistent {
		h.logger.Error("ledger replay mismatch",
			slog.Int64("product_id", productID),
			slog.Int64("replayed", result.ReplayedStock),
			slog.Int64("live", result.LiveStock))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":     result.ProductID,
		"replayed_stock": result.ReplayedStock,
		"live_stock":     result.LiveStock,
		"entries":        result.Entries,
		"consistent":     result.Consistent,
	})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.AdjustPhysical(r.Context(), AdjustInput{
		ProductID:      productID,
		Delta:          req.Delta,
		Movement:       MovementType(req.Movement),
		Reason:         req.Reason,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLedgerResponse(entry))
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	result, err := h.query.CheckAvailability(r.Context(), items)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shortfalls := make([]map[string]int64, 0, len(result.Shortfalls))
	for _, s := range result.Shortfalls {
		shortfalls = append(shortfalls, map[string]int64{
			"product_id": s.ProductID,
			"requested":  s.Requested,
			"available":  s.Available,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"available":  result.Available,
		"shortfalls": shortfalls,
	})
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientAvailable), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrAboveMaximum):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrReservationUnderflow):
		h.logger.Error("reservation underflow", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusConflict, "Reservation Underflow", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toRecordResponse(rec InventoryRecord) recordResponse {
	return recordResponse{
		ProductID:      rec.ProductID,
		CurrentStock:   rec.CurrentStock,
		ReservedStock:  rec.ReservedStock,
		AvailableStock: rec.AvailableStock(),
		MinimumStock:   rec.MinimumStock,
		MaximumStock:   rec.MaximumStock,
		AlertThreshold: rec.AlertThreshold,
		LastUpdated:    rec.LastUpdated,
	}
}

func toLedgerResponse(e LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:                e.ID,
		ProductID:         e.ProductID,
		Movement:          string(e.Movement),
		Quantity:          e.Quantity,
		PreviousStock:     e.PreviousStock,
		NewStock:          e.NewStock,
		RelatedEntityID:   e.RelatedEntityID,
		RelatedEntityType: e.RelatedEntityType,
		ActorID:           e.ActorID,
		Reason:            e.Reason,
		OccurredAt:        e.OccurredAt,
	}
}
