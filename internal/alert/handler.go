package alert

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/nimbusmart/stockcore/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the alert module.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs the alert handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/{alertID}/ack", h.handleAcknowledge)
}

type alertResponse struct {
	ID             string     `json:"id"`
	ProductID      int64      `json:"product_id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	StockAtTrigger int64      `json:"stock_at_trigger"`
	Threshold      int64      `json:"threshold"`
	RaisedAt       time.Time  `json:"raised_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedBy int64      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

type acknowledgeRequest struct {
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := Filter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = Status(status)
		if filter.Status != StatusActive && filter.Status != StatusResolved {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be ACTIVE or RESOLVED")
			return
		}
	}
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		productID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || productID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be a positive integer")
			return
		}
		filter.ProductID = productID
	}
	alerts, err := h.engine.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.engine.Acknowledge(r.Context(), chi.URLParam(r, "alertID"), req.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyResolved):
		httpx.Problem(w, http.StatusConflict, "Already Resolved", err.Error())
	default:
		h.logger.Error("alert request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toResponse(a StockAlert) alertResponse {
	resp := alertResponse{
		ID:             a.ID,
		ProductID:      a.ProductID,
		Type:           string(a.Type),
		Status:         string(a.Status),
		StockAtTrigger: a.StockAtTrigger,
		Threshold:      a.Threshold,
		RaisedAt:       a.RaisedAt,
		AcknowledgedBy: a.AcknowledgedBy,
	}
	if !a.ResolvedAt.IsZero() {
		t := a.ResolvedAt
		resp.ResolvedAt = &t
	}
	if !a.AcknowledgedAt.IsZero() {
		t := a.AcknowledgedAt
		resp.AcknowledgedAt = &t
	}
	return resp
}
