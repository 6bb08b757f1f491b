package reservation

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/nimbusmart/stockcore/internal/platform/httpx"
	"github.com/nimbusmart/stockcore/internal/stock"
)

// Handler wires HTTP endpoints for the reservation module.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validator   *validator.Validate
}

// NewHandler constructs the reservation handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	return &Handler{logger: logger, coordinator: coordinator, validator: validator.New()}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleReserveAll)
	r.Get("/{correlationID}", h.handleGet)
	r.Post("/{correlationID}/commit", h.handleCommitAll)
	r.Post("/{correlationID}/release", h.handleReleaseAll)
}

type reserveRequest struct {
	CorrelationID string        `json:"correlation_id" validate:"required,min=1,max=128"`
	ActorID       int64         `json:"actor_id"`
	Items         []reserveItem `json:"items" validate:"required,min=1,dive"`
}

type reserveItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type reservationResponse struct {
	CorrelationID   string        `json:"correlation_id"`
	Status          string        `json:"status"`
	Items           []reserveItem `json:"items"`
	FailedProductID int64         `json:"failed_product_id,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (h *Handler) handleReserveAll(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]Item, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	res, err := h.coordinator.ReserveAll(r.Context(), req.CorrelationID, items, req.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(res))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.Get(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(res))
}

func (h *Handler) handleCommitAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.CommitAll(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(res))
}

func (h *Handler) handleReleaseAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.ReleaseAll(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(res))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, stock.ErrInsufficientAvailable), errors.Is(err, ErrReservationFailed):
		// Expected under contention: someone else took the last unit.
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrTerminalState):
		httpx.Problem(w, http.StatusConflict, "Terminal State", err.Error())
	case errors.Is(err, ErrInFlight):
		httpx.Problem(w, http.StatusConflict, "Operation In Flight", err.Error())
	case errors.Is(err, stock.ErrReservationUnderflow):
		h.logger.Error("reservation underflow", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusConflict, "Reservation Underflow", err.Error())
	default:
		var partial *PartialCommitError
		if errors.As(err, &partial) {
			httpx.Problem(w, http.StatusConflict, "Partial Commit", partial.Error())
			return
		}
		h.logger.Error("reservation request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toResponse(res Reservation) reservationResponse {
	items := make([]reserveItem, 0, len(res.Items))
	for _, item := range res.Items {
		items = append(items, reserveItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return reservationResponse{
		CorrelationID:   res.CorrelationID,
		Status:          string(res.Status),
		Items:           items,
		FailedProductID: res.FailedProductID,
		FailureReason:   res.FailureReason,
		CreatedAt:       res.CreatedAt,
		UpdatedAt:       res.UpdatedAt,
	}
}
