package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nimbusmart/stockcore/internal/catalog"
	jobmetrics "github.com/nimbusmart/stockcore/internal/jobs"
	"github.com/nimbusmart/stockcore/internal/reservation"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationSweep releases reservations held past their TTL.
	TaskReservationSweep = "stock:reservation:sweep"
	// TaskAlertNotify delivers a raised stock alert to operators.
	TaskAlertNotify = "stock:alert:notify"
)

// AlertNotifyPayload carries a raised alert to the notification handler.
type AlertNotifyPayload struct {
	AlertID        string `json:"alert_id"`
	ProductID      int64  `json:"product_id"`
	AlertType      string `json:"alert_type"`
	StockAtTrigger int64  `json:"stock_at_trigger"`
	Threshold      int64  `json:"threshold"`
}

// NewReservationSweepTask constructs the periodic sweep task.
func NewReservationSweepTask() *asynq.Task {
	return asynq.NewTask(TaskReservationSweep, nil)
}

// NewAlertNotifyTask constructs an alert notification task.
func NewAlertNotifyTask(payload AlertNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertNotify, data), nil
}

// NewReservationSweepHandler builds the handler releasing expired holds.
func NewReservationSweepHandler(coordinator *reservation.Coordinator, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("reservation_sweep")
		swept, err := coordinator.ReleaseExpired(ctx)
		if err != nil {
			logger.Error("reservation sweep failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddSwept(swept)
		if swept > 0 {
			logger.Info("reservation sweep completed", slog.Int("released", swept))
		}
		return tracker.End(nil)
	}
}

// NewAlertNotifyHandler builds the handler that delivers alert
// notifications. The catalog lookup only decorates the message; a missing
// product never fails the delivery.
func NewAlertNotifyHandler(products *catalog.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("alert_notify")
		var payload AlertNotifyPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		name := "unknown product"
		if products != nil {
			if p, err := products.GetProduct(ctx, payload.ProductID); err == nil {
				name = p.Name
			} else if !errors.Is(err, catalog.ErrProductNotFound) {
				logger.Warn("alert notify catalog lookup failed",
					slog.Int64("product_id", payload.ProductID), slog.Any("error", err))
			}
		}
		// Placeholder delivery channel: integrate with SMTP/Mailpit in
		// phase 2. The structured log is the current operator surface.
		logger.Warn("stock alert notification",
			slog.String("alert_id", payload.AlertID),
			slog.Int64("product_id", payload.ProductID),
			slog.String("product_name", name),
			slog.String("alert_type", payload.AlertType),
			slog.Int64("stock_at_trigger", payload.StockAtTrigger),
			slog.Int64("threshold", payload.Threshold))
		return tracker.End(nil)
	}
}
