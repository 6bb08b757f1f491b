package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmart/stockcore/internal/observability"
	"github.com/nimbusmart/stockcore/internal/stock"
)

// RepositoryPort abstracts alert persistence for the engine.
type RepositoryPort interface {
	Insert(ctx context.Context, a StockAlert) error
	ResolveActive(ctx context.Context, productID int64, types []Type) (int, error)
	Acknowledge(ctx context.Context, alertID string, actorID int64) (StockAlert, error)
	List(ctx context.Context, filter Filter) ([]StockAlert, error)
	CountActiveByType(ctx context.Context) (map[Type]int, error)
}

// Notifier delivers a raised alert out of band. Delivery is best-effort.
type Notifier interface {
	NotifyAlert(ctx context.Context, a StockAlert) error
}

// level orders the crossing severity so the branching below stays a
// comparison over an enumeration instead of cascading boolean checks.
type level int

const (
	levelNone level = iota
	levelLow
	levelOut
)

func levelFor(rec stock.InventoryRecord) level {
	switch {
	case rec.CurrentStock <= 0:
		return levelOut
	case rec.AlertThreshold > 0 && rec.CurrentStock <= rec.AlertThreshold:
		return levelLow
	default:
		return levelNone
	}
}

// Engine evaluates post-mutation inventory records. It implements
// stock.AlertSink; the stock service calls Evaluate after every counter
// change and treats errors as advisory.
type Engine struct {
	repo     RepositoryPort
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine builds Engine. notifier may be nil.
func NewEngine(repo RepositoryPort, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, notifier: notifier, metrics: metrics, logger: logger}
}

// Evaluate applies the crossing rules to the record's physical stock:
// at or below zero raises OutOfStock, at or below the threshold raises
// LowStock, above the threshold resolves whatever is active. Raising is
// deduplicated against the existing active alert of the same type, so
// repeated crossings without recovery produce exactly one alert.
func (e *Engine) Evaluate(ctx context.Context, rec stock.InventoryRecord) error {
	var err error
	switch levelFor(rec) {
	case levelOut:
		// An active LowStock alert is deliberately left open; it resolves
		// on its own once stock recovers above the threshold.
		err = e.raise(ctx, rec, TypeOutOfStock)
	case levelLow:
		err = e.raise(ctx, rec, TypeLowStock)
	default:
		_, err = e.repo.ResolveActive(ctx, rec.ProductID, []Type{TypeLowStock, TypeOutOfStock})
	}
	if err != nil {
		return err
	}
	e.publishGauge(ctx)
	return nil
}

func (e *Engine) raise(ctx context.Context, rec stock.InventoryRecord, alertType Type) error {
	a := StockAlert{
		ID:             uuid.NewString(),
		ProductID:      rec.ProductID,
		Type:           alertType,
		Status:         StatusActive,
		StockAtTrigger: rec.CurrentStock,
		Threshold:      rec.AlertThreshold,
		RaisedAt:       time.Now(),
	}
	if err := e.repo.Insert(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateActive) {
			return nil
		}
		return err
	}
	e.logger.Warn("stock alert raised",
		slog.Int64("product_id", a.ProductID),
		slog.String("alert_type", string(a.Type)),
		slog.Int64("stock_at_trigger", a.StockAtTrigger))
	if e.notifier != nil {
		if err := e.notifier.NotifyAlert(ctx, a); err != nil {
			e.logger.Error("alert notification enqueue failed",
				slog.String("alert_id", a.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) publishGauge(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	counts, err := e.repo.CountActiveByType(ctx)
	if err != nil {
		e.logger.Error("count active alerts", slog.Any("error", err))
		return
	}
	for _, t := range []Type{TypeLowStock, TypeOutOfStock} {
		e.metrics.SetActiveAlerts(string(t), counts[t])
	}
}

// List returns alerts matching the filter, newest first.
func (e *Engine) List(ctx context.Context, filter Filter) ([]StockAlert, error) {
	return e.repo.List(ctx, filter)
}

// Acknowledge resolves an active alert on behalf of an operator.
func (e *Engine) Acknowledge(ctx context.Context, alertID string, actorID int64) (StockAlert, error) {
	a, err := e.repo.Acknowledge(ctx, alertID, actorID)
	if err != nil {
		return StockAlert{}, err
	}
	e.logger.Info("stock alert acknowledged",
		slog.String("alert_id", a.ID),
		slog.Int64("product_id", a.ProductID),
		slog.Int64("actor_id", actorID))
	e.publishGauge(ctx)
	return a, nil
}
