package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmart/stockcore/internal/observability"
	"github.com/nimbusmart/stockcore/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, productID int64) (InventoryRecord, error)
	ListRecords(ctx context.Context, productIDs []int64) ([]InventoryRecord, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	CountLedger(ctx context.Context, filter LedgerFilter) (int, error)
}

// AlertSink receives the post-mutation record for threshold evaluation.
// Evaluation is advisory: errors are logged by the service and never fail
// the triggering mutation.
type AlertSink interface {
	Evaluate(ctx context.Context, rec InventoryRecord) error
}

// Service is the sole writer of inventory counters. Each operation runs
// under the product's keyed mutex and inside one repository transaction, so
// the counter update and the ledger append land together or not at all.
type Service struct {
	repo        RepositoryPort
	locks       *shared.ProductLocks
	alerts      AlertSink
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewService builds Service. The lock table must be shared with every other
// component that mutates stock for the same products.
func NewService(repo RepositoryPort, locks *shared.ProductLocks, alerts AlertSink, idem *shared.IdempotencyStore, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = shared.NewProductLocks()
	}
	return &Service{repo: repo, locks: locks, alerts: alerts, idempotency: idem, metrics: metrics, logger: logger}
}

// AdjustInput describes a physical stock correction.
type AdjustInput struct {
	ProductID int64
	// Delta is signed: positive adds stock, negative removes it.
	Delta             int64
	Movement          MovementType
	Reason            string
	ActorID           int64
	RelatedEntityID   string
	RelatedEntityType string
	IdempotencyKey    string
}

// MovementInput describes a reservation-lifecycle movement for one product.
type MovementInput struct {
	ProductID     int64
	Quantity      int64
	CorrelationID string
	ActorID       int64
	Reason        string
}

// AdjustPhysical applies a signed physical stock change. Delta > 0 posts
// StockIn, delta < 0 posts StockOut; Return, Loss and Adjustment movements
// may be requested explicitly when their direction matches the delta sign.
func (s *Service) AdjustPhysical(ctx context.Context, input AdjustInput) (LedgerEntry, error) {
	if input.ProductID == 0 {
		return LedgerEntry{}, errors.New("stock: product required")
	}
	if input.Delta == 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	movement, err := resolveAdjustMovement(input.Movement, input.Delta)
	if err != nil {
		return LedgerEntry{}, err
	}
	quantity := input.Delta
	if quantity < 0 {
		quantity = -quantity
	}

	insertedKey := false
	if input.IdempotencyKey != "" {
		if s.idempotency == nil {
			return LedgerEntry{}, errors.New("stock: idempotency key supplied but store not configured")
		}
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "stock"); err != nil {
			return LedgerEntry{}, err
		}
		insertedKey = true
	}

	entry, rec, err := s.mutate(ctx, input.ProductID, true, func(rec *InventoryRecord) (LedgerEntry, error) {
		return applyMovement(rec, movement, quantity, movementMeta{
			Reason:            input.Reason,
			ActorID:           input.ActorID,
			RelatedEntityID:   input.RelatedEntityID,
			RelatedEntityType: input.RelatedEntityType,
		})
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return LedgerEntry{}, err
	}
	s.afterMutation(ctx, rec, entry)
	return entry, nil
}

// Reserve places a hold for one product. Fails with an AvailabilityError
// when the requested quantity exceeds availableStock at evaluation time.
func (s *Service) Reserve(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	entry, rec, err := s.movementOp(ctx, input, MovementReserve)
	if err != nil {
		if errors.Is(err, ErrInsufficientAvailable) {
			s.metrics.OversellRejected()
		}
		return LedgerEntry{}, err
	}
	s.afterMutation(ctx, rec, entry)
	return entry, nil
}

// Release undoes a hold for one product.
func (s *Service) Release(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	entry, rec, err := s.movementOp(ctx, input, MovementRelease)
	if err != nil {
		return LedgerEntry{}, err
	}
	s.afterMutation(ctx, rec, entry)
	return entry, nil
}

// Commit converts a hold into a physical decrement: both reservedStock and
// currentStock drop by the quantity.
func (s *Service) Commit(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	entry, rec, err := s.movementOp(ctx, input, MovementCommit)
	if err != nil {
		return LedgerEntry{}, err
	}
	s.afterMutation(ctx, rec, entry)
	return entry, nil
}

// ReserveBatch reserves every item or nothing. Product locks are taken in
// ascending ID order and all reserves run in one transaction, so a failure
// on any item rolls the whole batch back. The returned error carries the
// first failing product.
func (s *Service) ReserveBatch(ctx context.Context, correlationID string, items []ItemRequest, actorID int64) ([]LedgerEntry, error) {
	return s.batchOp(ctx, correlationID, items, actorID, MovementReserve)
}

// ReleaseBatch releases every item or nothing, mirroring ReserveBatch.
func (s *Service) ReleaseBatch(ctx context.Context, correlationID string, items []ItemRequest, actorID int64) ([]LedgerEntry, error) {
	return s.batchOp(ctx, correlationID, items, actorID, MovementRelease)
}

func (s *Service) batchOp(ctx context.Context, correlationID string, items []ItemRequest, actorID int64, movement MovementType) ([]LedgerEntry, error) {
	if len(items) == 0 {
		return nil, errors.New("stock: at least one item required")
	}
	if correlationID == "" {
		return nil, errors.New("stock: correlation id required")
	}
	byProduct := make(map[int64]int64, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.ProductID == 0 {
			return nil, errors.New("stock: product required")
		}
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		byProduct[item.ProductID] += item.Quantity
		ids = append(ids, item.ProductID)
	}

	ordered := s.locks.LockMany(ids)
	defer s.locks.UnlockMany(ordered)

	// Caller may have cancelled while we waited on the locks. Nothing has
	// been applied yet, so bail out with no partial state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := movementMeta{
		ActorID:           actorID,
		RelatedEntityID:   correlationID,
		RelatedEntityType: "order",
	}

	var entries []LedgerEntry
	var records []InventoryRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = entries[:0]
		records = records[:0]
		for _, productID := range ordered {
			rec, err := tx.GetRecordForUpdate(ctx, productID)
			if err != nil {
				if movement == MovementReserve && errors.Is(err, ErrRecordNotFound) {
					return &AvailabilityError{ProductID: productID, Requested: byProduct[productID], Available: 0}
				}
				return err
			}
			entry, err := applyMovement(&rec, movement, byProduct[productID], meta)
			if err != nil {
				return err
			}
			if err := tx.UpsertRecord(ctx, rec); err != nil {
				return err
			}
			if err := tx.AppendLedger(ctx, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientAvailable) {
			s.metrics.OversellRejected()
		}
		return nil, err
	}
	for i := range entries {
		s.afterMutation(ctx, records[i], entries[i])
	}
	return entries, nil
}

func (s *Service) movementOp(ctx context.Context, input MovementInput, movement MovementType) (LedgerEntry, InventoryRecord, error) {
	if input.ProductID == 0 {
		return LedgerEntry{}, InventoryRecord{}, errors.New("stock: product required")
	}
	if input.Quantity <= 0 {
		return LedgerEntry{}, InventoryRecord{}, ErrInvalidQuantity
	}
	if input.CorrelationID == "" {
		return LedgerEntry{}, InventoryRecord{}, errors.New("stock: correlation id required")
	}
	meta := movementMeta{
		Reason:            input.Reason,
		ActorID:           input.ActorID,
		RelatedEntityID:   input.CorrelationID,
		RelatedEntityType: "order",
	}
	allowMissing := false
	return s.mutate(ctx, input.ProductID, allowMissing, func(rec *InventoryRecord) (LedgerEntry, error) {
		return applyMovement(rec, movement, input.Quantity, meta)
	})
}

// mutate runs fn under the product lock inside one transaction. When
// allowMissing is set a missing record starts from zero counters, which is
// how the first inbound movement creates the record.
func (s *Service) mutate(ctx context.Context, productID int64, allowMissing bool, fn func(*InventoryRecord) (LedgerEntry, error)) (LedgerEntry, InventoryRecord, error) {
	s.locks.Lock(productID)
	defer s.locks.Unlock(productID)

	var entry LedgerEntry
	var rec InventoryRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetRecordForUpdate(ctx, productID)
		if err != nil {
			if !allowMissing || !errors.Is(err, ErrRecordNotFound) {
				return err
			}
			rec = InventoryRecord{ProductID: productID}
		}
		entry, err = fn(&rec)
		if err != nil {
			return err
		}
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, entry)
	})
	if err != nil {
		return LedgerEntry{}, InventoryRecord{}, err
	}
	return entry, rec, nil
}

// afterMutation records metrics and triggers alert evaluation. The mutation
// is already durable at this point; alert failures are logged and dropped.
func (s *Service) afterMutation(ctx context.Context, rec InventoryRecord, entry LedgerEntry) {
	s.metrics.LedgerAppended(string(entry.Movement))
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Evaluate(ctx, rec); err != nil {
		s.logger.Error("alert evaluation failed",
			slog.Int64("product_id", rec.ProductID),
			slog.Any("error", err))
	}
}

type movementMeta struct {
	Reason            string
	ActorID           int64
	RelatedEntityID   string
	RelatedEntityType string
}

// applyMovement mutates the record counters for one movement and builds the
// matching ledger entry. Counter snapshots before and after are captured so
// the ledger can reconstruct history on its own.
func applyMovement(rec *InventoryRecord, movement MovementType, quantity int64, meta movementMeta) (LedgerEntry, error) {
	if quantity <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	previous := rec.CurrentStock

	switch movement {
	case MovementReserve:
		if quantity > rec.AvailableStock() {
			return LedgerEntry{}, &AvailabilityError{ProductID: rec.ProductID, Requested: quantity, Available: rec.AvailableStock()}
		}
		rec.ReservedStock += quantity
	case MovementRelease:
		if quantity > rec.ReservedStock {
			return LedgerEntry{}, fmt.Errorf("stock: product %d release %d exceeds reserved %d: %w", rec.ProductID, quantity, rec.ReservedStock, ErrReservationUnderflow)
		}
		rec.ReservedStock -= quantity
	case MovementCommit:
		if quantity > rec.ReservedStock {
			return LedgerEntry{}, fmt.Errorf("stock: product %d commit %d exceeds reserved %d: %w", rec.ProductID, quantity, rec.ReservedStock, ErrReservationUnderflow)
		}
		rec.ReservedStock -= quantity
		rec.CurrentStock -= quantity
	case MovementStockIn, MovementReturn, MovementAdjustment:
		if rec.MaximumStock > 0 && rec.CurrentStock+quantity > rec.MaximumStock {
			return LedgerEntry{}, fmt.Errorf("stock: product %d inbound %d exceeds maximum %d: %w", rec.ProductID, quantity, rec.MaximumStock, ErrAboveMaximum)
		}
		rec.CurrentStock += quantity
	case MovementStockOut, MovementLoss:
		if quantity > rec.AvailableStock() {
			return LedgerEntry{}, fmt.Errorf("stock: product %d outbound %d exceeds available %d: %w", rec.ProductID, quantity, rec.AvailableStock(), ErrInsufficientStock)
		}
		rec.CurrentStock -= quantity
	default:
		return LedgerEntry{}, fmt.Errorf("stock: unsupported movement %q", movement)
	}

	if err := rec.checkInvariants(); err != nil {
		return LedgerEntry{}, err
	}
	now := time.Now().UTC()
	rec.LastUpdated = now
	return LedgerEntry{
		ID:                uuid.NewString(),
		ProductID:         rec.ProductID,
		Movement:          movement,
		Quantity:          quantity,
		PreviousStock:     previous,
		NewStock:          rec.CurrentStock,
		RelatedEntityID:   meta.RelatedEntityID,
		RelatedEntityType: meta.RelatedEntityType,
		ActorID:           meta.ActorID,
		Reason:            meta.Reason,
		OccurredAt:        now,
	}, nil
}

func resolveAdjustMovement(requested MovementType, delta int64) (MovementType, error) {
	if requested == "" {
		if delta > 0 {
			return MovementStockIn, nil
		}
		return MovementStockOut, nil
	}
	switch requested {
	case MovementStockIn, MovementReturn, MovementAdjustment:
		if delta < 0 {
			return "", fmt.Errorf("stock: movement %s requires a positive delta", requested)
		}
	case MovementStockOut, MovementLoss:
		if delta > 0 {
			return "", fmt.Errorf("stock: movement %s requires a negative delta", requested)
		}
	default:
		return "", fmt.Errorf("stock: movement %q is not a physical adjustment", requested)
	}
	return requested, nil
}
