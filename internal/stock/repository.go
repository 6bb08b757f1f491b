package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists inventory records and the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by Service. The
// record read takes a row lock so the read-modify-write plus ledger append
// is atomic against concurrent transactions.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, productID int64) (InventoryRecord, error)
	UpsertRecord(ctx context.Context, rec InventoryRecord) error
	AppendLedger(ctx context.Context, entry LedgerEntry) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetRecord reads one inventory record without locking.
func (r *Repository) GetRecord(ctx context.Context, productID int64) (InventoryRecord, error) {
	if r == nil {
		return InventoryRecord{}, errors.New("stock repository not initialised")
	}
	return scanRecord(r.pool.QueryRow(ctx, `SELECT product_id, current_stock, reserved_stock, minimum_stock, maximum_stock, alert_threshold, last_updated
FROM inventory_records WHERE product_id=$1`, productID), productID)
}

// ListRecords reads the records for the given products in one query, so a
// multi-item availability check sees a single consistent snapshot.
func (r *Repository) ListRecords(ctx context.Context, productIDs []int64) ([]InventoryRecord, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, current_stock, reserved_stock, minimum_stock, maximum_stock, alert_threshold, last_updated
FROM inventory_records WHERE product_id = ANY($1) ORDER BY product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []InventoryRecord{}
	for rows.Next() {
		var rec InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.CurrentStock, &rec.ReservedStock, &rec.MinimumStock, &rec.MaximumStock, &rec.AlertThreshold, &rec.LastUpdated); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ListLedger returns ledger entries oldest first.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, movement, quantity, previous_stock, new_stock, related_entity_id, related_entity_type, actor_id, reason, occurred_at
FROM stock_ledger
WHERE product_id=$1 AND occurred_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY occurred_at ASC, id ASC
LIMIT $4 OFFSET $5`, filter.ProductID, nullTime(filter.From), nullTime(filter.To), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var movement string
		if err := rows.Scan(&e.ID, &e.ProductID, &movement, &e.Quantity, &e.PreviousStock, &e.NewStock, &e.RelatedEntityID, &e.RelatedEntityType, &e.ActorID, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Movement = MovementType(movement)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountLedger reports how many entries match the filter, ignoring paging.
func (r *Repository) CountLedger(ctx context.Context, filter LedgerFilter) (int, error) {
	if r == nil {
		return 0, errors.New("stock repository not initialised")
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_ledger
WHERE product_id=$1 AND occurred_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')`,
		filter.ProductID, nullTime(filter.From), nullTime(filter.To)).Scan(&total)
	return total, err
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, productID int64) (InventoryRecord, error) {
	return scanRecord(r.tx.QueryRow(ctx, `SELECT product_id, current_stock, reserved_stock, minimum_stock, maximum_stock, alert_threshold, last_updated
FROM inventory_records WHERE product_id=$1 FOR UPDATE`, productID), productID)
}

func (r *txRepository) UpsertRecord(ctx context.Context, rec InventoryRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_records (product_id, current_stock, reserved_stock, minimum_stock, maximum_stock, alert_threshold, last_updated)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (product_id) DO UPDATE SET current_stock=EXCLUDED.current_stock, reserved_stock=EXCLUDED.reserved_stock, last_updated=NOW()`,
		rec.ProductID, rec.CurrentStock, rec.ReservedStock, rec.MinimumStock, rec.MaximumStock, rec.AlertThreshold)
	return err
}

func (r *txRepository) AppendLedger(ctx context.Context, entry LedgerEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_ledger (id, product_id, movement, quantity, previous_stock, new_stock, related_entity_id, related_entity_type, actor_id, reason, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.ID, entry.ProductID, string(entry.Movement), entry.Quantity, entry.PreviousStock, entry.NewStock,
		entry.RelatedEntityID, entry.RelatedEntityType, nullInt(entry.ActorID), entry.Reason, entry.OccurredAt)
	return err
}

func scanRecord(row pgx.Row, productID int64) (InventoryRecord, error) {
	var rec InventoryRecord
	err := row.Scan(&rec.ProductID, &rec.CurrentStock, &rec.ReservedStock, &rec.MinimumStock, &rec.MaximumStock, &rec.AlertThreshold, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryRecord{ProductID: productID}, ErrRecordNotFound
		}
		return InventoryRecord{}, err
	}
	return rec, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
