package alert

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists alerts in PostgreSQL. A partial unique index on
// (product_id, alert_type) WHERE status='ACTIVE' enforces the single
// active alert rule at the storage layer.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new active alert. A concurrent or earlier active alert
// of the same type loses with ErrDuplicateActive.
func (r *Repository) Insert(ctx context.Context, a StockAlert) error {
	if r == nil {
		return errors.New("alert repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO stock_alerts
(id, product_id, alert_type, status, stock_at_trigger, threshold, raised_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ProductID, string(a.Type), string(a.Status), a.StockAtTrigger, a.Threshold, a.RaisedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActive
		}
		return err
	}
	return nil
}

// ResolveActive closes all active alerts of the given types for a product
// and reports how many were resolved.
func (r *Repository) ResolveActive(ctx context.Context, productID int64, types []Type) (int, error) {
	if r == nil {
		return 0, errors.New("alert repository not initialised")
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_alerts SET status=$3, resolved_at=NOW()
WHERE product_id=$1 AND status=$2 AND alert_type=ANY($4)`,
		productID, string(StatusActive), string(StatusResolved), names)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Acknowledge resolves one active alert and records who closed it.
func (r *Repository) Acknowledge(ctx context.Context, alertID string, actorID int64) (StockAlert, error) {
	if r == nil {
		return StockAlert{}, errors.New("alert repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_alerts
SET status=$2, resolved_at=NOW(), acknowledged_by=$3, acknowledged_at=NOW()
WHERE id=$1 AND status=$4`,
		alertID, string(StatusResolved), actorID, string(StatusActive))
	if err != nil {
		return StockAlert{}, err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing alert from an already-closed one.
		if _, err := r.get(ctx, alertID); err != nil {
			return StockAlert{}, err
		}
		return StockAlert{}, ErrAlreadyResolved
	}
	return r.get(ctx, alertID)
}

// List returns alerts matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]StockAlert, error) {
	if r == nil {
		return nil, errors.New("alert repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, alert_type, status, stock_at_trigger, threshold,
raised_at, resolved_at, acknowledged_by, acknowledged_at
FROM stock_alerts
WHERE ($1 = '' OR status = $1)
  AND ($2 = 0 OR product_id = $2)
ORDER BY raised_at DESC
LIMIT $3`, string(filter.Status), filter.ProductID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StockAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountActiveByType reports how many alerts are currently active per type.
func (r *Repository) CountActiveByType(ctx context.Context) (map[Type]int, error) {
	if r == nil {
		return nil, errors.New("alert repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT alert_type, COUNT(*) FROM stock_alerts
WHERE status=$1 GROUP BY alert_type`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[Type]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		counts[Type(name)] = count
	}
	return counts, rows.Err()
}

func (r *Repository) get(ctx context.Context, alertID string) (StockAlert, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, product_id, alert_type, status, stock_at_trigger, threshold,
raised_at, resolved_at, acknowledged_by, acknowledged_at
FROM stock_alerts WHERE id=$1`, alertID)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockAlert{}, ErrNotFound
		}
		return StockAlert{}, err
	}
	return a, nil
}

func scanAlert(row pgx.Row) (StockAlert, error) {
	var a StockAlert
	var alertType, status string
	var resolvedAt, acknowledgedAt *time.Time
	var acknowledgedBy *int64
	err := row.Scan(&a.ID, &a.ProductID, &alertType, &status, &a.StockAtTrigger, &a.Threshold,
		&a.RaisedAt, &resolvedAt, &acknowledgedBy, &acknowledgedAt)
	if err != nil {
		return StockAlert{}, err
	}
	a.Type = Type(alertType)
	a.Status = Status(status)
	if resolvedAt != nil {
		a.ResolvedAt = *resolvedAt
	}
	if acknowledgedAt != nil {
		a.AcknowledgedAt = *acknowledgedAt
	}
	if acknowledgedBy != nil {
		a.AcknowledgedBy = *acknowledgedBy
	}
	return a, nil
}
