package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbusmart/stockcore/internal/platform/db"
)

// ErrDuplicateCorrelation indicates the correlation id is already claimed.
var ErrDuplicateCorrelation = errors.New("reservation: correlation already exists")

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create claims a correlation id. The primary key on correlation_id makes
// concurrent claims lose with ErrDuplicateCorrelation.
func (r *Repository) Create(ctx context.Context, res Reservation) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO reservations (correlation_id, status, actor_id, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW())`, res.CorrelationID, string(res.Status), nullInt(res.ActorID))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateCorrelation
			}
			return err
		}
		for _, item := range res.Items {
			if _, err := tx.Exec(ctx, `INSERT INTO reservation_items (correlation_id, product_id, quantity)
VALUES ($1,$2,$3)`, res.CorrelationID, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads a reservation with its items.
func (r *Repository) Get(ctx context.Context, correlationID string) (Reservation, error) {
	if r == nil {
		return Reservation{}, errors.New("reservation repository not initialised")
	}
	var res Reservation
	var status string
	var failedProduct *int64
	var actorID *int64
	err := r.pool.QueryRow(ctx, `SELECT correlation_id, status, actor_id, failed_product_id, COALESCE(failure_reason,''), created_at, updated_at
FROM reservations WHERE correlation_id=$1`, correlationID).
		Scan(&res.CorrelationID, &status, &actorID, &failedProduct, &res.FailureReason, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}
	res.Status = Status(status)
	if failedProduct != nil {
		res.FailedProductID = *failedProduct
	}
	if actorID != nil {
		res.ActorID = *actorID
	}

	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity FROM reservation_items
WHERE correlation_id=$1 ORDER BY product_id`, correlationID)
	if err != nil {
		return Reservation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return Reservation{}, err
		}
		res.Items = append(res.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Transition performs a conditional state change and reports whether this
// caller won it. Losing means a concurrent call already moved the state.
func (r *Repository) Transition(ctx context.Context, correlationID string, from, to Status) (bool, error) {
	if r == nil {
		return false, errors.New("reservation repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status=$3, updated_at=NOW()
WHERE correlation_id=$1 AND status=$2`, correlationID, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordFailure stores the failing product and reason alongside a
// transition, used when a reserve attempt fails or a commit escalates.
func (r *Repository) RecordFailure(ctx context.Context, correlationID string, from, to Status, failedProductID int64, reason string) (bool, error) {
	if r == nil {
		return false, errors.New("reservation repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status=$3, failed_product_id=$4, failure_reason=$5, updated_at=NOW()
WHERE correlation_id=$1 AND status=$2`, correlationID, string(from), string(to), nullInt(failedProductID), reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListStale returns reservations stuck in the given status since before
// the cutoff, oldest first.
func (r *Repository) ListStale(ctx context.Context, status Status, cutoff time.Time, limit int) ([]Reservation, error) {
	if r == nil {
		return nil, errors.New("reservation repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT correlation_id FROM reservations
WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`, string(status), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Reservation, 0, len(ids))
	for _, id := range ids {
		res, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
