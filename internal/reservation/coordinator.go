package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbusmart/stockcore/internal/observability"
	"github.com/nimbusmart/stockcore/internal/stock"
)

// StockPort is the slice of the stock service the coordinator drives.
type StockPort interface {
	ReserveBatch(ctx context.Context, correlationID string, items []stock.ItemRequest, actorID int64) ([]stock.LedgerEntry, error)
	ReleaseBatch(ctx context.Context, correlationID string, items []stock.ItemRequest, actorID int64) ([]stock.LedgerEntry, error)
	Commit(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error)
}

// RepositoryPort abstracts reservation persistence for the coordinator.
type RepositoryPort interface {
	Create(ctx context.Context, res Reservation) error
	Get(ctx context.Context, correlationID string) (Reservation, error)
	Transition(ctx context.Context, correlationID string, from, to Status) (bool, error)
	RecordFailure(ctx context.Context, correlationID string, from, to Status, failedProductID int64, reason string) (bool, error)
	ListStale(ctx context.Context, status Status, cutoff time.Time, limit int) ([]Reservation, error)
}

// Coordinator enforces the per-correlation state machine. All stock
// mutation goes through StockPort; the coordinator only claims and records
// transitions, which makes retried calls idempotent.
type Coordinator struct {
	stock   StockPort
	repo    RepositoryPort
	metrics *observability.Metrics
	logger  *slog.Logger
	holdTTL time.Duration
}

// DefaultHoldTTL bounds how long an order may sit in Reserved before the
// sweeper releases it.
const DefaultHoldTTL = 30 * time.Minute

// NewCoordinator builds Coordinator.
func NewCoordinator(stockSvc StockPort, repo RepositoryPort, metrics *observability.Metrics, logger *slog.Logger, holdTTL time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &Coordinator{stock: stockSvc, repo: repo, metrics: metrics, logger: logger, holdTTL: holdTTL}
}

// ReserveAll reserves every item of the order or nothing. A repeated call
// for a known correlation returns the stored outcome instead of
// re-applying: Reserved/Committed/Released replay success, Failed replays
// the failure.
func (c *Coordinator) ReserveAll(ctx context.Context, correlationID string, items []Item, actorID int64) (Reservation, error) {
	if correlationID == "" {
		return Reservation{}, errors.New("reservation: correlation id required")
	}
	if len(items) == 0 {
		return Reservation{}, errors.New("reservation: at least one item required")
	}

	claim := Reservation{CorrelationID: correlationID, Status: StatusPending, Items: items, ActorID: actorID}
	if err := c.repo.Create(ctx, claim); err != nil {
		if errors.Is(err, ErrDuplicateCorrelation) {
			return c.replayOutcome(ctx, correlationID)
		}
		return Reservation{}, err
	}

	requests := toItemRequests(items)
	_, err := c.stock.ReserveBatch(ctx, correlationID, requests, actorID)
	if err != nil {
		c.recordReserveFailure(ctx, correlationID, err)
		c.metrics.ReservationOutcome("failed")
		return Reservation{}, err
	}

	if _, err := c.repo.Transition(ctx, correlationID, StatusPending, StatusReserved); err != nil {
		// The holds are placed but the status write failed; surface the
		// error so the caller retries, the sweeper covers the leak.
		c.logger.Error("reservation status write failed after reserve",
			slog.String("correlation_id", correlationID), slog.Any("error", err))
		return Reservation{}, err
	}
	c.metrics.ReservationOutcome("reserved")
	return c.repo.Get(ctx, correlationID)
}

// CommitAll converts the correlation's holds into physical decrements, one
// item at a time. A partial failure is escalated as PartialCommitError:
// already-committed items stay committed and require explicit compensation.
func (c *Coordinator) CommitAll(ctx context.Context, correlationID string) (Reservation, error) {
	res, err := c.repo.Get(ctx, correlationID)
	if err != nil {
		return Reservation{}, err
	}
	switch res.Status {
	case StatusCommitted:
		return res, nil
	case StatusReleased, StatusFailed:
		return Reservation{}, &TerminalStateError{CorrelationID: correlationID, Status: res.Status}
	case StatusPending, StatusCommitting, StatusReleasing:
		return Reservation{}, fmt.Errorf("%w: correlation %s is %s", ErrInFlight, correlationID, res.Status)
	}

	won, err := c.repo.Transition(ctx, correlationID, StatusReserved, StatusCommitting)
	if err != nil {
		return Reservation{}, err
	}
	if !won {
		return c.resolveLostCommitClaim(ctx, correlationID)
	}

	// Commit is a point of no return per item: once the first item is
	// committed, cancellation is no longer honored.
	commitCtx := context.WithoutCancel(ctx)
	committed := make([]int64, 0, len(res.Items))
	for _, item := range res.Items {
		_, err := c.stock.Commit(commitCtx, stock.MovementInput{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			CorrelationID: correlationID,
			ActorID:       res.ActorID,
		})
		if err != nil {
			partial := &PartialCommitError{
				CorrelationID:     correlationID,
				CommittedProducts: committed,
				FailedProductID:   item.ProductID,
				Err:               err,
			}
			c.logger.Error("partial commit escalated",
				slog.String("correlation_id", correlationID),
				slog.Int64("failed_product_id", item.ProductID),
				slog.Int("committed_items", len(committed)),
				slog.Any("error", err))
			if _, ferr := c.repo.RecordFailure(commitCtx, correlationID, StatusCommitting, StatusCommitting, item.ProductID, partial.Error()); ferr != nil {
				c.logger.Error("record partial commit failure",
					slog.String("correlation_id", correlationID), slog.Any("error", ferr))
			}
			c.metrics.ReservationOutcome("commit_failed")
			return Reservation{}, partial
		}
		committed = append(committed, item.ProductID)
	}

	if _, err := c.repo.Transition(commitCtx, correlationID, StatusCommitting, StatusCommitted); err != nil {
		return Reservation{}, err
	}
	c.metrics.ReservationOutcome("committed")
	return c.repo.Get(commitCtx, correlationID)
}

// ReleaseAll undoes every hold of the correlation. Repeated calls after
// Released replay the stored success.
func (c *Coordinator) ReleaseAll(ctx context.Context, correlationID string) (Reservation, error) {
	res, err := c.repo.Get(ctx, correlationID)
	if err != nil {
		return Reservation{}, err
	}
	switch res.Status {
	case StatusReleased:
		return res, nil
	case StatusCommitted, StatusFailed:
		return Reservation{}, &TerminalStateError{CorrelationID: correlationID, Status: res.Status}
	case StatusPending, StatusCommitting, StatusReleasing:
		return Reservation{}, fmt.Errorf("%w: correlation %s is %s", ErrInFlight, correlationID, res.Status)
	}

	won, err := c.repo.Transition(ctx, correlationID, StatusReserved, StatusReleasing)
	if err != nil {
		return Reservation{}, err
	}
	if !won {
		// A concurrent call claimed the transition; report its outcome.
		current, err := c.repo.Get(ctx, correlationID)
		if err != nil {
			return Reservation{}, err
		}
		if current.Status == StatusReleased {
			return current, nil
		}
		return Reservation{}, fmt.Errorf("%w: correlation %s is %s", ErrInFlight, correlationID, current.Status)
	}

	releaseCtx := context.WithoutCancel(ctx)
	if _, err := c.stock.ReleaseBatch(releaseCtx, correlationID, toItemRequests(res.Items), res.ActorID); err != nil {
		if _, rerr := c.repo.Transition(releaseCtx, correlationID, StatusReleasing, StatusReserved); rerr != nil {
			c.logger.Error("revert release claim failed",
				slog.String("correlation_id", correlationID), slog.Any("error", rerr))
		}
		return Reservation{}, err
	}
	if _, err := c.repo.Transition(releaseCtx, correlationID, StatusReleasing, StatusReleased); err != nil {
		return Reservation{}, err
	}
	c.metrics.ReservationOutcome("released")
	return c.repo.Get(releaseCtx, correlationID)
}

// Get returns the current reservation state.
func (c *Coordinator) Get(ctx context.Context, correlationID string) (Reservation, error) {
	return c.repo.Get(ctx, correlationID)
}

// ReleaseExpired releases reservations that sat in Reserved longer than the
// hold TTL and reports how many were swept. Stale Pending claims are only
// logged: whether their reserve landed cannot be decided here and needs
// ledger reconciliation.
func (c *Coordinator) ReleaseExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.holdTTL)

	stalePending, err := c.repo.ListStale(ctx, StatusPending, cutoff, 50)
	if err != nil {
		return 0, err
	}
	for _, res := range stalePending {
		c.logger.Warn("stale pending reservation needs reconciliation",
			slog.String("correlation_id", res.CorrelationID),
			slog.Time("updated_at", res.UpdatedAt))
	}

	expired, err := c.repo.ListStale(ctx, StatusReserved, cutoff, 200)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, res := range expired {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if _, err := c.ReleaseAll(ctx, res.CorrelationID); err != nil {
			c.logger.Error("sweep release failed",
				slog.String("correlation_id", res.CorrelationID), slog.Any("error", err))
			continue
		}
		c.logger.Info("expired reservation released",
			slog.String("correlation_id", res.CorrelationID),
			slog.Duration("hold_ttl", c.holdTTL))
		c.metrics.ReservationOutcome("expired")
		swept++
	}
	return swept, nil
}

// replayOutcome maps an existing correlation to the idempotent answer for a
// retried ReserveAll.
func (c *Coordinator) replayOutcome(ctx context.Context, correlationID string) (Reservation, error) {
	existing, err := c.repo.Get(ctx, correlationID)
	if err != nil {
		return Reservation{}, err
	}
	switch existing.Status {
	case StatusReserved, StatusCommitted, StatusReleased:
		return existing, nil
	case StatusFailed:
		return Reservation{}, fmt.Errorf("%w: correlation %s failed for product %d: %s",
			ErrReservationFailed, correlationID, existing.FailedProductID, existing.FailureReason)
	default:
		return Reservation{}, fmt.Errorf("%w: correlation %s is %s", ErrInFlight, correlationID, existing.Status)
	}
}

func (c *Coordinator) resolveLostCommitClaim(ctx context.Context, correlationID string) (Reservation, error) {
	current, err := c.repo.Get(ctx, correlationID)
	if err != nil {
		return Reservation{}, err
	}
	if current.Status == StatusCommitted {
		return current, nil
	}
	return Reservation{}, fmt.Errorf("%w: correlation %s is %s", ErrInFlight, correlationID, current.Status)
}

func (c *Coordinator) recordReserveFailure(ctx context.Context, correlationID string, cause error) {
	// Status must land even when the caller's context is already gone.
	ctx = context.WithoutCancel(ctx)
	var failedProduct int64
	var availErr *stock.AvailabilityError
	if errors.As(cause, &availErr) {
		failedProduct = availErr.ProductID
	}
	if _, err := c.repo.RecordFailure(ctx, correlationID, StatusPending, StatusFailed, failedProduct, cause.Error()); err != nil {
		c.logger.Error("record reserve failure",
			slog.String("correlation_id", correlationID), slog.Any("error", err))
	}
}

func toItemRequests(items []Item) []stock.ItemRequest {
	out := make([]stock.ItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, stock.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
