package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusmart/stockcore/internal/stock"
)

type memoryRepo struct {
	mu     sync.Mutex
	alerts map[string]StockAlert
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{alerts: make(map[string]StockAlert)}
}

func (r *memoryRepo) Insert(ctx context.Context, a StockAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.alerts {
		if existing.ProductID == a.ProductID && existing.Type == a.Type && existing.Status == StatusActive {
			return ErrDuplicateActive
		}
	}
	r.alerts[a.ID] = a
	return nil
}

func (r *memoryRepo) ResolveActive(ctx context.Context, productID int64, types []Type) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resolved := 0
	for id, a := range r.alerts {
		if a.ProductID != productID || a.Status != StatusActive {
			continue
		}
		for _, t := range types {
			if a.Type == t {
				a.Status = StatusResolved
				a.ResolvedAt = time.Now()
				r.alerts[id] = a
				resolved++
				break
			}
		}
	}
	return resolved, nil
}

func (r *memoryRepo) Acknowledge(ctx context.Context, alertID string, actorID int64) (StockAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return StockAlert{}, ErrNotFound
	}
	if a.Status != StatusActive {
		return StockAlert{}, ErrAlreadyResolved
	}
	now := time.Now()
	a.Status = StatusResolved
	a.ResolvedAt = now
	a.AcknowledgedBy = actorID
	a.AcknowledgedAt = now
	r.alerts[alertID] = a
	return a, nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]StockAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []StockAlert{}
	for _, a := range r.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.ProductID != 0 && a.ProductID != filter.ProductID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *memoryRepo) CountActiveByType(ctx context.Context) (map[Type]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Type]int)
	for _, a := range r.alerts {
		if a.Status == StatusActive {
			counts[a.Type]++
		}
	}
	return counts, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	notified []StockAlert
}

func (n *recordingNotifier) NotifyAlert(ctx context.Context, a StockAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, a)
	return nil
}

func record(productID, current, reserved, threshold int64) stock.InventoryRecord {
	return stock.InventoryRecord{
		ProductID:      productID,
		CurrentStock:   current,
		ReservedStock:  reserved,
		AlertThreshold: threshold,
	}
}

func activeAlerts(t *testing.T, repo *memoryRepo, productID int64) []StockAlert {
	t.Helper()
	out, err := repo.List(context.Background(), Filter{Status: StatusActive, ProductID: productID})
	require.NoError(t, err)
	return out
}

func TestEvaluateRaisesLowStockOnce(t *testing.T) {
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	engine := NewEngine(repo, notifier, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Evaluate(ctx, record(1, 2, 0, 3)))
	}

	active := activeAlerts(t, repo, 1)
	require.Len(t, active, 1)
	require.Equal(t, TypeLowStock, active[0].Type)
	require.EqualValues(t, 2, active[0].StockAtTrigger)
	require.Len(t, notifier.notified, 1)
}

func TestEvaluateScenarioReserveCommitAdjust(t *testing.T) {
	// currentStock=10, threshold=3. Reserving 8 leaves current at 10, no
	// alert. Committing 8 drops current to 2, LowStock raised. Adjusting
	// +5 brings current to 7, alert resolved.
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, record(1, 10, 8, 3)))
	require.Empty(t, activeAlerts(t, repo, 1))

	require.NoError(t, engine.Evaluate(ctx, record(1, 2, 0, 3)))
	active := activeAlerts(t, repo, 1)
	require.Len(t, active, 1)
	require.Equal(t, TypeLowStock, active[0].Type)

	require.NoError(t, engine.Evaluate(ctx, record(1, 7, 0, 3)))
	require.Empty(t, activeAlerts(t, repo, 1))

	resolved, err := repo.List(ctx, Filter{Status: StatusResolved, ProductID: 1})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
}

func TestEvaluateSecondCrossingCreatesFreshAlert(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, record(1, 2, 0, 3)))
	first := activeAlerts(t, repo, 1)
	require.Len(t, first, 1)

	require.NoError(t, engine.Evaluate(ctx, record(1, 9, 0, 3)))
	require.Empty(t, activeAlerts(t, repo, 1))

	require.NoError(t, engine.Evaluate(ctx, record(1, 1, 0, 3)))
	second := activeAlerts(t, repo, 1)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].ID, second[0].ID)
}

func TestEvaluateOutOfStockLeavesLowStockOpen(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, record(1, 2, 0, 3)))
	require.NoError(t, engine.Evaluate(ctx, record(1, 0, 0, 3)))

	active := activeAlerts(t, repo, 1)
	require.Len(t, active, 2)
	types := map[Type]bool{}
	for _, a := range active {
		types[a.Type] = true
	}
	require.True(t, types[TypeLowStock])
	require.True(t, types[TypeOutOfStock])

	// Recovery above the threshold resolves both.
	require.NoError(t, engine.Evaluate(ctx, record(1, 5, 0, 3)))
	require.Empty(t, activeAlerts(t, repo, 1))
}

func TestEvaluateZeroThresholdOnlyRaisesOutOfStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, record(1, 1, 0, 0)))
	require.Empty(t, activeAlerts(t, repo, 1))

	require.NoError(t, engine.Evaluate(ctx, record(1, 0, 0, 0)))
	active := activeAlerts(t, repo, 1)
	require.Len(t, active, 1)
	require.Equal(t, TypeOutOfStock, active[0].Type)
}

func TestAcknowledgeResolvesActiveAlert(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, record(1, 2, 0, 3)))
	active := activeAlerts(t, repo, 1)
	require.Len(t, active, 1)

	acked, err := engine.Acknowledge(ctx, active[0].ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusResolved, acked.Status)
	require.EqualValues(t, 42, acked.AcknowledgedBy)

	_, err = engine.Acknowledge(ctx, active[0].ID, 42)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}
