package stock

import (
	"context"
	"errors"
)

// QueryService is the read side: availability checks and record lookups.
// Reads never take product locks; an availability answer is a hint that the
// subsequent reservation re-validates under lock.
type QueryService struct {
	repo RepositoryPort
}

// NewQueryService builds QueryService.
func NewQueryService(repo RepositoryPort) *QueryService {
	return &QueryService{repo: repo}
}

// AvailabilityResult reports a multi-item availability check. When the check
// fails, Shortfalls lists every item that could not be satisfied.
type AvailabilityResult struct {
	Available  bool
	Shortfalls []Shortfall
}

// Shortfall describes one unsatisfiable item.
type Shortfall struct {
	ProductID int64
	Requested int64
	Available int64
}

// CheckAvailability reports whether every requested item could be reserved
// right now. All records are read in one query so the answer reflects a
// single snapshot, but it can go stale the moment it is returned; only a
// reservation enforces it.
func (q *QueryService) CheckAvailability(ctx context.Context, items []ItemRequest) (AvailabilityResult, error) {
	if len(items) == 0 {
		return AvailabilityResult{}, errors.New("stock: at least one item required")
	}
	requested := make(map[int64]int64, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.ProductID == 0 {
			return AvailabilityResult{}, errors.New("stock: product required")
		}
		if item.Quantity <= 0 {
			return AvailabilityResult{}, ErrInvalidQuantity
		}
		if _, ok := requested[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	records, err := q.repo.ListRecords(ctx, ids)
	if err != nil {
		return AvailabilityResult{}, err
	}
	available := make(map[int64]int64, len(records))
	for _, rec := range records {
		available[rec.ProductID] = rec.AvailableStock()
	}

	result := AvailabilityResult{Available: true}
	for _, id := range ids {
		if requested[id] > available[id] {
			result.Available = false
			result.Shortfalls = append(result.Shortfalls, Shortfall{
				ProductID: id,
				Requested: requested[id],
				Available: available[id],
			})
		}
	}
	return result, nil
}

// GetRecord returns the live inventory record for one product.
func (q *QueryService) GetRecord(ctx context.Context, productID int64) (InventoryRecord, error) {
	if productID == 0 {
		return InventoryRecord{}, errors.New("stock: product required")
	}
	return q.repo.GetRecord(ctx, productID)
}
