package stock

import (
	"context"
	"errors"

	"github.com/nimbusmart/stockcore/internal/shared"
)

// ReplayResult compares the ledger-derived balance with the live record.
type ReplayResult struct {
	ProductID     int64
	ReplayedStock int64
	LiveStock     int64
	Entries       int
	Consistent    bool
}

// Replay folds the signed physical deltas of the given entries from zero.
// Reservation holds and releases carry no physical delta and fold to zero.
func Replay(entries []LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.PhysicalDelta()
	}
	return total
}

// ReplayForProduct reconstructs currentStock from the full ledger and
// compares it with the live record. A mismatch means a counter update and a
// ledger append diverged, which the mutation path is built to prevent.
func (s *Service) ReplayForProduct(ctx context.Context, productID int64) (ReplayResult, error) {
	if productID == 0 {
		return ReplayResult{}, errors.New("stock: product required")
	}
	entries, err := s.repo.ListLedger(ctx, LedgerFilter{ProductID: productID, Limit: replayBatchLimit})
	if err != nil {
		return ReplayResult{}, err
	}
	replayed := Replay(entries)

	live := int64(0)
	rec, err := s.repo.GetRecord(ctx, productID)
	switch {
	case err == nil:
		live = rec.CurrentStock
	case errors.Is(err, ErrRecordNotFound):
		// No record yet: consistent only with an empty ledger.
	default:
		return ReplayResult{}, err
	}

	return ReplayResult{
		ProductID:     productID,
		ReplayedStock: replayed,
		LiveStock:     live,
		Entries:       len(entries),
		Consistent:    replayed == live,
	}, nil
}

// Ledger lists entries for a product, oldest first.
func (s *Service) Ledger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.ProductID == 0 {
		return nil, errors.New("stock: product required")
	}
	return s.repo.ListLedger(ctx, filter)
}

// LedgerPage lists one page of entries plus paging metadata.
func (s *Service) LedgerPage(ctx context.Context, filter LedgerFilter, page, perPage int) ([]LedgerEntry, shared.Pagination, error) {
	if filter.ProductID == 0 {
		return nil, shared.Pagination{}, errors.New("stock: product required")
	}
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	total, err := s.repo.CountLedger(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage
	entries, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(page, perPage, total), nil
}

// replayBatchLimit bounds a single replay read. Retention keeps per-product
// ledgers well under this; a product exceeding it needs archival first.
const replayBatchLimit = 100000
