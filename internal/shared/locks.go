package shared

import (
	"sort"
	"sync"
)

// ProductLocks is a keyed lock table: one mutex per product, created lazily
// and never removed, so unrelated products never serialise on each other.
type ProductLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewProductLocks constructs an empty lock table.
func NewProductLocks() *ProductLocks {
	return &ProductLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for the given product, creating it on first use.
func (p *ProductLocks) Lock(productID int64) {
	p.get(productID).Lock()
}

// Unlock releases the mutex for the given product.
func (p *ProductLocks) Unlock(productID int64) {
	p.get(productID).Unlock()
}

// LockMany acquires mutexes for every product in ascending ID order.
// Deterministic ordering prevents deadlock between overlapping multi-item
// operations. Duplicate IDs are collapsed.
func (p *ProductLocks) LockMany(productIDs []int64) []int64 {
	ordered := dedupSorted(productIDs)
	for _, id := range ordered {
		p.Lock(id)
	}
	return ordered
}

// UnlockMany releases mutexes previously acquired via LockMany, in reverse
// acquisition order.
func (p *ProductLocks) UnlockMany(ordered []int64) {
	for i := len(ordered) - 1; i >= 0; i-- {
		p.Unlock(ordered[i])
	}
}

func dedupSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *ProductLocks) get(productID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.locks[productID]
	if !ok {
		m = &sync.Mutex{}
		p.locks[productID] = m
	}
	return m
}
