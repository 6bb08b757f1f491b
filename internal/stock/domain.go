// Package stock owns the per-product inventory counters and the append-only
// movement ledger. Every mutation of the counters goes through Service and
// produces exactly one ledger entry in the same transaction.
package stock

import (
	"errors"
	"fmt"
	"time"
)

// MovementType enumerates supported stock movements. The direction of a
// movement is implied by its type; quantities are always positive.
type MovementType string

const (
	// MovementStockIn represents an inbound physical movement.
	MovementStockIn MovementType = "STOCK_IN"
	// MovementStockOut represents an outbound physical movement.
	MovementStockOut MovementType = "STOCK_OUT"
	// MovementReserve places a hold against available stock.
	MovementReserve MovementType = "RESERVE"
	// MovementRelease undoes a hold without touching physical stock.
	MovementRelease MovementType = "RELEASE_RESERVATION"
	// MovementCommit converts a hold into a physical decrement.
	MovementCommit MovementType = "COMMIT_RESERVATION"
	// MovementAdjustment records a manual upward correction.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementReturn records customer returns coming back to stock.
	MovementReturn MovementType = "RETURN"
	// MovementLoss records shrinkage, damage or write-offs.
	MovementLoss MovementType = "LOSS"
)

// physicalDirection returns the signed effect of the movement on
// currentStock: +1 inbound, -1 outbound, 0 reservation-only.
func (m MovementType) physicalDirection() int64 {
	switch m {
	case MovementStockIn, MovementReturn, MovementAdjustment:
		return 1
	case MovementStockOut, MovementLoss, MovementCommit:
		return -1
	default:
		return 0
	}
}

// PhysicalDelta returns the signed change to currentStock for a quantity
// moved under this movement type.
func (m MovementType) PhysicalDelta(quantity int64) int64 {
	return m.physicalDirection() * quantity
}

// Valid reports whether the movement type is one of the known constants.
func (m MovementType) Valid() bool {
	switch m {
	case MovementStockIn, MovementStockOut, MovementReserve, MovementRelease,
		MovementCommit, MovementAdjustment, MovementReturn, MovementLoss:
		return true
	}
	return false
}

// InventoryRecord is the mutable per-product aggregate. CurrentStock and
// ReservedStock may only be changed through Service operations.
type InventoryRecord struct {
	ProductID      int64
	CurrentStock   int64
	ReservedStock  int64
	MinimumStock   int64
	MaximumStock   int64
	AlertThreshold int64
	LastUpdated    time.Time
}

// AvailableStock is derived, never stored: current minus reserved.
func (r InventoryRecord) AvailableStock() int64 {
	return r.CurrentStock - r.ReservedStock
}

// checkInvariants verifies 0 <= reserved <= current.
func (r InventoryRecord) checkInvariants() error {
	if r.CurrentStock < 0 {
		return fmt.Errorf("stock: product %d currentStock %d below zero: %w", r.ProductID, r.CurrentStock, ErrInsufficientStock)
	}
	if r.ReservedStock < 0 {
		return fmt.Errorf("stock: product %d reservedStock %d below zero: %w", r.ProductID, r.ReservedStock, ErrReservationUnderflow)
	}
	if r.ReservedStock > r.CurrentStock {
		return fmt.Errorf("stock: product %d reserved %d exceeds current %d: %w", r.ProductID, r.ReservedStock, r.CurrentStock, ErrReservationUnderflow)
	}
	return nil
}

// LedgerEntry is one immutable audit record of a single stock movement.
// Entries are created inside the mutating transaction and never updated or
// deleted afterwards.
type LedgerEntry struct {
	ID                string
	ProductID         int64
	Movement          MovementType
	Quantity          int64
	PreviousStock     int64
	NewStock          int64
	RelatedEntityID   string
	RelatedEntityType string
	ActorID           int64
	Reason            string
	OccurredAt        time.Time
}

// PhysicalDelta returns the signed currentStock change carried by the entry.
func (e LedgerEntry) PhysicalDelta() int64 {
	return e.Movement.PhysicalDelta(e.Quantity)
}

// LedgerFilter selects ledger entries for listing.
type LedgerFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// ItemRequest pairs a product with a requested quantity.
type ItemRequest struct {
	ProductID int64
	Quantity  int64
}

// Sentinel errors for the stock domain.
var (
	// ErrInsufficientStock indicates a physical movement would take
	// currentStock below zero.
	ErrInsufficientStock = errors.New("stock: insufficient physical stock")
	// ErrInsufficientAvailable indicates a reserve request exceeds
	// availableStock. Expected under contention, user-facing.
	ErrInsufficientAvailable = errors.New("stock: insufficient available stock")
	// ErrReservationUnderflow indicates releasing or committing more than is
	// reserved. Treated as a consistency bug, not a user error.
	ErrReservationUnderflow = errors.New("stock: reservation underflow")
	// ErrRecordNotFound indicates no inventory record for the product.
	ErrRecordNotFound = errors.New("stock: inventory record not found")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrAboveMaximum indicates an inbound movement would exceed the
	// configured maximumStock bound.
	ErrAboveMaximum = errors.New("stock: movement exceeds maximum stock")
)

// AvailabilityError carries the detail of a failed reserve attempt. It
// unwraps to ErrInsufficientAvailable so callers can branch with errors.Is.
type AvailabilityError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("stock: product %d requested %d but only %d available", e.ProductID, e.Requested, e.Available)
}

// Unwrap links the error to ErrInsufficientAvailable.
func (e *AvailabilityError) Unwrap() error {
	return ErrInsufficientAvailable
}
