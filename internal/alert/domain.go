// Package alert detects threshold crossings on inventory records and
// maintains at most one active alert per product and alert type.
package alert

import (
	"errors"
	"time"
)

// Type classifies the crossing that raised the alert.
type Type string

const (
	// TypeLowStock means physical stock dropped to the alert threshold.
	TypeLowStock Type = "LOW_STOCK"
	// TypeOutOfStock means physical stock reached zero.
	TypeOutOfStock Type = "OUT_OF_STOCK"
)

// Valid reports whether the type is known.
func (t Type) Valid() bool {
	return t == TypeLowStock || t == TypeOutOfStock
}

// Status of a stock alert.
type Status string

const (
	// StatusActive marks an open, unresolved alert.
	StatusActive Status = "ACTIVE"
	// StatusResolved marks an alert closed by recovery or acknowledgement.
	StatusResolved Status = "RESOLVED"
)

// StockAlert is one raised threshold crossing. A resolved alert is never
// reopened; a later crossing creates a fresh alert.
type StockAlert struct {
	ID             string
	ProductID      int64
	Type           Type
	Status         Status
	StockAtTrigger int64
	Threshold      int64
	RaisedAt       time.Time
	ResolvedAt     time.Time
	AcknowledgedBy int64
	AcknowledgedAt time.Time
}

// Filter narrows List queries.
type Filter struct {
	Status    Status
	ProductID int64
	Limit     int
}

var (
	// ErrNotFound indicates no alert with the given id.
	ErrNotFound = errors.New("alert: not found")
	// ErrAlreadyResolved indicates an acknowledgement of a closed alert.
	ErrAlreadyResolved = errors.New("alert: already resolved")
	// ErrDuplicateActive indicates an active alert of the same type already
	// exists for the product.
	ErrDuplicateActive = errors.New("alert: active alert already exists")
)
