// Package reservation coordinates the multi-item reserve/commit/release
// lifecycle bound to an order. One Reservation exists per correlation
// (order) and moves through an explicit state machine; the stock package
// performs the actual counter mutations.
package reservation

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the correlation states. PENDING, COMMITTING and
// RELEASING are short-lived claim states that make retries race-safe;
// COMMITTED, RELEASED and FAILED are terminal.
type Status string

const (
	// StatusPending marks a claimed correlation whose reserve is in flight.
	StatusPending Status = "PENDING"
	// StatusReserved means every item of the order is on hold.
	StatusReserved Status = "RESERVED"
	// StatusCommitting marks an in-flight commit claim.
	StatusCommitting Status = "COMMITTING"
	// StatusCommitted means physical stock was decremented for every item.
	StatusCommitted Status = "COMMITTED"
	// StatusReleasing marks an in-flight release claim.
	StatusReleasing Status = "RELEASING"
	// StatusReleased means all holds for the correlation were undone.
	StatusReleased Status = "RELEASED"
	// StatusFailed means the reserve attempt failed and nothing is held.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCommitted, StatusReleased, StatusFailed:
		return true
	}
	return false
}

// Item is one product line of a reservation.
type Item struct {
	ProductID int64
	Quantity  int64
}

// Reservation is the per-correlation state record. It is the idempotency
// anchor: retried lifecycle calls consult it instead of re-deriving state
// from the ledger.
type Reservation struct {
	CorrelationID   string
	Status          Status
	Items           []Item
	ActorID         int64
	FailedProductID int64
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Sentinel errors for the reservation lifecycle.
var (
	// ErrNotFound indicates no reservation for the correlation.
	ErrNotFound = errors.New("reservation: not found")
	// ErrTerminalState indicates a transition was requested on a terminal
	// correlation that stored a different outcome.
	ErrTerminalState = errors.New("reservation: correlation in terminal state")
	// ErrInFlight indicates another call is mid-transition for the same
	// correlation; the caller should retry shortly.
	ErrInFlight = errors.New("reservation: operation in flight")
	// ErrReservationFailed replays a stored reserve failure on retry.
	ErrReservationFailed = errors.New("reservation: previously failed")
)

// TerminalStateError reports which state blocked the transition.
type TerminalStateError struct {
	CorrelationID string
	Status        Status
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("reservation: correlation %s is %s", e.CorrelationID, e.Status)
}

// Unwrap links the error to ErrTerminalState.
func (e *TerminalStateError) Unwrap() error {
	return ErrTerminalState
}

// PartialCommitError reports an escalated partial commit: the listed
// products are already physically decremented and are deliberately not
// reverted; the caller must compensate explicitly (a Return adjustment),
// keeping the physical movement auditable.
type PartialCommitError struct {
	CorrelationID     string
	CommittedProducts []int64
	FailedProductID   int64
	Err               error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("reservation: commit of %s failed at product %d after %d items committed: %v",
		e.CorrelationID, e.FailedProductID, len(e.CommittedProducts), e.Err)
}

// Unwrap exposes the underlying stock error.
func (e *PartialCommitError) Unwrap() error {
	return e.Err
}
