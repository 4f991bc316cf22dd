package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStock is a business rule violation, never retried
	// automatically. Use errors.As with *InsufficientStockError to read
	// the committed stock at check time.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStoreUnavailable covers connectivity faults and pool exhaustion.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTransactionAborted covers store-side failures inside a transaction.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrLockAbandoned means a lease holder failed to release in time and
	// the lease was force-released underneath it.
	ErrLockAbandoned = errors.New("lock abandoned")

	// ErrTimeout means the per-product lease could not be acquired before
	// the request deadline.
	ErrTimeout = errors.New("timed out waiting for product lease")

	// ErrNotReady is returned for mutations before the warm load completes.
	ErrNotReady = errors.New("ledger not ready")

	ErrDuplicateRequest = errors.New("duplicate request")
	ErrProductNotFound  = errors.New("product not found")
)

// InsufficientStockError carries the committed stock observed inside the
// rejecting transaction so callers can surface it.
type InsufficientStockError struct {
	ProductID string
	Stock     int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: have %d, requested %d", e.ProductID, e.Stock, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
