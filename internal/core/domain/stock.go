package domain

import "time"

// Cause classifies what kind of mutation produced a change.
type Cause string

const (
	CauseSale       Cause = "sale"
	CauseRestock    Cause = "restock"
	CauseAdjustment Cause = "adjustment"
)

// ProductStock is the authoritative stock record for one product.
// The store owns the durable copy; the ledger's cache holds a projection.
type ProductStock struct {
	ProductID string
	Name      string
	Stock     int64
	Version   uint64 // bumped by the store on every committed mutation
	UpdatedAt time.Time
}

// StockSnapshot is the read-side view served to callers.
type StockSnapshot struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int64  `json:"stock"`
	Version   uint64 `json:"version"`
}

// MutationRequest asks the ledger to apply one signed stock delta.
// Negative delta = consumption, positive = restock.
type MutationRequest struct {
	ProductID     string
	Delta         int64
	Cause         Cause
	CorrelationID string
}

// ChangeEvent records one committed mutation. Immutable once published;
// Sequence is a single global counter shared across all products.
type ChangeEvent struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Stock     int64     `json:"stock"`
	Delta     int64     `json:"delta"`
	Cause     Cause     `json:"cause"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// CommitResult is returned to the caller of a successful mutation.
type CommitResult struct {
	ProductID string
	Name      string
	Stock     int64
	Delta     int64
	Version   uint64
	Sequence  uint64
}
