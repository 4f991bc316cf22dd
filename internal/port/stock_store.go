package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type StockStore interface {
	// ApplyDelta atomically reads, checks and writes one product's stock in
	// a single transaction. Returns the post-mutation record on commit. The
	// oversell check happens inside the transaction, so it is race-free even
	// without the ledger's per-product lease on top.
	ApplyDelta(ctx context.Context, productID string, delta int64) (domain.ProductStock, error)

	// GetProduct reads the committed record for one product.
	GetProduct(ctx context.Context, productID string) (domain.ProductStock, error)

	// ListProducts reads the full catalog, used for warm load and resync pulls.
	ListProducts(ctx context.Context) ([]domain.ProductStock, error)
}
