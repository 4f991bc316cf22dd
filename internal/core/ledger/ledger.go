package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/notifier"
	"github.com/rl1809/stock-ledger/internal/port"
)

// Ledger serializes stock mutations against the durable store, keeps the
// cache coherent with committed state and publishes every commit to the
// notifier. It is the only component that writes the store or the cache.
//
// Mutation phases are strict: commit first, then cache, then notify. The
// cache and subscribers never see an uncommitted or rolled-back mutation.
type Ledger struct {
	store port.StockStore
	guard port.IdempotencyGuard // optional; nil disables the correlation check
	hub   *notifier.Notifier
	cache *Cache
	locks *Serializer

	ready  atomic.Bool
	logger *zap.Logger
}

func New(store port.StockStore, guard port.IdempotencyGuard, hub *notifier.Notifier, abandonAfter time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		guard:  guard,
		hub:    hub,
		cache:  NewCache(),
		locks:  NewSerializer(abandonAfter, logger),
		logger: logger,
	}
}

// WarmLoad populates the cache from the full catalog. Mutations are rejected
// with domain.ErrNotReady until it completes; reads fall through to the store.
func (l *Ledger) WarmLoad(ctx context.Context) error {
	rows, err := l.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("warm load: %w", err)
	}
	for _, row := range rows {
		l.cache.Put(snapshotOf(row))
	}
	l.ready.Store(true)
	l.logger.Info("warm load complete", zap.Int("products", len(rows)))
	return nil
}

// ApplyMutation applies one signed stock delta. On success the committed
// post-mutation state has already reached the cache and the notifier.
func (l *Ledger) ApplyMutation(ctx context.Context, req domain.MutationRequest) (domain.CommitResult, error) {
	if req.ProductID == "" {
		return domain.CommitResult{}, errors.New("product id is required")
	}
	if req.Delta == 0 {
		return domain.CommitResult{}, errors.New("delta must be non-zero")
	}
	if !l.ready.Load() {
		return domain.CommitResult{}, domain.ErrNotReady
	}

	if l.guard != nil && req.CorrelationID != "" {
		ok, err := l.guard.FirstUse(ctx, req.CorrelationID)
		if err != nil {
			return domain.CommitResult{}, fmt.Errorf("correlation check: %w", err)
		}
		if !ok {
			return domain.CommitResult{}, fmt.Errorf("%w: correlation id %s", domain.ErrDuplicateRequest, req.CorrelationID)
		}
	}

	lease, err := l.locks.Acquire(ctx, req.ProductID)
	if err != nil {
		return domain.CommitResult{}, err
	}

	row, err := l.store.ApplyDelta(ctx, req.ProductID, req.Delta)
	if err != nil {
		if relErr := lease.Release(); relErr != nil {
			l.logger.Warn("lease release after failed mutation", zap.String("product_id", req.ProductID), zap.Error(relErr))
		}
		if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrTransactionAborted) {
			l.logger.Error("store mutation failed",
				zap.String("product_id", req.ProductID),
				zap.Int64("delta", req.Delta),
				zap.Error(err),
			)
		}
		return domain.CommitResult{}, err
	}

	// Committed. Cache before notify, so a subscriber reacting to the event
	// always reads at least this state.
	l.cache.Put(snapshotOf(row))
	ev := l.hub.Publish(domain.ChangeEvent{
		ProductID: row.ProductID,
		Name:      row.Name,
		Stock:     row.Stock,
		Delta:     req.Delta,
		Cause:     causeOf(req),
		Timestamp: time.Now().UTC(),
	})

	if relErr := lease.Release(); relErr != nil {
		// The commit stands (cache and subscribers already reflect it), but
		// the operation is reported failed so the fault is not masked.
		l.logger.Error("lease lost during mutation", zap.String("product_id", req.ProductID), zap.Error(relErr))
		return domain.CommitResult{}, relErr
	}

	return domain.CommitResult{
		ProductID: row.ProductID,
		Name:      row.Name,
		Stock:     row.Stock,
		Delta:     req.Delta,
		Version:   row.Version,
		Sequence:  ev.Sequence,
	}, nil
}

// ReadStock serves from the cache and falls back to the store on a miss,
// populating the cache with a version check so a stale fallback read can
// never overwrite a newer committed mutation. Takes no lease and never
// blocks on in-flight mutations.
func (l *Ledger) ReadStock(ctx context.Context, productID string) (domain.StockSnapshot, error) {
	if !l.ready.Load() {
		row, err := l.store.GetProduct(ctx, productID)
		if err != nil {
			return domain.StockSnapshot{}, err
		}
		return snapshotOf(row), nil
	}
	if e, ok := l.cache.Get(productID); ok {
		return e, nil
	}
	row, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	snap := snapshotOf(row)
	l.cache.Put(snap)
	return snap, nil
}

// Catalog returns a snapshot of every product's current stock, the target of
// a subscriber's full resync pull.
func (l *Ledger) Catalog(ctx context.Context) ([]domain.StockSnapshot, error) {
	if l.ready.Load() {
		return l.cache.Snapshot(), nil
	}
	rows, err := l.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StockSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, snapshotOf(row))
	}
	return out, nil
}

func snapshotOf(row domain.ProductStock) domain.StockSnapshot {
	return domain.StockSnapshot{
		ProductID: row.ProductID,
		Name:      row.Name,
		Stock:     row.Stock,
		Version:   row.Version,
	}
}

func causeOf(req domain.MutationRequest) domain.Cause {
	if req.Cause != "" {
		return req.Cause
	}
	if req.Delta < 0 {
		return domain.CauseSale
	}
	return domain.CauseRestock
}
