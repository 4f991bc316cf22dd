package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// MySQLAdapter executes atomic read-modify-write stock mutations. The
// oversell check runs inside the transaction against a row locked with
// FOR UPDATE, so it is race-free on its own; the ledger's per-product lease
// above it is a fairness and throughput layer, not the correctness guard.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) ApplyDelta(ctx context.Context, productID string, delta int64) (domain.ProductStock, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductStock{}, classify("begin tx", err)
	}
	defer tx.Rollback()

	var p domain.ProductStock
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, name, stock, version, updated_at
		FROM products WHERE product_id = ? FOR UPDATE`, productID,
	).Scan(&p.ProductID, &p.Name, &p.Stock, &p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProductStock{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.ProductStock{}, classify("select for update", err)
	}

	newStock := p.Stock + delta
	if newStock < 0 {
		return domain.ProductStock{}, &domain.InsufficientStockError{
			ProductID: productID,
			Stock:     p.Stock,
			Requested: -delta,
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET stock = ?, version = version + 1, updated_at = NOW()
		WHERE product_id = ?`,
		newStock, productID,
	)
	if err != nil {
		return domain.ProductStock{}, classify("update stock", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ProductStock{}, classify("commit", err)
	}

	p.Stock = newStock
	p.Version++
	return p, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (domain.ProductStock, error) {
	var p domain.ProductStock
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, name, stock, version, updated_at
		FROM products WHERE product_id = ?`, productID,
	).Scan(&p.ProductID, &p.Name, &p.Stock, &p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProductStock{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.ProductStock{}, classify("query product", err)
	}
	return p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.ProductStock, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, name, stock, version, updated_at
		FROM products ORDER BY product_id`)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()

	var out []domain.ProductStock
	for rows.Next() {
		var p domain.ProductStock
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Stock, &p.Version, &p.UpdatedAt); err != nil {
			return nil, classify("scan product", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list products", err)
	}
	return out, nil
}

// classify maps driver errors onto the ledger taxonomy: a server-side SQL
// error means the transaction aborted; anything else (bad connection, pool
// wait, context expiry) means the store was unreachable.
func classify(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrTransactionAborted)
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrStoreUnavailable)
}
