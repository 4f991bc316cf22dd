package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockledger?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

func seedProduct(t *testing.T, db *sql.DB, productID string, stock int64) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO products (product_id, name, stock, version) VALUES (?, ?, ?, 0)
		ON DUPLICATE KEY UPDATE stock = VALUES(stock), version = 0`,
		productID, "Test "+productID, stock)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestApplyDelta_Sale(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	seedProduct(t, db, "apply-test", 100)

	p, err := adapter.ApplyDelta(ctx, "apply-test", -3)
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}
	if p.Stock != 97 {
		t.Errorf("expected stock 97, got %d", p.Stock)
	}
	if p.Version != 1 {
		t.Errorf("expected version 1, got %d", p.Version)
	}

	var stock int64
	var version uint64
	db.QueryRowContext(ctx, `SELECT stock, version FROM products WHERE product_id = 'apply-test'`).Scan(&stock, &version)
	if stock != 97 || version != 1 {
		t.Errorf("expected committed 97/v1, got %d/v%d", stock, version)
	}
}

func TestApplyDelta_InsufficientStock(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	seedProduct(t, db, "oversell-test", 5)

	_, err := adapter.ApplyDelta(ctx, "oversell-test", -10)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatal("expected InsufficientStockError detail")
	}
	if insufficient.Stock != 5 {
		t.Errorf("expected reported stock 5, got %d", insufficient.Stock)
	}

	// Rejection must not touch the row.
	var stock int64
	db.QueryRowContext(ctx, `SELECT stock FROM products WHERE product_id = 'oversell-test'`).Scan(&stock)
	if stock != 5 {
		t.Errorf("expected stock 5, got %d", stock)
	}
}

func TestApplyDelta_NotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db)

	_, err := adapter.ApplyDelta(context.Background(), "nonexistent-item", -1)
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got: %v", err)
	}
}

func TestGetProduct(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	seedProduct(t, db, "get-test", 50)

	p, err := adapter.GetProduct(ctx, "get-test")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if p.ProductID != "get-test" {
		t.Errorf("expected product_id 'get-test', got %s", p.ProductID)
	}
	if p.Stock != 50 {
		t.Errorf("expected stock 50, got %d", p.Stock)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db)

	_, err := adapter.GetProduct(context.Background(), "nonexistent-item")
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got: %v", err)
	}
}

func TestListProducts(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	seedProduct(t, db, "list-test-a", 1)
	seedProduct(t, db, "list-test-b", 2)

	products, err := adapter.ListProducts(ctx)
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}

	found := map[string]int64{}
	for _, p := range products {
		found[p.ProductID] = p.Stock
	}
	if found["list-test-a"] != 1 || found["list-test-b"] != 2 {
		t.Errorf("seeded products missing from listing: %v", found)
	}
}
