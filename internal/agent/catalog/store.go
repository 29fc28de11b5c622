// Package catalog holds the read-only product catalog and purchase history.
//
// Rows are kept in an in-memory SQLite database so structured filters are
// expressed as SQL, plus a by-id map for lookups. The store is never written
// after Load returns and is safe for concurrent readers.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// DefaultMaxResults caps structured search results when no cap is configured.
const DefaultMaxResults = 20

const schemaSQL = `
CREATE TABLE products (
	product_id    INTEGER PRIMARY KEY,
	product_name  TEXT NOT NULL,
	aisle_id      INTEGER NOT NULL,
	aisle         TEXT NOT NULL DEFAULT '',
	department_id INTEGER NOT NULL,
	department    TEXT NOT NULL DEFAULT '',
	price         REAL NOT NULL CHECK (price >= 0)
);
CREATE INDEX idx_products_department ON products(department);
CREATE INDEX idx_products_price ON products(price, product_id);

CREATE TABLE purchase_history (
	user_id           TEXT NOT NULL,
	order_id          INTEGER NOT NULL,
	product_id        INTEGER NOT NULL,
	quantity          INTEGER NOT NULL DEFAULT 1,
	add_to_cart_order INTEGER NOT NULL DEFAULT 0,
	reordered         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_history_user ON purchase_history(user_id, product_id);
`

// Store is the Catalog Store.
type Store struct {
	db         *sql.DB
	byID       map[int64]model.Product
	maxResults int
}

// New opens an empty in-memory store.
func New(ctx context.Context, maxResults int) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Store{db: db, byID: map[int64]model.Product{}, maxResults: maxResults}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxResults is the structured search cap.
func (s *Store) MaxResults() int { return s.maxResults }

// InsertProducts adds products. Only loaders call it, before the store is shared.
func (s *Store) InsertProducts(ctx context.Context, products []model.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO products
		(product_id, product_name, aisle_id, aisle, department_id, department, price)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range products {
		if p.Price < 0 {
			return fmt.Errorf("product %d: negative price %.2f", p.ID, p.Price)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.AisleID, p.Aisle, p.DeptID, p.Department, p.Price); err != nil {
			return fmt.Errorf("insert product %d: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, p := range products {
		s.byID[p.ID] = p
	}
	return nil
}

// InsertHistory adds purchase history rows.
func (s *Store) InsertHistory(ctx context.Context, entries []model.PurchaseHistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO purchase_history
		(user_id, order_id, product_id, quantity, add_to_cart_order, reordered)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		qty := e.Quantity
		if qty < 1 {
			qty = 1
		}
		if _, err := stmt.ExecContext(ctx, e.UserID, e.OrderID, e.ProductID, qty, e.AddToCartPos, boolInt(e.Reordered)); err != nil {
			return fmt.Errorf("insert history order %d: %w", e.OrderID, err)
		}
	}
	return tx.Commit()
}

// Product looks up a product by id.
func (s *Store) Product(id int64) (model.Product, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Products returns every product ordered by id.
func (s *Store) Products() []model.Product {
	out := make([]model.Product, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of products.
func (s *Store) Len() int { return len(s.byID) }

// Departments lists the distinct department names.
func (s *Store) Departments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT department FROM products WHERE department <> '' ORDER BY department`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Search applies f conjunctively and returns matches ordered by price then id,
// capped at the store limit. No match is an empty slice, not an error.
func (s *Store) Search(ctx context.Context, f model.Filter) ([]model.ProductRecord, error) {
	if err := s.check(f); err != nil {
		return nil, err
	}

	var (
		sb   strings.Builder
		args []any
	)
	if f.HistoryOnly {
		sb.WriteString(`SELECT p.product_id, p.product_name, p.department, p.aisle, p.price, h.times_ordered
FROM products p
JOIN (SELECT product_id, COUNT(*) AS times_ordered, SUM(reordered) AS reorders
      FROM purchase_history WHERE user_id = ? GROUP BY product_id) h
  ON h.product_id = p.product_id
WHERE 1 = 1`)
		args = append(args, f.UserID)
		if f.Reordered != nil {
			if *f.Reordered {
				sb.WriteString(" AND h.reorders > 0")
			} else {
				sb.WriteString(" AND h.reorders = 0")
			}
		}
		if f.MinOrders > 0 {
			sb.WriteString(" AND h.times_ordered >= ?")
			args = append(args, f.MinOrders)
		}
	} else {
		sb.WriteString(`SELECT p.product_id, p.product_name, p.department, p.aisle, p.price, 0
FROM products p
WHERE 1 = 1`)
	}

	if d := strings.TrimSpace(f.Department); d != "" {
		sb.WriteString(" AND lower(p.department) = lower(?)")
		args = append(args, d)
	}
	if a := strings.TrimSpace(f.Aisle); a != "" {
		sb.WriteString(" AND lower(p.aisle) = lower(?)")
		args = append(args, a)
	}
	if f.MaxPrice != nil {
		sb.WriteString(" AND p.price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if n := strings.TrimSpace(f.NameContains); n != "" {
		sb.WriteString(" AND instr(lower(p.product_name), lower(?)) > 0")
		args = append(args, n)
	}

	sb.WriteString(" ORDER BY p.price ASC, p.product_id ASC LIMIT ?")
	args = append(args, s.limit(f.Limit))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("structured search: %w", err)
	}
	defer rows.Close()

	out := []model.ProductRecord{}
	for rows.Next() {
		var r model.ProductRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Department, &r.Aisle, &r.Price, &r.TimesOrdered); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logx.Debug().
		Bool("history_only", f.HistoryOnly).
		Str("department", f.Department).
		Int("results", len(out)).
		Msg("structured search")
	return out, nil
}

// HistoryUsers returns the number of distinct users with purchase history.
func (s *Store) HistoryUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT user_id) FROM purchase_history`).Scan(&n)
	return n, err
}

func (s *Store) check(f model.Filter) error {
	if f.HistoryOnly && strings.TrimSpace(f.UserID) == "" {
		return errx.InvalidArgument("history_only requires a user identifier")
	}
	if !f.HistoryOnly && (f.Reordered != nil || f.MinOrders > 0) {
		return errx.InvalidArgument("reordered and min_orders require history_only")
	}
	if f.MaxPrice != nil && *f.MaxPrice < 0 {
		return errx.InvalidArgument("max_price must be non-negative, got %.2f", *f.MaxPrice)
	}
	if f.MinOrders < 0 {
		return errx.InvalidArgument("min_orders must be at least 1, got %d", f.MinOrders)
	}
	if f.Limit < 0 {
		return errx.InvalidArgument("limit must be positive, got %d", f.Limit)
	}
	return nil
}

func (s *Store) limit(requested int) int {
	if requested <= 0 || requested > s.maxResults {
		return s.maxResults
	}
	return requested
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
