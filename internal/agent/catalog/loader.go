package catalog

import (
	"context"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/shopassist/server/internal/agent/model"
	logx "github.com/shopassist/server/pkg/logger"
)

// Dataset file names, following the Instacart export layout.
const (
	ProductsFile    = "products.csv"
	AislesFile      = "aisles.csv"
	DepartmentsFile = "departments.csv"
	OrdersFile      = "orders.csv"
	PriorFile       = "order_products__prior.csv"
)

//go:embed sample/*.csv
var sampleFS embed.FS

// Load builds a store from the CSV files in dir.
func Load(ctx context.Context, dir string, maxResults int) (*Store, error) {
	return LoadFS(ctx, os.DirFS(dir), maxResults)
}

// LoadSample builds a store from the small dataset bundled with the binary.
func LoadSample(ctx context.Context, maxResults int) (*Store, error) {
	sub, err := fs.Sub(sampleFS, "sample")
	if err != nil {
		return nil, err
	}
	return LoadFS(ctx, sub, maxResults)
}

// LoadFS builds a store from an fs.FS holding the dataset files. Products,
// aisles and departments are required; orders and prior order lines are optional.
func LoadFS(ctx context.Context, fsys fs.FS, maxResults int) (*Store, error) {
	aisles, err := readNames(fsys, AislesFile, "aisle_id", "aisle")
	if err != nil {
		return nil, err
	}
	departments, err := readNames(fsys, DepartmentsFile, "department_id", "department")
	if err != nil {
		return nil, err
	}
	products, err := readProducts(fsys, aisles, departments)
	if err != nil {
		return nil, err
	}

	store, err := New(ctx, maxResults)
	if err != nil {
		return nil, err
	}
	if err := store.InsertProducts(ctx, products); err != nil {
		_ = store.Close()
		return nil, err
	}

	history, err := readHistory(fsys)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.InsertHistory(ctx, history); err != nil {
		_ = store.Close()
		return nil, err
	}

	logx.Info().
		Int("products", len(products)).
		Int("history_rows", len(history)).
		Msg("catalog loaded")
	return store, nil
}

// FallbackPrice derives a price for catalogs that carry none.
func FallbackPrice(productID int64) float64 {
	return float64(productID%100) + 0.99
}

// table is a CSV file indexed by header name.
type table struct {
	name   string
	header map[string]int
	r      *csv.Reader
	closer io.Closer
}

func openTable(fsys fs.FS, name string, required ...string) (*table, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.ReuseRecord = true
	head, err := r.Read()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	t := &table{name: name, header: make(map[string]int, len(head)), r: r, closer: f}
	for i, h := range head {
		t.header[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			_ = f.Close()
			return nil, fmt.Errorf("%s: missing column %q", name, col)
		}
	}
	return t, nil
}

func (t *table) close() { _ = t.closer.Close() }

// next returns the next record or io.EOF.
func (t *table) next() ([]string, error) {
	rec, err := t.r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	return rec, err
}

func (t *table) has(col string) bool {
	_, ok := t.header[col]
	return ok
}

func (t *table) str(rec []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (t *table) num(rec []string, col string) (int64, error) {
	v := t.str(rec, col)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// ids are sometimes exported as floats ("12.0")
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%s: column %s: %w", t.name, col, err)
		}
		n = int64(f)
	}
	return n, nil
}

func readNames(fsys fs.FS, file, idCol, nameCol string) (map[int64]string, error) {
	t, err := openTable(fsys, file, idCol, nameCol)
	if err != nil {
		return nil, err
	}
	defer t.close()

	out := map[int64]string{}
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		id, err := t.num(rec, idCol)
		if err != nil {
			return nil, err
		}
		out[id] = t.str(rec, nameCol)
	}
}

func readProducts(fsys fs.FS, aisles, departments map[int64]string) ([]model.Product, error) {
	t, err := openTable(fsys, ProductsFile, "product_id", "product_name", "aisle_id", "department_id")
	if err != nil {
		return nil, err
	}
	defer t.close()

	withPrice := t.has("price")
	var out []model.Product
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		id, err := t.num(rec, "product_id")
		if err != nil {
			return nil, err
		}
		aisleID, err := t.num(rec, "aisle_id")
		if err != nil {
			continue
		}
		deptID, err := t.num(rec, "department_id")
		if err != nil {
			continue
		}
		p := model.Product{
			ID:         id,
			Name:       t.str(rec, "product_name"),
			AisleID:    aisleID,
			Aisle:      aisles[aisleID],
			DeptID:     deptID,
			Department: departments[deptID],
			Price:      FallbackPrice(id),
		}
		if withPrice {
			if v := t.str(rec, "price"); v != "" {
				price, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: product %d price: %w", ProductsFile, id, err)
				}
				p.Price = price
			}
		}
		out = append(out, p)
	}
}

func readHistory(fsys fs.FS) ([]model.PurchaseHistoryEntry, error) {
	orders, err := openTable(fsys, OrdersFile, "order_id", "user_id")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	owner := map[int64]string{}
	for {
		rec, err := orders.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			orders.close()
			return nil, err
		}
		id, err := orders.num(rec, "order_id")
		if err != nil {
			orders.close()
			return nil, err
		}
		owner[id] = orders.str(rec, "user_id")
	}
	orders.close()

	prior, err := openTable(fsys, PriorFile, "order_id", "product_id")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer prior.close()

	var out []model.PurchaseHistoryEntry
	for {
		rec, err := prior.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		orderID, err := prior.num(rec, "order_id")
		if err != nil {
			return nil, err
		}
		user, ok := owner[orderID]
		if !ok {
			continue
		}
		productID, err := prior.num(rec, "product_id")
		if err != nil {
			return nil, err
		}
		pos, _ := prior.num(rec, "add_to_cart_order")
		re, _ := prior.num(rec, "reordered")
		out = append(out, model.PurchaseHistoryEntry{
			UserID:       user,
			OrderID:      orderID,
			ProductID:    productID,
			Quantity:     1,
			Reordered:    re > 0,
			AddToCartPos: int(pos),
		})
	}
}
