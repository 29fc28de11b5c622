package model

import "time"

// Product is a catalog entry. Products are loaded once and never mutated.
type Product struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	AisleID    int64   `json:"aisle_id"`
	Aisle      string  `json:"aisle"`
	DeptID     int64   `json:"department_id"`
	Department string  `json:"department"`
	Price      float64 `json:"price"`
}

// PurchaseHistoryEntry links a user to a product bought in one prior order.
type PurchaseHistoryEntry struct {
	UserID       string    `json:"user_id"`
	OrderID      int64     `json:"order_id"`
	ProductID    int64     `json:"product_id"`
	Quantity     int       `json:"quantity"`
	Reordered    bool      `json:"reordered"`
	AddToCartPos int       `json:"add_to_cart_order"`
	OrderedAt    time.Time `json:"ordered_at,omitzero"`
}

// ProductRecord is the uniform result shape of every product search.
type ProductRecord struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Department   string  `json:"department"`
	Aisle        string  `json:"aisle"`
	Price        float64 `json:"price"`
	TimesOrdered int     `json:"times_ordered,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// Record converts a product to its search result shape.
func (p Product) Record() ProductRecord {
	return ProductRecord{
		ID:         p.ID,
		Name:       p.Name,
		Department: p.Department,
		Aisle:      p.Aisle,
		Price:      p.Price,
	}
}

// Filter holds the conjunctive predicates of a structured search. Zero values
// mean "no constraint".
type Filter struct {
	Department   string
	Aisle        string
	MaxPrice     *float64
	NameContains string
	HistoryOnly  bool
	UserID       string
	Reordered    *bool
	MinOrders    int
	Limit        int
}

// Escalation request raised by the support agent.
type RouteToCustomerSupport struct {
	Reason  string  `json:"reason" validate:"required,notblank"`
	Urgency Urgency `json:"urgency,omitempty" validate:"omitempty,oneof=low medium high"`
}
