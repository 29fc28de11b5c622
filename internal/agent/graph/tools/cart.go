package tools

import (
	"fmt"
	"strings"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

// Cart tools are the only writers of Conversation.Cart. Each records its
// confirmation under the call id so a replayed call is not applied twice.

func (e *Executor) checkThread(conv *model.Conversation, threadID string) error {
	if threadID != "" && threadID != conv.ThreadID {
		return errx.InvalidArgument("cart call is bound to thread %s, not %s", threadID, conv.ThreadID)
	}
	return nil
}

func (e *Executor) addToCart(conv *model.Conversation, callID string, a AddToCartArgs) (string, error) {
	if err := e.checkThread(conv, a.ThreadID); err != nil {
		return "", err
	}
	if msg, ok := conv.Cart.Replayed(callID); ok {
		return msg, nil
	}
	p, ok := e.catalog.Product(a.ProductID)
	if !ok {
		return "", errx.ProductNotFound(a.ProductID)
	}
	qty := 1
	if a.Quantity != nil {
		qty = *a.Quantity
	}

	total := conv.Cart.Add(p.ID, qty)
	msg := fmt.Sprintf("Added %d x %s (ID: %d) to the cart. Quantity in cart: %d.", qty, p.Name, p.ID, total)
	conv.Cart.Record(callID, msg)
	return msg, nil
}

func (e *Executor) removeFromCart(conv *model.Conversation, callID string, a RemoveFromCartArgs) (string, error) {
	if err := e.checkThread(conv, a.ThreadID); err != nil {
		return "", err
	}
	if msg, ok := conv.Cart.Replayed(callID); ok {
		return msg, nil
	}
	if _, ok := e.catalog.Product(a.ProductID); !ok {
		return "", errx.ProductNotFound(a.ProductID)
	}
	if conv.Cart.Quantity(a.ProductID) == 0 {
		return "", errx.InvalidArgument("product %d is not in the cart", a.ProductID)
	}

	qty := 0
	if a.Quantity != nil {
		qty = *a.Quantity
	}
	left := conv.Cart.Remove(a.ProductID, qty)
	name := e.productName(a.ProductID)

	var msg string
	if left == 0 {
		msg = fmt.Sprintf("Removed %s (ID: %d) from the cart.", name, a.ProductID)
	} else {
		msg = fmt.Sprintf("Removed %d x %s (ID: %d). Quantity in cart: %d.", qty, name, a.ProductID, left)
	}
	conv.Cart.Record(callID, msg)
	return msg, nil
}

func (e *Executor) updateCart(conv *model.Conversation, callID string, a UpdateCartArgs) (string, error) {
	if err := e.checkThread(conv, a.ThreadID); err != nil {
		return "", err
	}
	if msg, ok := conv.Cart.Replayed(callID); ok {
		return msg, nil
	}
	if _, ok := e.catalog.Product(a.ProductID); !ok {
		return "", errx.ProductNotFound(a.ProductID)
	}
	if conv.Cart.Quantity(a.ProductID) == 0 {
		return "", errx.ProductNotFound(a.ProductID)
	}

	conv.Cart.Set(a.ProductID, *a.Quantity)
	msg := fmt.Sprintf("Updated %s (ID: %d) to quantity %d.", e.productName(a.ProductID), a.ProductID, *a.Quantity)
	conv.Cart.Record(callID, msg)
	return msg, nil
}

func (e *Executor) viewCart(conv *model.Conversation, a ViewCartArgs) (string, error) {
	if err := e.checkThread(conv, a.ThreadID); err != nil {
		return "", err
	}
	return FormatCart(conv.Cart, e.catalog), nil
}

// FormatCart renders cart lines and the subtotal.
func FormatCart(cart model.Cart, catalog Catalog) string {
	lines := cart.Lines()
	if len(lines) == 0 {
		return "Your cart is empty."
	}

	var (
		sb       strings.Builder
		subtotal float64
	)
	sb.WriteString("Cart:\n")
	for _, l := range lines {
		p, ok := catalog.Product(l.ProductID)
		if !ok {
			fmt.Fprintf(&sb, "- unknown product (ID: %d) x %d\n", l.ProductID, l.Quantity)
			continue
		}
		cost := p.Price * float64(l.Quantity)
		subtotal += cost
		fmt.Fprintf(&sb, "- %s (ID: %d) x %d @ $%.2f = $%.2f\n", p.Name, p.ID, l.Quantity, p.Price, cost)
	}
	fmt.Fprintf(&sb, "Subtotal: $%.2f", subtotal)
	return sb.String()
}

func (e *Executor) productName(id int64) string {
	if p, ok := e.catalog.Product(id); ok {
		return p.Name
	}
	return fmt.Sprintf("product %d", id)
}
