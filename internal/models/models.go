package models

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MenuItem represents an item on a floor's menu
type MenuItem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Category       string          `json:"category"`
	Floor          string          `json:"floor"`
	Stock          int             `json:"stock"`
	ImageRef       string          `json:"imageRef,omitempty"`
	HasCustomImage bool            `json:"hasCustomImage,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// InStock reports whether at least one unit can be reserved
func (m MenuItem) InStock() bool {
	return m.Stock > 0
}

// SortMenuItems orders items by category, then name, ignoring case
func SortMenuItems(items []MenuItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := strings.ToLower(items[i].Category), strings.ToLower(items[j].Category)
		if ci != cj {
			return ci < cj
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
}

// CartLine is one menu item captured in a cart at a quantity
type CartLine struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
	Floor    string          `json:"floor"`
	Quantity int             `json:"quantity"`
}

// LineTotal returns price times quantity
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineFromItem captures a menu item as a cart line of the given quantity
func LineFromItem(item MenuItem, quantity int) CartLine {
	return CartLine{
		ItemID:   item.ID,
		Name:     item.Name,
		Price:    item.Price,
		Category: item.Category,
		Floor:    item.Floor,
		Quantity: quantity,
	}
}

// CartSnapshot is the persisted reservation of a cart that lost foreground
type CartSnapshot struct {
	CartID       string     `json:"cartId"`
	CustomerName string     `json:"customerName,omitempty"`
	Lines        []CartLine `json:"lines"`
	SavedAt      time.Time  `json:"savedAt"`
}

// Floors returns the distinct floors of the snapshot lines, in first-seen order
func (s CartSnapshot) Floors() []string {
	return FloorsOf(s.Lines)
}

// FloorsOf returns the distinct floors of lines in first-seen order
func FloorsOf(lines []CartLine) []string {
	var floors []string
	for _, l := range lines {
		if !slices.Contains(floors, l.Floor) {
			floors = append(floors, l.Floor)
		}
	}
	return floors
}

// PaymentStatus is the state of a bill's payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentSuccess   PaymentStatus = "Success"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentCancelled PaymentStatus = "Cancelled"
	PaymentError     PaymentStatus = "Error"
)

// IsTerminal reports whether the status resolves a payment attempt
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSuccess, PaymentFailed, PaymentCancelled, PaymentError:
		return true
	}
	return false
}

// ParsePaymentStatus parses a status name, ignoring case and surrounding space
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	for _, st := range []PaymentStatus{PaymentPending, PaymentSuccess, PaymentFailed, PaymentCancelled, PaymentError} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// Bill is an immutable snapshot of a checkout attempt. Only PaymentStatus,
// TransactionID and the bookkeeping fields change after creation.
type Bill struct {
	OrderID       string          `json:"orderId"`
	CartID        string          `json:"cartId"`
	CustomerName  string          `json:"customerName"`
	PaymentMethod string          `json:"paymentMethod"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Items         []CartLine      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	TransactionID string          `json:"transactionId,omitempty"`
	Attempts      int             `json:"attempts"`
	Dispatched    bool            `json:"dispatched"`
}

// OrderDate formats the creation date as dd/MM/yyyy
func (b Bill) OrderDate() string {
	return b.CreatedAt.Format("02/01/2006")
}

// OrderTime formats the creation time as HH:mm:ss
func (b Bill) OrderTime() string {
	return b.CreatedAt.Format("15:04:05")
}

// TotalItems returns the number of units on the bill
func (b Bill) TotalItems() int {
	n := 0
	for _, l := range b.Items {
		n += l.Quantity
	}
	return n
}

// Clone returns a copy that shares no slices with b
func (b Bill) Clone() Bill {
	b.Items = slices.Clone(b.Items)
	return b
}

// OrderStatus tracks fulfilment of a floor's share of an order
type OrderStatus string

const (
	OrderNew   OrderStatus = "New Order"
	OrderReady OrderStatus = "Ready"
)

// OrderItem represents an item in a floor order
type OrderItem struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

// OrderRecord is the floor-scoped part of a successful bill
type OrderRecord struct {
	OrderID       string          `json:"orderId"`
	Floor         string          `json:"floor"`
	CustomerName  string          `json:"customerName"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	TotalItems    int             `json:"totalItems"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	TransactionID string          `json:"transactionId,omitempty"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}
