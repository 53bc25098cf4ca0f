package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrTerminalState is returned when advancing an order that is already
// delivered.
var ErrTerminalState = errors.New("order is in a terminal state")

// ErrInvalidStatus is returned for status values outside the lifecycle.
var ErrInvalidStatus = errors.New("invalid order status")

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderReceived  OrderStatus = "received"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
)

// orderFlow is the only legal path; each status may move to the next one.
var orderFlow = []OrderStatus{OrderReceived, OrderPreparing, OrderReady, OrderDelivered}

// IsValid reports whether s is part of the lifecycle.
func (s OrderStatus) IsValid() bool {
	for _, v := range orderFlow {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool { return s == OrderDelivered }

// Next returns the single status that follows s.
func (s OrderStatus) Next() (OrderStatus, error) {
	for i, v := range orderFlow {
		if v != s {
			continue
		}
		if i == len(orderFlow)-1 {
			return s, ErrTerminalState
		}
		return orderFlow[i+1], nil
	}
	return s, ErrInvalidStatus
}

// CanTransitionTo reports whether target is exactly one step ahead of s.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	next, err := s.Next()
	return err == nil && next == target
}

// OrderSource tells where an order was entered.
type OrderSource string

const (
	SourceDigital OrderSource = "digital" // public menu checkout
	SourcePDV     OrderSource = "pdv"     // point-of-sale entry
)

// IsValid reports whether s is a known source.
func (s OrderSource) IsValid() bool { return s == SourceDigital || s == SourcePDV }

// Order is a submitted cart. Line amounts are snapshots taken at checkout;
// later catalog edits never touch them.
type Order struct {
	ID            string          `json:"id"                       gorm:"type:char(36);primaryKey"`
	StoreID       string          `json:"store_id"                 gorm:"type:char(36);not null;index:idx_store_orders,priority:1"`
	Status        OrderStatus     `json:"status"                   gorm:"type:varchar(16);not null;default:'received';check:status IN ('received','preparing','ready','delivered')"`
	Source        OrderSource     `json:"source"                   gorm:"type:varchar(16);not null;default:'digital'"`
	CustomerName  string          `json:"customer_name,omitempty"  gorm:"type:varchar(255)"`
	CustomerPhone string          `json:"customer_phone,omitempty" gorm:"type:varchar(32)"`
	TotalAmount   decimal.Decimal `json:"total_amount"             gorm:"type:decimal(10,2);not null"`
	CreatedAt     time.Time       `json:"created_at"               gorm:"index:idx_store_orders,priority:2"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `json:"-"                        gorm:"index"`

	Store Store       `json:"-"     gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Items []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Advance moves the order exactly one step forward.
func (o *Order) Advance() error {
	next, err := o.Status.Next()
	if err != nil {
		return err
	}
	o.Status = next
	return nil
}

// OrderItem is one priced line of an order.
type OrderItem struct {
	ID           string          `json:"id"            gorm:"type:char(36);primaryKey"`
	OrderID      string          `json:"order_id"      gorm:"type:char(36);not null;index"`
	ProductID    string          `json:"product_id"    gorm:"type:char(36);not null"`
	ProductName  string          `json:"product_name"  gorm:"type:varchar(255);not null"`
	Quantity     int             `json:"quantity"      gorm:"not null;check:quantity >= 1"`
	UnitPrice    decimal.Decimal `json:"unit_price"    gorm:"type:decimal(10,2);not null"`
	AddonsTotal  decimal.Decimal `json:"addons_total"  gorm:"type:decimal(10,2);not null"`
	LineSubtotal decimal.Decimal `json:"line_subtotal" gorm:"type:decimal(10,2);not null"`
	Position     int             `json:"position"      gorm:"not null;default:0"`

	Order  Order            `json:"-"      gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Addons []OrderItemAddon `json:"addons" gorm:"foreignKey:OrderItemID"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// OrderItemAddon snapshots one selected addon of an order line.
type OrderItemAddon struct {
	ID          string          `json:"id"            gorm:"type:char(36);primaryKey"`
	OrderItemID string          `json:"order_item_id" gorm:"type:char(36);not null;index"`
	AddonID     string          `json:"addon_id"      gorm:"type:char(36);not null"`
	GroupID     string          `json:"group_id"      gorm:"type:char(36);not null"`
	Name        string          `json:"name"          gorm:"type:varchar(255);not null"`
	Price       decimal.Decimal `json:"price"         gorm:"type:decimal(10,2);not null"`

	OrderItem OrderItem `json:"-" gorm:"foreignKey:OrderItemID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for OrderItemAddon.
func (OrderItemAddon) TableName() string { return "order_item_addons" }
