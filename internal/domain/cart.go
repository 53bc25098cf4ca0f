package domain

import "time"

// Cart is a shopper's open cart. Only the selections are stored; prices
// are always recomputed from the live catalog until the cart is submitted,
// at which point it becomes an Order and the row is removed.
//
// Version increases on every line change so two concurrent edits of the
// same cart cannot silently overwrite each other.
type Cart struct {
	ID        string      `json:"id"         gorm:"type:char(36);primaryKey"`
	StoreID   string      `json:"store_id"   gorm:"type:char(36);not null;index"`
	Source    OrderSource `json:"source"     gorm:"type:varchar(16);not null;default:'digital'"`
	Version   int         `json:"version"    gorm:"not null;default:0"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" gorm:"index"`

	Store Store      `json:"-"     gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Lines []CartLine `json:"lines" gorm:"foreignKey:CartID"`
}

// TableName returns the database table name for Cart.
func (Cart) TableName() string { return "carts" }

// CartLine is one stored selection. Addons maps addon group ids to the
// addon ids picked in that group.
type CartLine struct {
	ID        string              `json:"id"         gorm:"type:char(36);primaryKey"`
	CartID    string              `json:"cart_id"    gorm:"type:char(36);not null;index"`
	ProductID string              `json:"product_id" gorm:"type:char(36);not null"`
	Quantity  int                 `json:"quantity"   gorm:"not null;check:quantity >= 1"`
	Addons    map[string][]string `json:"addons"     gorm:"type:text;serializer:json"`
	Position  int                 `json:"position"   gorm:"not null;default:0"`

	Cart Cart `json:"-" gorm:"foreignKey:CartID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CartLine.
func (CartLine) TableName() string { return "cart_lines" }
