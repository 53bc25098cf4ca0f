// Package domain defines the persistence models for the restaurant catalog,
// orders, and WhatsApp instances. These types are mapped with GORM and form
// the core data layer of the menu backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Store status values.
const (
	StoreActive   = "active"
	StoreInactive = "inactive"
)

// Store is the tenant root. Every catalog entity, order, and WhatsApp
// instance is scoped to exactly one store.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Slug: public routing key for the menu (unique).
//   - Name: display name.
//   - Status: "active" or "inactive"; inactive stores do not serve menus.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Store struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Slug      string         `json:"slug"       gorm:"type:varchar(128);not null;uniqueIndex:ux_store_slug"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	Status    string         `json:"status"     gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','inactive')"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Store.
func (Store) TableName() string { return "stores" }

// Section is an ordered grouping of products within a store.
type Section struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	StoreID      string         `json:"store_id"      gorm:"type:char(36);not null;index:idx_store_sections,priority:1"`
	Name         string         `json:"name"          gorm:"type:varchar(255);not null"`
	DisplayOrder int            `json:"display_order" gorm:"not null;default:0;index:idx_store_sections,priority:2"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	Store    Store     `json:"-"                  gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Products []Product `json:"products,omitempty" gorm:"foreignKey:SectionID"`
}

// TableName returns the database table name for Section.
func (Section) TableName() string { return "sections" }

// Product is a sellable item. Prices are kept as decimal strings exactly as
// the catalog owner typed them; pricing parses them on demand.
//
// When OriginalPrice is set and greater than Price it is the "was" price of a
// promotion. The charged unit price is always min(Price, OriginalPrice).
// IsPromotion is display only.
type Product struct {
	ID            string         `json:"id"                       gorm:"type:char(36);primaryKey"`
	StoreID       string         `json:"store_id"                 gorm:"type:char(36);not null;index"`
	SectionID     string         `json:"section_id"               gorm:"type:char(36);not null;index:idx_section_products,priority:1"`
	Name          string         `json:"name"                     gorm:"type:varchar(255);not null"`
	Description   string         `json:"description"              gorm:"type:text"`
	Price         string         `json:"price"                    gorm:"type:varchar(32);not null"`
	OriginalPrice *string        `json:"original_price,omitempty" gorm:"type:varchar(32)"`
	IsAvailable   bool           `json:"is_available"             gorm:"not null"`
	IsPromotion   bool           `json:"is_promotion"             gorm:"not null;default:false"`
	DisplayOrder  int            `json:"display_order"            gorm:"not null;default:0;index:idx_section_products,priority:2"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"                        gorm:"index"`

	Section     Section      `json:"-"                      gorm:"foreignKey:SectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	AddonGroups []AddonGroup `json:"addon_groups,omitempty" gorm:"foreignKey:ProductID"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// AddonGroup is a named choice-set belonging to one product. The number of
// addons picked from a group must lie in [MinSelections, MaxSelections].
type AddonGroup struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	ProductID     string         `json:"product_id"     gorm:"type:char(36);not null;index:idx_product_groups,priority:1"`
	Name          string         `json:"name"           gorm:"type:varchar(255);not null"`
	IsRequired    bool           `json:"is_required"    gorm:"not null;default:false"`
	MinSelections int            `json:"min_selections" gorm:"not null;default:0"`
	MaxSelections int            `json:"max_selections" gorm:"not null;default:1"`
	DisplayOrder  int            `json:"display_order"  gorm:"not null;default:0;index:idx_product_groups,priority:2"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`

	Product Product `json:"-"                gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Addons  []Addon `json:"addons,omitempty" gorm:"foreignKey:GroupID"`
}

// TableName returns the database table name for AddonGroup.
func (AddonGroup) TableName() string { return "addon_groups" }

// ValidBounds reports whether the group's cardinality bounds are coherent.
// Required groups need 1 <= min <= max; optional groups allow min = 0.
func (g AddonGroup) ValidBounds() bool {
	if g.MinSelections < 0 || g.MaxSelections < g.MinSelections || g.MaxSelections < 1 {
		return false
	}
	if g.IsRequired && g.MinSelections < 1 {
		return false
	}
	return true
}

// Addon is a selectable option within a group. Price is an additive
// surcharge and may be "0".
type Addon struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	GroupID      string         `json:"group_id"      gorm:"type:char(36);not null;index:idx_group_addons,priority:1"`
	Name         string         `json:"name"          gorm:"type:varchar(255);not null"`
	Price        string         `json:"price"         gorm:"type:varchar(32);not null;default:'0'"`
	IsAvailable  bool           `json:"is_available"  gorm:"not null"`
	DisplayOrder int            `json:"display_order" gorm:"not null;default:0;index:idx_group_addons,priority:2"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	Group AddonGroup `json:"-" gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Addon.
func (Addon) TableName() string { return "addons" }
