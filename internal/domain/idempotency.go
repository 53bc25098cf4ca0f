package domain

import "time"

// Idempotency scopes.
const (
	ScopeCheckout = "checkout"
)

// Idempotency represents a recorded result of a previously processed request,
// keyed by (store_id, scope, key). It lets a client retry a checkout with the
// same Idempotency-Key and get the originally created order back instead of a
// second one.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	StoreID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_store_scope_key,priority:1"`
	Scope      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_store_scope_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_store_scope_key,priority:3"`
	ResourceID string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:TIMESTAMP NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:TIMESTAMP NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
