package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotency_Migration_UniqueIndex_AndInsert(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&Idempotency{}) {
		t.Fatalf("expected table %q to exist", Idempotency{}.TableName())
	}
	if !m.HasIndex(&Idempotency{}, "ux_store_scope_key") {
		t.Fatalf("expected composite index ux_store_scope_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID:         "id-1",
		StoreID:    "s1",
		Scope:      ScopeCheckout,
		Key:        "k1",
		ResourceID: "o1",
		Status:     201,
		ExpiresAt:  now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.StoreID != "s1" || got.Scope != ScopeCheckout || got.Key != "k1" || got.ResourceID != "o1" || got.Status != 201 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be set by autoCreateTime")
	}

	dup := &Idempotency{ID: "id-2", StoreID: "s1", Scope: ScopeCheckout, Key: "k1", ResourceID: "o2", Status: 201, ExpiresAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (store_id, scope, key)")
	}

	// Same key under another store is a different request.
	other := &Idempotency{ID: "id-3", StoreID: "s2", Scope: ScopeCheckout, Key: "k1", ResourceID: "o3", Status: 201, ExpiresAt: now}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other store: %v", err)
	}
}
