package repo

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// newTestDB opens a private in-memory database. With migrate=true every
// table is created.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// seedCatalog creates a store with one section, one product, one required
// group, and two addons (the second unavailable).
func seedCatalog(t *testing.T, db *gorm.DB, slug string) (*domain.Store, *domain.Product) {
	t.Helper()
	ctx := context.Background()
	st, err := CreateStore(ctx, db, slug, "Store "+slug)
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	sec, err := CreateSection(ctx, db, st.ID, "Mains", 0)
	if err != nil {
		t.Fatalf("CreateSection: %v", err)
	}
	p := &domain.Product{StoreID: st.ID, SectionID: sec.ID, Name: "Burger", Price: "30.00", IsAvailable: true}
	if err := CreateProduct(ctx, db, p); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	g := &domain.AddonGroup{ProductID: p.ID, Name: "Sauce", IsRequired: true, MinSelections: 1, MaxSelections: 1}
	if err := CreateAddonGroup(ctx, db, g); err != nil {
		t.Fatalf("CreateAddonGroup: %v", err)
	}
	for i, name := range []string{"BBQ", "Mustard"} {
		a := &domain.Addon{GroupID: g.ID, Name: name, Price: "5.00", IsAvailable: i == 0, DisplayOrder: i}
		if err := CreateAddon(ctx, db, a); err != nil {
			t.Fatalf("CreateAddon: %v", err)
		}
	}
	return st, p
}
