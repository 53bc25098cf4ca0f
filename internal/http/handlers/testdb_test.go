package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/repo"
)

// ---------- test DB + catalog fixture ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:menu_handlers_%s?mode=memory&cache=shared", uuid.NewString())

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
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type catalogFixture struct {
	store  *domain.Store
	burger *domain.Product
	fries  *domain.Product
	sauce  *domain.AddonGroup
	mayo   *domain.Addon
}

// seedCatalog creates a store with a burger that needs exactly one sauce and
// a plain side.
func seedCatalog(t *testing.T, db *gorm.DB, slug string) catalogFixture {
	t.Helper()
	ctx := context.Background()

	var f catalogFixture
	var err error
	if f.store, err = repo.CreateStore(ctx, db, slug, "Store "+slug); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	sec, err := repo.CreateSection(ctx, db, f.store.ID, "Lanches", 0)
	if err != nil {
		t.Fatalf("CreateSection: %v", err)
	}
	f.burger = &domain.Product{StoreID: f.store.ID, SectionID: sec.ID, Name: "X-Burger", Price: "24.90", IsAvailable: true}
	f.fries = &domain.Product{StoreID: f.store.ID, SectionID: sec.ID, Name: "Batata frita", Price: "12,90", IsAvailable: true, DisplayOrder: 1}
	for _, p := range []*domain.Product{f.burger, f.fries} {
		if err := repo.CreateProduct(ctx, db, p); err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
	}
	f.sauce = &domain.AddonGroup{ProductID: f.burger.ID, Name: "Molho", IsRequired: true, MinSelections: 1, MaxSelections: 1}
	if err := repo.CreateAddonGroup(ctx, db, f.sauce); err != nil {
		t.Fatalf("CreateAddonGroup: %v", err)
	}
	f.mayo = &domain.Addon{GroupID: f.sauce.ID, Name: "Maionese verde", Price: "1.50", IsAvailable: true}
	if err := repo.CreateAddon(ctx, db, f.mayo); err != nil {
		t.Fatalf("CreateAddon: %v", err)
	}
	return f
}

// ---------- request helpers ----------

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Next()
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json error body: %v (%s)", err, w.Body.String())
	}
	return er
}
