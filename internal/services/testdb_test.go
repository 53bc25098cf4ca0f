package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-menu-backend/internal/config"
	"github.com/tbourn/go-menu-backend/internal/conversion"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fixture struct {
	store   *domain.Store
	section *domain.Section
	burger  *domain.Product
	fries   *domain.Product
	hidden  *domain.Product
	sauce   *domain.AddonGroup
	ketchup *domain.Addon
	cheddar *domain.Addon
}

// seedMenu builds a small store: a burger with one required sauce group, a
// plain side, and an unavailable product.
func seedMenu(t *testing.T, db *gorm.DB, slug string) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	var err error
	if f.store, err = repo.CreateStore(ctx, db, slug, "Store "+slug); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if f.section, err = repo.CreateSection(ctx, db, f.store.ID, "Mains", 0); err != nil {
		t.Fatalf("CreateSection: %v", err)
	}
	mk := func(name, desc, price string, available bool, order int) *domain.Product {
		p := &domain.Product{StoreID: f.store.ID, SectionID: f.section.ID, Name: name, Description: desc, Price: price, IsAvailable: available, DisplayOrder: order}
		if err := repo.CreateProduct(ctx, db, p); err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
		return p
	}
	f.burger = mk("Cheese Burger", "beef, cheddar and pickles", "30.00", true, 0)
	f.fries = mk("Batata frita", "crispy potato", "12.90", true, 1)
	f.hidden = mk("Secret Burger", "off menu", "50.00", false, 2)

	f.sauce = &domain.AddonGroup{ProductID: f.burger.ID, Name: "Sauce", IsRequired: true, MinSelections: 1, MaxSelections: 1}
	if err := repo.CreateAddonGroup(ctx, db, f.sauce); err != nil {
		t.Fatalf("CreateAddonGroup: %v", err)
	}
	f.ketchup = &domain.Addon{GroupID: f.sauce.ID, Name: "Ketchup", Price: "0", IsAvailable: true}
	f.cheddar = &domain.Addon{GroupID: f.sauce.ID, Name: "Cheddar", Price: "2.50", IsAvailable: true, DisplayOrder: 1}
	for _, a := range []*domain.Addon{f.ketchup, f.cheddar} {
		if err := repo.CreateAddon(ctx, db, a); err != nil {
			t.Fatalf("CreateAddon: %v", err)
		}
	}
	return f
}

// eventSink is a conversion endpoint that records event names.
type eventSink struct {
	mu     sync.Mutex
	events []string
}

func newEventSink(t *testing.T) (*eventSink, *conversion.Dispatcher) {
	t.Helper()
	sink := &eventSink{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data []struct {
				EventName string `json:"event_name"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sink.mu.Lock()
		for _, d := range body.Data {
			sink.events = append(sink.events, d.EventName)
		}
		sink.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return sink, conversion.NewDispatcher(config.ConversionConfig{Endpoint: srv.URL, AccessToken: "tok"})
}

// wait blocks until name was received n times or the deadline passes.
func (s *eventSink) wait(t *testing.T, name string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count(name) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event %s: got %d, want %d", name, s.count(name), n)
}

func (s *eventSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == name {
			n++
		}
	}
	return n
}
