package repo

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/go-menu-backend/internal/config"
	"github.com/tbourn/go-menu-backend/internal/domain"
)

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "nope", "menu.db")
	db, err := OpenSQLite(bad)
	if db != nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("OpenSQLite(%q) = %v, %v; want fs.ErrNotExist", bad, db, err)
	}
}

func TestOpen_SQLiteFile(t *testing.T) {
	db, err := Open(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "menu.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	sqlDB.SetMaxOpenConns(1) // pragmas below are per connection

	pragmas := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, p := range pragmas {
		var got string
		if err := db.Raw("PRAGMA " + p.name + ";").Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", p.name, err)
		}
		if strings.ToLower(got) != p.want {
			t.Fatalf("PRAGMA %s = %q; want %q", p.name, got, p.want)
		}
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, model := range []any{
		&domain.Store{}, &domain.Section{}, &domain.Product{}, &domain.AddonGroup{}, &domain.Addon{},
		&domain.Order{}, &domain.OrderItem{}, &domain.OrderItemAddon{},
		&domain.Cart{}, &domain.CartLine{},
		&domain.WhatsAppInstance{}, &domain.Idempotency{},
	} {
		if !m.HasTable(model) {
			t.Fatalf("missing table for %T", model)
		}
	}
	// migrating twice is a no-op
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
}

func TestPool_Apply(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if got := sqlDB.Stats().MaxOpenConnections; got != sqlitePool.maxOpen {
		t.Fatalf("sqlite max open = %d; want %d", got, sqlitePool.maxOpen)
	}
	postgresPool.apply(sqlDB)
	if got := sqlDB.Stats().MaxOpenConnections; got != 25 {
		t.Fatalf("postgres max open = %d; want 25", got)
	}
}

func TestOpen_Errors(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.DBConfig
		want string
	}{
		{"unsupported driver", config.DBConfig{Driver: "mysql"}, `unsupported driver "mysql"`},
		{"postgres unreachable", config.DBConfig{
			Driver: "postgres",
			URL:    "postgres://menu@127.0.0.1:1/menu?sslmode=disable&connect_timeout=1",
		}, "open postgres"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, err := Open(tc.cfg)
			if db != nil || err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Open = %v, %v; want error containing %q", db, err, tc.want)
			}
		})
	}
}
