// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and Postgres, plus schema migrations.
package repo

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-menu-backend/internal/config"
	"github.com/tbourn/go-menu-backend/internal/domain"
)

// pool sizes a driver's connection pool.
type pool struct {
	maxOpen, maxIdle int
	idleTime, life   time.Duration
}

var (
	// SQLite serializes writers anyway; a small pool keeps busy_timeout waits short.
	sqlitePool   = pool{maxOpen: 10, maxIdle: 10, idleTime: 5 * time.Minute, life: 30 * time.Minute}
	postgresPool = pool{maxOpen: 25, maxIdle: 5, idleTime: 5 * time.Minute, life: 30 * time.Minute}
)

func (p pool) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.maxOpen)
	db.SetMaxIdleConns(p.maxIdle)
	db.SetConnMaxIdleTime(p.idleTime)
	db.SetConnMaxLifetime(p.life)
}

// sqlitePragmas run once after opening. WAL lets the menu read while an
// order is being written.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// Open connects to the configured driver and installs the OpenTelemetry
// tracing plugin so every query becomes a span under the request trace.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = OpenPostgres(cfg.URL)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("repo: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("repo: tracing plugin: %w", err)
	}
	return db, nil
}

// OpenSQLite opens or creates the database file at path. The parent
// directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("repo: sqlite dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("repo: %s: %w", p, err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlitePool.apply(sqlDB)
	}
	return db, nil
}

// OpenPostgres opens a Postgres pool from a DSN or URL. gorm pings on open,
// so an unreachable server fails here.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("repo: open postgres: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		postgresPool.apply(sqlDB)
	}
	return db, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Store{},
		&domain.Section{},
		&domain.Product{},
		&domain.AddonGroup{},
		&domain.Addon{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.OrderItemAddon{},
		&domain.Cart{},
		&domain.CartLine{},
		&domain.WhatsAppInstance{},
		&domain.Idempotency{},
	)
}
