// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores open shopper carts: the cart row and
// its selections, replaced as a whole on every edit under a version check.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// ErrStaleCart is returned when a cart was edited or submitted by another
// request after it was read.
var ErrStaleCart = errors.New("cart changed concurrently")

// CreateCart inserts an empty cart for storeID.
func CreateCart(ctx context.Context, db *gorm.DB, storeID string, source domain.OrderSource) (*domain.Cart, error) {
	now := time.Now().UTC()
	c := &domain.Cart{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	c.Lines = []domain.CartLine{}
	return c, nil
}

// GetCart fetches a store's cart with its lines in insertion order.
func GetCart(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Cart, error) {
	var c domain.Cart
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID)).
		Preload("Lines", itemsByPosition).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCartLines replaces the lines of c, provided nobody changed the cart
// since c was read. On success c.Version and c.Lines reflect the new state.
func SaveCartLines(ctx context.Context, db *gorm.DB, c *domain.Cart, lines []domain.CartLine) error {
	now := time.Now().UTC()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Cart{}).
			Scopes(StoreScope(c.StoreID)).
			Where("id = ? AND version = ?", c.ID, c.Version).
			Updates(map[string]any{"version": gorm.Expr("version + 1"), "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleCart
		}
		if err := tx.Where("cart_id = ?", c.ID).Delete(&domain.CartLine{}).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].CartID = c.ID
			lines[i].Position = i
		}
		if len(lines) == 0 {
			return nil
		}
		return tx.Create(&lines).Error
	})
	if err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = now
	c.Lines = lines
	return nil
}

// DeleteCart removes a submitted cart at the version it was read.
func DeleteCart(ctx context.Context, db *gorm.DB, storeID, id string, version int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Scopes(StoreScope(storeID)).
			Where("id = ? AND version = ?", id, version).
			Delete(&domain.Cart{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleCart
		}
		return tx.Where("cart_id = ?", id).Delete(&domain.CartLine{}).Error
	})
}
