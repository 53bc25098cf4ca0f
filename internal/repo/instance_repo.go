// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for WhatsApp
// instances, including the durable inbound watermark.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// GetInstanceByStore fetches the instance of a store.
func GetInstanceByStore(ctx context.Context, db *gorm.DB, storeID string) (*domain.WhatsAppInstance, error) {
	var w domain.WhatsAppInstance
	if err := db.WithContext(ctx).Where("store_id = ?", storeID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetInstanceByKey fetches an instance by its provider key.
func GetInstanceByKey(ctx context.Context, db *gorm.DB, instanceKey string) (*domain.WhatsAppInstance, error) {
	var w domain.WhatsAppInstance
	if err := db.WithContext(ctx).Where("instance_key = ?", instanceKey).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// ListInstancesByStatus returns every instance in status, oldest first.
func ListInstancesByStatus(ctx context.Context, db *gorm.DB, status domain.InstanceStatus) ([]domain.WhatsAppInstance, error) {
	var out []domain.WhatsAppInstance
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// CreateInstance inserts w, assigning an id when empty.
func CreateInstance(ctx context.Context, db *gorm.DB, w *domain.WhatsAppInstance) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(w).Error
}

// UpdateInstance applies column updates to a store's instance.
func UpdateInstance(ctx context.Context, db *gorm.DB, storeID string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.WhatsAppInstance{}).
		Where("store_id = ?", storeID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Watermark is the persisted inbound position of one instance.
type Watermark struct {
	MessageID string
	At        time.Time // zero when nothing was handled yet
	Recent    []string  // last handled ids, oldest first
}

// LoadWatermark reads the watermark of an instance.
func LoadWatermark(ctx context.Context, db *gorm.DB, instanceKey string) (Watermark, error) {
	w, err := GetInstanceByKey(ctx, db, instanceKey)
	if err != nil {
		return Watermark{}, err
	}
	wm := Watermark{MessageID: w.LastSeenMessageID, Recent: w.SeenIDs()}
	if w.LastSeenMessageAt != nil {
		wm.At = w.LastSeenMessageAt.UTC()
	}
	return wm, nil
}

// SaveWatermark persists the watermark of an instance.
func SaveWatermark(ctx context.Context, db *gorm.DB, instanceKey string, wm Watermark) error {
	var at *time.Time
	if !wm.At.IsZero() {
		t := wm.At.UTC()
		at = &t
	}
	res := db.WithContext(ctx).
		Model(&domain.WhatsAppInstance{}).
		Where("instance_key = ?", instanceKey).
		Updates(map[string]any{
			"last_seen_message_id": wm.MessageID,
			"last_seen_message_at": at,
			"last_seen_ids":        strings.Join(wm.Recent, ","),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
