package inbound

import (
	"context"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/repo"
)

// RecentCapacity bounds Watermark.Recent. It stays above twice the largest
// poll page so a full page seen on both channels is still covered.
const RecentCapacity = 256

// Watermark is the durable inbound position of one instance.
//
// Recent holds the ids of the last handled messages, oldest first. It is
// consulted before any time comparison: webhook deliveries often carry no
// provider timestamp while the poller sees the same message with one, so
// the id is the only key both channels agree on. At is the newest provider
// timestamp handled and rejects older messages that were never seen.
type Watermark struct {
	MessageID string
	At        time.Time
	Recent    []string
}

// IsEmpty reports whether nothing was handled or seeded yet.
func (w Watermark) IsEmpty() bool {
	return w.MessageID == "" && w.At.IsZero() && len(w.Recent) == 0
}

// Admits reports whether a message with id and provider time at is new
// relative to w. A zero at means the provider sent no timestamp; such a
// message is judged by id alone. When it is not new, the returned outcome
// says why.
func (w Watermark) Admits(id string, at time.Time) (bool, Outcome) {
	if id == "" {
		return false, OutcomeIgnored
	}
	if id == w.MessageID || slices.Contains(w.Recent, id) {
		return false, OutcomeDuplicate
	}
	if at.IsZero() || w.At.IsZero() || !at.Before(w.At) {
		return true, OutcomeDelivered
	}
	return false, OutcomeStale
}

// Advance returns w moved past a handled message. The timestamp only moves
// forward; the id always joins Recent, evicting the oldest past
// RecentCapacity.
func (w Watermark) Advance(id string, at time.Time) Watermark {
	next := Watermark{MessageID: id, At: w.At}
	if at = at.UTC(); !at.IsZero() && at.After(w.At) {
		next.At = at
	}
	recent := make([]string, 0, min(len(w.Recent)+1, RecentCapacity))
	for _, r := range w.Recent {
		if r != id {
			recent = append(recent, r)
		}
	}
	recent = append(recent, id)
	if over := len(recent) - RecentCapacity; over > 0 {
		recent = recent[over:]
	}
	next.Recent = recent
	return next
}

// Store persists watermarks by instance key.
type Store interface {
	Load(ctx context.Context, instanceKey string) (Watermark, error)
	Save(ctx context.Context, instanceKey string, wm Watermark) error
}

// GormStore keeps the watermark on the whatsapp_instances row.
type GormStore struct {
	DB *gorm.DB
}

// Load implements Store.
func (s GormStore) Load(ctx context.Context, instanceKey string) (Watermark, error) {
	wm, err := repo.LoadWatermark(ctx, s.DB, instanceKey)
	if err != nil {
		return Watermark{}, err
	}
	return Watermark(wm), nil
}

// Save implements Store.
func (s GormStore) Save(ctx context.Context, instanceKey string, wm Watermark) error {
	return repo.SaveWatermark(ctx, s.DB, instanceKey, repo.Watermark(wm))
}
