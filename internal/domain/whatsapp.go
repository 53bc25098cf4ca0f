package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTransition is returned for an instance status change the
// session lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid instance status transition")

// InstanceStatus is the pairing state of a WhatsApp session.
type InstanceStatus string

const (
	InstanceDisconnected InstanceStatus = "disconnected"
	InstanceConnecting   InstanceStatus = "connecting"
	InstanceConnected    InstanceStatus = "connected"
)

// IsValid reports whether s is a known status.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceDisconnected, InstanceConnecting, InstanceConnected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the session may move from s to target.
// A session may drop to disconnected from anywhere, reissue a QR while
// connecting, and only reach connected from connecting.
func (s InstanceStatus) CanTransitionTo(target InstanceStatus) bool {
	switch target {
	case InstanceDisconnected:
		return true
	case InstanceConnecting:
		return s == InstanceDisconnected || s == InstanceConnecting
	case InstanceConnected:
		return s == InstanceConnecting || s == InstanceConnected
	}
	return false
}

// WhatsAppInstance is the single provider session of a store.
//
// The LastSeen* columns form the inbound watermark: the id of the last
// handled message, the newest provider timestamp handled, and a bounded,
// comma separated list of recently handled ids.
type WhatsAppInstance struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	StoreID     string         `json:"store_id"     gorm:"type:char(36);not null;uniqueIndex:ux_instance_store"`
	InstanceKey string         `json:"instance_key" gorm:"type:varchar(128);not null;uniqueIndex:ux_instance_key"`
	APIToken    string         `json:"-"            gorm:"type:varchar(255);not null"`
	APIHost     string         `json:"api_host"     gorm:"type:varchar(255);not null"`
	Status      InstanceStatus `json:"status"       gorm:"type:varchar(16);not null;default:'disconnected';check:status IN ('disconnected','connecting','connected')"`
	PhoneNumber string         `json:"phone_number,omitempty" gorm:"type:varchar(32)"`
	WebhookURL  string         `json:"webhook_url,omitempty"  gorm:"type:varchar(512)"`
	QRCode      string         `json:"-"            gorm:"column:qr_code;type:text"`

	LastSeenMessageID string     `json:"last_seen_message_id,omitempty" gorm:"type:varchar(128)"`
	LastSeenMessageAt *time.Time `json:"last_seen_message_at,omitempty"`
	LastSeenIDs       string     `json:"-" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Store Store `json:"-" gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for WhatsAppInstance.
func (WhatsAppInstance) TableName() string { return "whatsapp_instances" }

// SeenIDs splits LastSeenIDs.
func (w WhatsAppInstance) SeenIDs() []string {
	if w.LastSeenIDs == "" {
		return nil
	}
	return strings.Split(w.LastSeenIDs, ",")
}
