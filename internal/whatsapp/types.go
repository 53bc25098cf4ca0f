// Package whatsapp is a small client for the WhatsApp gateway each store
// pairs with. It covers the calls the backend needs: fetching recent
// inbound messages, pointing the session webhook at this service, reading
// the pairing QR code and the session state.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageKey identifies a provider message within a chat.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// Message is the provider message shape shared by webhook deliveries and
// findMessages results.
type Message struct {
	InstanceKey      string          `json:"instance_key,omitempty"`
	JID              string          `json:"jid,omitempty"`
	MessageType      string          `json:"messageType,omitempty"`
	Key              MessageKey      `json:"key"`
	Message          json.RawMessage `json:"message,omitempty" swaggertype:"object"`
	MessageTimestamp Timestamp       `json:"messageTimestamp,omitempty" swaggertype:"integer"`
	PushName         string          `json:"pushName,omitempty"`
}

// Timestamp is a provider timestamp in unix seconds. Gateways send it as a
// number or as a numeric string; millisecond values are scaled down.
type Timestamp int64

// UnmarshalJSON accepts 1717236005, "1717236005" and null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*t = 0
			return nil
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("whatsapp: invalid timestamp %q", string(b))
		}
		n = int64(f)
	}
	if n > 1e12 {
		n /= 1000
	}
	*t = Timestamp(n)
	return nil
}

// Time converts t to UTC, or the zero time when unset.
func (t Timestamp) Time() time.Time {
	if t <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

// State is the session state reported by the gateway.
type State struct {
	Connected   bool   `json:"connected"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Credentials address one gateway session. An empty Host falls back to the
// client default.
type Credentials struct {
	Host        string
	Token       string
	InstanceKey string
}
