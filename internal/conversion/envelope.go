// Package conversion reports commerce milestones to a server-side
// conversion endpoint (Meta Conversions API compatible).
//
// Each logical event gets one event_id when its envelope is built. The
// endpoint deduplicates on that id, so a caller that retries must resend
// the same Envelope rather than call a Track method again.
package conversion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// EventName is a standard conversion event.
type EventName string

const (
	EventViewContent      EventName = "ViewContent"
	EventAddToCart        EventName = "AddToCart"
	EventInitiateCheckout EventName = "InitiateCheckout"
	EventPurchase         EventName = "Purchase"
	EventLead             EventName = "Lead"
	EventSearch           EventName = "Search"
)

// ActionSourceWebsite is the only action source this service reports.
const ActionSourceWebsite = "website"

// Visitor carries the request context of the person behind an event. Email
// and Phone are raw here and hashed before they leave the process.
type Visitor struct {
	SourceURL  string
	Email      string
	Phone      string
	ExternalID string
	ClientIP   string
	UserAgent  string
	FBP        string // _fbp cookie
	FBC        string // _fbc cookie
}

// UserData is the hashed user block of an envelope.
type UserData struct {
	Emails      []string `json:"em,omitempty"`
	Phones      []string `json:"ph,omitempty"`
	ExternalIDs []string `json:"external_id,omitempty"`
	ClientIP    string   `json:"client_ip_address,omitempty"`
	UserAgent   string   `json:"client_user_agent,omitempty"`
	FBP         string   `json:"fbp,omitempty"`
	FBC         string   `json:"fbc,omitempty"`
}

// Content is one product reference in custom data.
type Content struct {
	ID        string  `json:"id"`
	Quantity  int     `json:"quantity"`
	ItemPrice float64 `json:"item_price"`
}

// CustomData is the event-specific block of an envelope.
type CustomData struct {
	Currency     string    `json:"currency,omitempty"`
	Value        *float64  `json:"value,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ContentName  string    `json:"content_name,omitempty"`
	ContentIDs   []string  `json:"content_ids,omitempty"`
	Contents     []Content `json:"contents,omitempty"`
	NumItems     int       `json:"num_items,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
	SearchString string    `json:"search_string,omitempty"`
}

// Envelope is one event as sent to the endpoint.
type Envelope struct {
	EventName      EventName  `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	ActionSource   string     `json:"action_source"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	EventID        string     `json:"event_id"`
	UserData       UserData   `json:"user_data"`
	CustomData     CustomData `json:"custom_data"`
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

// NormalizePhone keeps digits only, country code included.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Hash returns the hex SHA-256 of v, or "" for an empty value.
func Hash(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func hashed(v string) []string {
	if h := Hash(v); h != "" {
		return []string{h}
	}
	return nil
}

// HashUserData builds the user block. Raw PII never reaches the result.
func HashUserData(v Visitor) UserData {
	return UserData{
		Emails:      hashed(NormalizeEmail(v.Email)),
		Phones:      hashed(NormalizePhone(v.Phone)),
		ExternalIDs: hashed(strings.TrimSpace(v.ExternalID)),
		ClientIP:    v.ClientIP,
		UserAgent:   v.UserAgent,
		FBP:         v.FBP,
		FBC:         v.FBC,
	}
}
