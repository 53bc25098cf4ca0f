// Package inbound reconciles the two delivery channels of WhatsApp
// messages (the push webhook and the pull poller) into a single ordered,
// deduplicated stream per instance.
//
// Every message, whatever its source, goes through the same sequence
// under a per-instance lock: read the durable watermark, drop what it has
// already covered, hand off, and only then advance the watermark.
package inbound

import (
	"sort"
	"time"

	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

// Source names the channel an event arrived on.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Outcome is what the reconciler did with one event.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Event is one provider message observed on one channel. It is never
// persisted; only the watermark it advances is.
type Event struct {
	InstanceKey string
	RemoteJID   string
	MessageID   string
	FromMe      bool
	Timestamp   time.Time // provider time, zero when the provider omitted it
	ReceivedAt  time.Time
	Source      Source
	Payload     whatsapp.Message
}

// NewEvent wraps a provider message. instanceKey wins over the key carried
// in the payload, which the poller never receives.
func NewEvent(instanceKey string, msg whatsapp.Message, src Source, receivedAt time.Time) Event {
	if instanceKey == "" {
		instanceKey = msg.InstanceKey
	}
	return Event{
		InstanceKey: instanceKey,
		RemoteJID:   msg.Key.RemoteJid,
		MessageID:   msg.Key.ID,
		FromMe:      msg.Key.FromMe,
		Timestamp:   msg.MessageTimestamp.Time(),
		ReceivedAt:  receivedAt.UTC(),
		Source:      src,
		Payload:     msg,
	}
}

// At is the instant used for ordering: the provider timestamp, or the
// receive time when the provider sent none.
func (e Event) At() time.Time {
	if e.Timestamp.IsZero() {
		return e.ReceivedAt
	}
	return e.Timestamp
}

// relevant reports whether the event can ever be handed off.
func (e Event) relevant() bool {
	return !e.FromMe && e.MessageID != "" && e.InstanceKey != ""
}

// SortChronological orders events by (At, MessageID) ascending. Ties on
// the timestamp are broken by id so the order is stable across fetches.
func SortChronological(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		ai, aj := events[i].At(), events[j].At()
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return events[i].MessageID < events[j].MessageID
	})
}
