// Package handoff delivers reconciled inbound messages to the downstream
// pipeline. A successful Handle means the message left this process; the
// reconciler only moves its watermark after that.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/tbourn/go-menu-backend/internal/inbound"
)

// Record is the wire form published for each inbound message.
type Record struct {
	InstanceKey string          `json:"instance_key"`
	MessageID   string          `json:"message_id"`
	RemoteJID   string          `json:"remote_jid"`
	Source      string          `json:"source"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	MessageType string          `json:"message_type,omitempty"`
	PushName    string          `json:"push_name,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// NewRecord converts an event to its published form.
func NewRecord(ev inbound.Event) Record {
	r := Record{
		InstanceKey: ev.InstanceKey,
		MessageID:   ev.MessageID,
		RemoteJID:   ev.RemoteJID,
		Source:      string(ev.Source),
		ReceivedAt:  ev.ReceivedAt,
		MessageType: ev.Payload.MessageType,
		PushName:    ev.Payload.PushName,
		Message:     ev.Payload.Message,
	}
	if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp
		r.Timestamp = &ts
	}
	return r
}

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds a writer for topic. Messages are keyed by instance
// and hashed to a partition so one instance stays in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaPublisher publishes one Kafka message per inbound event.
type KafkaPublisher struct {
	Writer Writer
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w Writer) *KafkaPublisher {
	return &KafkaPublisher{Writer: w}
}

// Handle implements inbound.Handler.
func (p *KafkaPublisher) Handle(ctx context.Context, ev inbound.Event) error {
	payload, err := json.Marshal(NewRecord(ev))
	if err != nil {
		return fmt.Errorf("handoff: marshal %s: %w", ev.MessageID, err)
	}
	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.InstanceKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(ev.MessageID)},
			{Key: "source", Value: []byte(ev.Source)},
		},
	})
	if err != nil {
		return fmt.Errorf("handoff: publish %s: %w", ev.MessageID, err)
	}
	return nil
}

// LogHandler only logs the event. It stands in for the pipeline when no
// broker is configured.
type LogHandler struct{}

// Handle implements inbound.Handler.
func (LogHandler) Handle(_ context.Context, ev inbound.Event) error {
	log.Info().
		Str("instance_key", ev.InstanceKey).
		Str("message_id", ev.MessageID).
		Str("remote_jid", MaskJID(ev.RemoteJID)).
		Str("source", string(ev.Source)).
		Msg("inbound message")
	return nil
}

// MaskJID keeps the last four digits of the phone part of a jid.
func MaskJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if len(user) <= 4 {
		return jid
	}
	masked := strings.Repeat("*", len(user)-4) + user[len(user)-4:]
	if found {
		return masked + "@" + server
	}
	return masked
}
