// Package services – WhatsAppService
//
// This file implements the lifecycle of a store's WhatsApp session:
// pairing (connect and QR code), status changes, webhook URL rotation, and
// the webhook entry point that feeds provider messages into the inbound
// reconciler.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/inbound"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

// Gateway is the subset of the provider client the service drives.
type Gateway interface {
	ConfigureWebhook(ctx context.Context, cred whatsapp.Credentials, webhookURL string) error
	QRCode(ctx context.Context, cred whatsapp.Credentials) (string, error)
	Status(ctx context.Context, cred whatsapp.Credentials) (whatsapp.State, error)
}

// ConnectInput carries the credentials of a provider session.
type ConnectInput struct {
	InstanceKey string
	APIToken    string
	APIHost     string
}

// WhatsAppService manages provider sessions.
type WhatsAppService struct {
	DB         *gorm.DB
	Gateway    Gateway
	Reconciler *inbound.Reconciler

	// WebhookURL builds the public webhook URL of a store.
	WebhookURL func(storeID string) string
	// DefaultHost is used when a connect request names no host.
	DefaultHost string

	Now func() time.Time
}

func whatsappSpan(ctx context.Context, name, storeID string) (context.Context, trace.Span) {
	return otel.Tracer("services/WhatsAppService").Start(ctx, name,
		trace.WithAttributes(attribute.String("store.id", storeID)))
}

func (s *WhatsAppService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Instance returns the session of a store.
func (s *WhatsAppService) Instance(ctx context.Context, storeID string) (*domain.WhatsAppInstance, error) {
	w, err := repo.GetInstanceByStore(ctx, s.DB, storeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return w, nil
}

// Connect registers or re-pairs the store's session. The instance enters
// connecting, its webhook is pointed at this service, and the pairing QR
// payload is fetched and kept for the QR endpoint.
func (s *WhatsAppService) Connect(ctx context.Context, storeID string, in ConnectInput) (*domain.WhatsAppInstance, error) {
	ctx, span := whatsappSpan(ctx, "Connect", storeID)
	defer span.End()

	in.InstanceKey = strings.TrimSpace(in.InstanceKey)
	in.APIToken = strings.TrimSpace(in.APIToken)
	in.APIHost = strings.TrimRight(strings.TrimSpace(in.APIHost), "/")
	if in.APIHost == "" {
		in.APIHost = s.DefaultHost
	}
	if in.InstanceKey == "" || in.APIToken == "" {
		return nil, invalid("instance_key and api_token are required")
	}
	if err := ensureStore(ctx, s.DB, storeID); err != nil {
		return nil, err
	}

	w, err := s.Instance(ctx, storeID)
	switch {
	case errors.Is(err, ErrInstanceNotFound):
		w = &domain.WhatsAppInstance{
			StoreID:     storeID,
			InstanceKey: in.InstanceKey,
			APIToken:    in.APIToken,
			APIHost:     in.APIHost,
			Status:      domain.InstanceConnecting,
		}
		if err := repo.CreateInstance(ctx, s.DB, w); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if !w.Status.CanTransitionTo(domain.InstanceConnecting) {
			return nil, ErrAlreadyConnected
		}
		fields := map[string]any{
			"instance_key": in.InstanceKey,
			"api_token":    in.APIToken,
			"api_host":     in.APIHost,
			"status":       domain.InstanceConnecting,
		}
		if in.InstanceKey != w.InstanceKey {
			// a new provider session starts a new message history
			fields["last_seen_message_id"] = ""
			fields["last_seen_message_at"] = nil
			fields["last_seen_ids"] = ""
		}
		if err := repo.UpdateInstance(ctx, s.DB, storeID, fields); err != nil {
			return nil, err
		}
	}

	cred := whatsapp.Credentials{Host: in.APIHost, Token: in.APIToken, InstanceKey: in.InstanceKey}
	url := s.webhookURL(storeID)
	if url != "" {
		if err := s.Gateway.ConfigureWebhook(ctx, cred, url); err != nil {
			return nil, err
		}
	}
	qr, err := s.Gateway.QRCode(ctx, cred)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateInstance(ctx, s.DB, storeID, map[string]any{"webhook_url": url, "qr_code": qr}); err != nil {
		return nil, err
	}
	return s.Instance(ctx, storeID)
}

// UpdateStatus applies a session status reported by the provider or the
// operator. Reaching connected with an empty watermark seeds it at the
// current time so the poller does not replay the chat history.
func (s *WhatsAppService) UpdateStatus(ctx context.Context, storeID string, status domain.InstanceStatus, phone string) (*domain.WhatsAppInstance, error) {
	ctx, span := whatsappSpan(ctx, "UpdateStatus", storeID)
	defer span.End()
	span.SetAttributes(attribute.String("status", string(status)))

	if !status.IsValid() {
		return nil, invalid("unknown instance status %q", status)
	}
	w, err := s.Instance(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !w.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, w.Status, status)
	}

	fields := map[string]any{"status": status}
	if phone = strings.TrimSpace(phone); phone != "" {
		fields["phone_number"] = phone
	}
	switch status {
	case domain.InstanceConnected:
		fields["qr_code"] = ""
		if w.LastSeenMessageAt == nil {
			fields["last_seen_message_at"] = s.now()
		}
	case domain.InstanceDisconnected:
		fields["qr_code"] = ""
	}
	if err := repo.UpdateInstance(ctx, s.DB, storeID, fields); err != nil {
		return nil, err
	}
	log.Info().
		Str("store_id", storeID).
		Str("instance_key", w.InstanceKey).
		Str("from", string(w.Status)).
		Str("to", string(status)).
		Msg("whatsapp: instance status changed")
	return s.Instance(ctx, storeID)
}

// SyncStatus reads the session state from the provider and applies it.
func (s *WhatsAppService) SyncStatus(ctx context.Context, storeID string) (*domain.WhatsAppInstance, error) {
	ctx, span := whatsappSpan(ctx, "SyncStatus", storeID)
	defer span.End()

	w, err := s.Instance(ctx, storeID)
	if err != nil {
		return nil, err
	}
	st, err := s.Gateway.Status(ctx, credentials(w))
	if err != nil {
		return nil, err
	}
	target := domain.InstanceDisconnected
	switch {
	case st.Connected:
		target = domain.InstanceConnected
	case w.Status == domain.InstanceConnecting:
		target = domain.InstanceConnecting
	}
	if target == w.Status && (st.PhoneNumber == "" || st.PhoneNumber == w.PhoneNumber) {
		return w, nil
	}
	return s.UpdateStatus(ctx, storeID, target, st.PhoneNumber)
}

// ReconfigureWebhook points the provider webhook at newURL, or at the
// store's default URL when newURL is empty. Repeating a call with the URL
// already in place changes nothing; changed reports whether it did.
func (s *WhatsAppService) ReconfigureWebhook(ctx context.Context, storeID, newURL string) (w *domain.WhatsAppInstance, changed bool, err error) {
	ctx, span := whatsappSpan(ctx, "ReconfigureWebhook", storeID)
	defer span.End()

	newURL = strings.TrimSpace(newURL)
	if newURL == "" {
		newURL = s.webhookURL(storeID)
	}
	if !strings.HasPrefix(newURL, "http://") && !strings.HasPrefix(newURL, "https://") {
		return nil, false, invalid("webhook url must be absolute http(s)")
	}
	w, err = s.Instance(ctx, storeID)
	if err != nil {
		return nil, false, err
	}
	if w.WebhookURL == newURL {
		return w, false, nil
	}
	if err := s.Gateway.ConfigureWebhook(ctx, credentials(w), newURL); err != nil {
		return nil, false, err
	}
	if err := repo.UpdateInstance(ctx, s.DB, storeID, map[string]any{"webhook_url": newURL}); err != nil {
		return nil, false, err
	}
	w.WebhookURL = newURL
	log.Info().Str("store_id", storeID).Str("instance_key", w.InstanceKey).Msg("whatsapp: webhook reconfigured")
	return w, true, nil
}

// QRCodePNG renders the pairing QR code of a session that is connecting.
func (s *WhatsAppService) QRCodePNG(ctx context.Context, storeID string, size int) ([]byte, error) {
	ctx, span := whatsappSpan(ctx, "QRCodePNG", storeID)
	defer span.End()

	w, err := s.Instance(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if w.Status == domain.InstanceConnected {
		return nil, ErrAlreadyConnected
	}
	payload := w.QRCode
	if payload == "" {
		if payload, err = s.Gateway.QRCode(ctx, credentials(w)); err != nil {
			return nil, err
		}
		if err := repo.UpdateInstance(ctx, s.DB, storeID, map[string]any{"qr_code": payload}); err != nil {
			return nil, err
		}
	}
	return whatsapp.RenderQR(payload, size)
}

// Receive feeds one webhook delivery into the reconciler. A payload naming
// another instance is rejected with ErrInstanceMismatch. Handoff failures
// are logged and reported through the outcome only: the poller or a
// provider redelivery retries the message.
func (s *WhatsAppService) Receive(ctx context.Context, storeID string, msg whatsapp.Message) (inbound.Outcome, error) {
	ctx, span := whatsappSpan(ctx, "Receive", storeID)
	defer span.End()

	w, err := s.Instance(ctx, storeID)
	if err != nil {
		return "", err
	}
	if msg.InstanceKey != "" && msg.InstanceKey != w.InstanceKey {
		return "", ErrInstanceMismatch
	}
	ev := inbound.NewEvent(w.InstanceKey, msg, inbound.SourceWebhook, s.now())
	span.SetAttributes(attribute.String("message.id", ev.MessageID))

	outcome, err := s.Reconciler.Ingest(ctx, ev)
	if err != nil {
		log.Warn().Err(err).
			Str("store_id", storeID).
			Str("instance_key", w.InstanceKey).
			Str("message_id", ev.MessageID).
			Msg("whatsapp: webhook message not handed off")
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *WhatsAppService) webhookURL(storeID string) string {
	if s.WebhookURL == nil {
		return ""
	}
	return s.WebhookURL(storeID)
}

func credentials(w *domain.WhatsAppInstance) whatsapp.Credentials {
	return whatsapp.Credentials{Host: w.APIHost, Token: w.APIToken, InstanceKey: w.InstanceKey}
}
