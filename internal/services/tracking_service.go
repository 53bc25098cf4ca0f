package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/conversion"
)

// TrackingService reports conversion events that are not a side effect of
// another operation, such as a shopper opening the store's WhatsApp chat.
type TrackingService struct {
	DB         *gorm.DB
	Conversion *conversion.Dispatcher
}

// Lead reports a contact intent for the store. The event is sent in the
// background; only an unknown store is an error.
func (s *TrackingService) Lead(ctx context.Context, storeID, contentName string, v conversion.Visitor) error {
	ctx, span := otel.Tracer("services/TrackingService").Start(ctx, "Lead",
		trace.WithAttributes(attribute.String("store.id", storeID)))
	defer span.End()

	if err := ensureStore(ctx, s.DB, storeID); err != nil {
		return err
	}
	contentName = strings.TrimSpace(contentName)
	if contentName == "" {
		contentName = "whatsapp"
	}
	background(ctx, func(ctx context.Context) {
		s.Conversion.TrackLead(ctx, v, contentName)
	})
	return nil
}
