// Package services defines the business logic for the catalog, orders, and
// WhatsApp sessions. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-menu-backend/internal/pricing"
)

// Tenant and lookup errors.
var (
	// ErrStoreNotFound indicates that the store does not exist or is not
	// active.
	ErrStoreNotFound = errors.New("store not found")

	// ErrNotFound indicates that a catalog entity or order does not exist
	// within the caller's store. Entities of other stores are reported the
	// same way.
	ErrNotFound = errors.New("not found")

	// ErrInstanceNotFound is returned when the store has no WhatsApp
	// instance.
	ErrInstanceNotFound = errors.New("whatsapp instance not found")

	// ErrInstanceMismatch is returned when a webhook names an instance key
	// that does not belong to the store in the URL.
	ErrInstanceMismatch = errors.New("instance key does not match store")
)

// Input and state errors.
var (
	// ErrInvalidInput wraps every rejected argument. It matches
	// pricing.ErrValidation so handlers can treat both families alike.
	ErrInvalidInput = fmt.Errorf("%w: invalid input", pricing.ErrValidation)

	// ErrConflict is returned when a concurrent writer changed the row
	// first, such as two staff members advancing the same order.
	ErrConflict = errors.New("concurrent update")

	// ErrAlreadyConnected is returned when pairing a session that is
	// already connected.
	ErrAlreadyConnected = errors.New("whatsapp instance already connected")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
