// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. The
// classify function maps the service error taxonomy onto a status and code:
//
//	validation (bad price, cardinality, unknown addon)  422
//	empty cart                                          422
//	not found (missing or other store's id)             404
//	terminal order state, stale writer, session state   409
//	WhatsApp gateway failure                            502
//	anything else                                       500
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "terminal_state",
//	  "message": "order is in a terminal state"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-menu-backend/internal/cart"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/services"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidation          = "validation_failed"
	ErrCodeSelectionConstraint = "selection_constraint"
	ErrCodeInvalidAddon        = "invalid_addon"
	ErrCodeEmptyCart           = "empty_cart"
	ErrCodeTerminalState       = "terminal_state"
	ErrCodeInvalidTransition   = "invalid_transition"
	ErrCodeAlreadyConnected    = "already_connected"
	ErrCodeUpstream            = "upstream_failed"
)

// problem is a classified error.
type problem struct {
	status  int
	code    string
	message string
	details any
}

// ConstraintDetails names the addon group whose cardinality was violated.
type ConstraintDetails struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name,omitempty"`
	Bound     string `json:"bound"`
	Expected  int    `json:"expected"`
	Got       int    `json:"got"`
}

func classify(err error) problem {
	var scv *pricing.SelectionConstraintViolation
	var bad *pricing.InvalidAddonError
	switch {
	case errors.As(err, &scv):
		return problem{http.StatusUnprocessableEntity, ErrCodeSelectionConstraint, err.Error(), ConstraintDetails{
			GroupID:   scv.GroupID,
			GroupName: scv.GroupName,
			Bound:     string(scv.Bound),
			Expected:  scv.Expected,
			Got:       scv.Got,
		}}
	case errors.As(err, &bad):
		return problem{http.StatusUnprocessableEntity, ErrCodeInvalidAddon, err.Error(), gin.H{"addon_id": bad.AddonID}}
	case errors.Is(err, cart.ErrEmptyCart):
		return problem{status: http.StatusUnprocessableEntity, code: ErrCodeEmptyCart, message: "cart is empty"}
	case errors.Is(err, pricing.ErrValidation):
		return problem{status: http.StatusUnprocessableEntity, code: ErrCodeValidation, message: err.Error()}
	case errors.Is(err, services.ErrStoreNotFound):
		return problem{status: http.StatusNotFound, code: ErrCodeNotFound, message: "store not found"}
	case errors.Is(err, services.ErrInstanceNotFound):
		return problem{status: http.StatusNotFound, code: ErrCodeNotFound, message: "whatsapp instance not found"}
	case errors.Is(err, services.ErrInstanceMismatch), errors.Is(err, services.ErrNotFound), errors.Is(err, cart.ErrLineNotFound):
		return problem{status: http.StatusNotFound, code: ErrCodeNotFound, message: "resource not found"}
	case errors.Is(err, domain.ErrTerminalState):
		return problem{status: http.StatusConflict, code: ErrCodeTerminalState, message: err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition):
		return problem{status: http.StatusConflict, code: ErrCodeInvalidTransition, message: err.Error()}
	case errors.Is(err, services.ErrAlreadyConnected):
		return problem{status: http.StatusConflict, code: ErrCodeAlreadyConnected, message: err.Error()}
	case errors.Is(err, services.ErrConflict), errors.Is(err, cart.ErrSubmitted):
		return problem{status: http.StatusConflict, code: ErrCodeConflict, message: "resource was modified concurrently, retry"}
	case errors.Is(err, whatsapp.ErrUpstream), errors.Is(err, whatsapp.ErrNoHost), errors.Is(err, whatsapp.ErrEmptyQRCode):
		return problem{status: http.StatusBadGateway, code: ErrCodeUpstream, message: err.Error()}
	default:
		return problem{status: http.StatusInternalServerError, code: ErrCodeInternal, message: "internal server error"}
	}
}
