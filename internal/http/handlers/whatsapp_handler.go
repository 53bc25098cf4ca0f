// WhatsApp session HTTP handlers.
//
// Operator-facing routes for the store's single provider session:
//   - POST /stores/{storeId}/whatsapp/connect
//   - GET  /stores/{storeId}/whatsapp/status
//   - PUT  /stores/{storeId}/whatsapp/status
//   - PUT  /stores/{storeId}/whatsapp/webhook
//   - GET  /stores/{storeId}/whatsapp/qrcode.png
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/services"
	"github.com/tbourn/go-menu-backend/internal/utils"
)

//
// DTOs
//

// ConnectRequest is the JSON payload for pairing a provider session.
type ConnectRequest struct {
	InstanceKey string `json:"instance_key" binding:"required,min=1,max=128" example:"burger-house-01"`
	APIToken    string `json:"api_token"    binding:"required,min=1,max=255"`
	// APIHost overrides the default gateway host.
	APIHost string `json:"api_host" binding:"omitempty,url" example:"https://wa.example.com"`
}

// StatusRequest is the JSON payload for reporting a session status.
type StatusRequest struct {
	Status      string `json:"status"       binding:"required,oneof=disconnected connecting connected" example:"connected"`
	PhoneNumber string `json:"phone_number" binding:"max=32"                                           example:"5511912345678"`
}

// WebhookRequest is the JSON payload for pointing the provider webhook.
type WebhookRequest struct {
	// URL defaults to this service's webhook for the store when empty.
	URL string `json:"url" binding:"omitempty,url" example:"https://api.example.com/webhook/whatsapp/4f1c2a9e-6a55-4d8e-9a41-3c1b8f1c0d11"`
}

// WebhookResponse reports the session and whether the webhook moved.
type WebhookResponse struct {
	Instance *domain.WhatsAppInstance `json:"instance"`
	Changed  bool                     `json:"changed"`
}

//
// Handlers
//

// ConnectWhatsApp godoc
// @ID          connectWhatsApp
// @Summary     Pair a WhatsApp session
// @Description Stores the session credentials, points the provider webhook at this service and moves the session to connecting. Fetch the QR code next.
// @Tags        WhatsApp
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                   true  "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.ConnectRequest  true  "Credentials"
//
// @Success     200  {object} domain.WhatsAppInstance
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     409  {object} handlers.ErrorResponse "Already connected"
// @Failure     502  {object} handlers.ErrorResponse "Gateway error"
// @Router      /stores/{storeId}/whatsapp/connect [post]
func (h *Handlers) ConnectWhatsApp(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "instance_key and api_token required")
		return
	}
	w, err := h.whatsapp.Connect(c.Request.Context(), storeID(c), services.ConnectInput{
		InstanceKey: strings.TrimSpace(req.InstanceKey),
		APIToken:    strings.TrimSpace(req.APIToken),
		APIHost:     strings.TrimSpace(req.APIHost),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

// GetWhatsAppStatus godoc
// @ID          getWhatsAppStatus
// @Summary     Session status
// @Description Reads the session state from the gateway and records any change.
// @Tags        WhatsApp
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.WhatsAppInstance
// @Failure     404  {object} handlers.ErrorResponse "Instance not found"
// @Failure     502  {object} handlers.ErrorResponse "Gateway error"
// @Router      /stores/{storeId}/whatsapp/status [get]
func (h *Handlers) GetWhatsAppStatus(c *gin.Context) {
	w, err := h.whatsapp.SyncStatus(c.Request.Context(), storeID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

// UpdateWhatsAppStatus godoc
// @ID          updateWhatsAppStatus
// @Summary     Report session status
// @Description Applies a status reported by the operator or gateway. Reaching connected for the first time starts inbound tracking from now.
// @Tags        WhatsApp
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                  true  "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.StatusRequest  true  "Status"
//
// @Success     200  {object} domain.WhatsAppInstance
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Instance not found"
// @Failure     409  {object} handlers.ErrorResponse "Transition not allowed"
// @Router      /stores/{storeId}/whatsapp/status [put]
func (h *Handlers) UpdateWhatsAppStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be disconnected, connecting or connected")
		return
	}
	w, err := h.whatsapp.UpdateStatus(c.Request.Context(), storeID(c), domain.InstanceStatus(req.Status), req.PhoneNumber)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

// ReconfigureWebhook godoc
// @ID          reconfigureWebhook
// @Summary     Point the provider webhook
// @Description Idempotent: repeating the call with the URL already in place changes nothing and reports changed=false.
// @Tags        WhatsApp
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                   true  "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.WebhookRequest  true  "Webhook"
//
// @Success     200  {object} handlers.WebhookResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Instance not found"
// @Failure     502  {object} handlers.ErrorResponse "Gateway error"
// @Router      /stores/{storeId}/whatsapp/webhook [put]
func (h *Handlers) ReconfigureWebhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "url must be absolute")
		return
	}
	w, changed, err := h.whatsapp.ReconfigureWebhook(c.Request.Context(), storeID(c), req.URL)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookResponse{Instance: w, Changed: changed})
}

// WhatsAppQRCode godoc
// @ID          whatsAppQRCode
// @Summary     Pairing QR code
// @Description Renders the pairing QR code of a session that is not connected yet.
// @Tags        WhatsApp
// @Produce     png
//
// @Param       storeId  path   string  true   "Store ID (UUID)"  format(uuid)
// @Param       size     query  int     false  "Edge in pixels"   minimum(64) maximum(1024) default(256)
//
// @Success     200  {file}   binary
// @Failure     404  {object} handlers.ErrorResponse "Instance not found"
// @Failure     409  {object} handlers.ErrorResponse "Already connected"
// @Failure     502  {object} handlers.ErrorResponse "Gateway error"
// @Router      /stores/{storeId}/whatsapp/qrcode.png [get]
func (h *Handlers) WhatsAppQRCode(c *gin.Context) {
	size := utils.QueryInt(c.Query("size"), 256, 64, 1024)
	png, err := h.whatsapp.QRCodePNG(c.Request.Context(), storeID(c), size)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
