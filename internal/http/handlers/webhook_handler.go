package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-menu-backend/internal/inbound"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

// WebhookAck acknowledges a provider delivery.
type WebhookAck struct {
	Outcome inbound.Outcome `json:"outcome" example:"delivered"`
}

// WhatsAppWebhook godoc
// @ID          whatsAppWebhook
// @Summary     Provider webhook
// @Description Receives one inbound message. Well-formed deliveries are acknowledged with 200 whatever the outcome, so the provider never retries a duplicate.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string            true  "Store ID (UUID)"  format(uuid)
// @Param       body     body  whatsapp.Message  true  "Provider message"
//
// @Success     200  {object} handlers.WebhookAck
// @Failure     400  {object} handlers.ErrorResponse "Malformed payload"
// @Failure     404  {object} handlers.ErrorResponse "Unknown store or instance"
// @Router      /webhook/whatsapp/{storeId} [post]
func (h *Handlers) WhatsAppWebhook(c *gin.Context) {
	var msg whatsapp.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	outcome, err := h.whatsapp.Receive(c.Request.Context(), c.Param("storeId"), msg)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookAck{Outcome: outcome})
}
