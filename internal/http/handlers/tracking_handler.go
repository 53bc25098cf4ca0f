package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LeadRequest is the JSON payload for reporting a contact intent.
type LeadRequest struct {
	ContentName string `json:"content_name" binding:"max=255" example:"whatsapp"`
	Email       string `json:"email"        binding:"omitempty,email"`
	Phone       string `json:"phone"        binding:"max=32"`
}

// TrackLead godoc
// @ID          trackLead
// @Summary     Report a lead
// @Description Reports that a shopper opened a contact channel. The event is sent in the background; the response never waits on the ads platform.
// @Tags        Tracking
// @Accept      json
//
// @Param       storeId  path  string                true   "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.LeadRequest  false  "Lead"
//
// @Success     202  {string} string "Accepted"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Router      /stores/{storeId}/track/lead [post]
func (h *Handlers) TrackLead(c *gin.Context) {
	var req LeadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	v := visitor(c)
	v.Email = req.Email
	v.Phone = req.Phone
	if err := h.tracking.Lead(c.Request.Context(), storeID(c), req.ContentName, v); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
