package controller

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// VerifyWebhookController answers the provider's subscription handshake.
type VerifyWebhookController struct {
	verifyToken string
}

func NewVerifyWebhookController(verifyToken string) *VerifyWebhookController {
	return &VerifyWebhookController{verifyToken: verifyToken}
}

// Handle echoes hub.challenge when hub.mode is subscribe and hub.verify_token
// matches the configured token. Anything else is denied.
func (h *VerifyWebhookController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		challenge := c.Query("hub.challenge")

		if mode != "subscribe" || h.verifyToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		c.String(http.StatusOK, challenge)
	}
}
