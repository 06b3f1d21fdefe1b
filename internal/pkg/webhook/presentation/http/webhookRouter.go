package http

import (
	"github.com/Jefrey13/customerSupport/internal/pkg/webhook/presentation/controller"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes binds the provider webhook endpoints under g.
func RegisterRoutes(g *gin.RouterGroup, verify *controller.VerifyWebhookController, receive *controller.ReceiveWebhookController) {
	// GET /api/v1/whatsapp/webhook -> subscription handshake
	g.GET("/whatsapp/webhook", verify.Handle())

	// POST /api/v1/whatsapp/webhook -> provider updates
	g.POST("/whatsapp/webhook", receive.Handle())
}
