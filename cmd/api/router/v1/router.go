package v1

import (
	chatController "github.com/Jefrey13/customerSupport/internal/pkg/chat/presentation/controller"
	chatHandler "github.com/Jefrey13/customerSupport/internal/pkg/chat/presentation/http"
	webhookController "github.com/Jefrey13/customerSupport/internal/pkg/webhook/presentation/controller"
	webhookHandler "github.com/Jefrey13/customerSupport/internal/pkg/webhook/presentation/http"

	"github.com/gin-gonic/gin"
)

// Controllers holds every handler mounted under /api/v1.
type Controllers struct {
	GetMessages   *chatController.GetMessageController
	SendMessage   *chatController.SendMessageController
	SendMedia     *chatController.SendMediaController
	Socket        *chatController.ChatSocketController
	VerifyWebhook *webhookController.VerifyWebhookController
	Webhook       *webhookController.ReceiveWebhookController
}

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, ctl Controllers) {
	v1 := r.Group("/api/v1")
	chatHandler.RegisterRoutes(v1, ctl.GetMessages, ctl.SendMessage, ctl.SendMedia, ctl.Socket)
	webhookHandler.RegisterRoutes(v1, ctl.VerifyWebhook, ctl.Webhook)
}
