package http

import (
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/presentation/controller"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes binds the agent-facing conversation endpoints under g.
func RegisterRoutes(g *gin.RouterGroup, getMsgCtl *controller.GetMessageController, sendMsgCtl *controller.SendMessageController, sendMediaCtl *controller.SendMediaController, socketCtl *controller.ChatSocketController) {
	// GET /api/v1/conversations/:conversationId/messages -> conversation history
	g.GET("/conversations/:conversationId/messages", getMsgCtl.Handle())

	// POST /api/v1/conversations/:conversationId/send -> outbound agent reply
	g.POST("/conversations/:conversationId/send", sendMsgCtl.Handle())

	// POST /api/v1/conversations/:conversationId/send-media -> outbound agent file (multipart)
	g.POST("/conversations/:conversationId/send-media", sendMediaCtl.Handle())

	// GET /api/v1/chat/ws -> websocket endpoint for realtime notifications
	g.GET("/chat/ws", socketCtl.Handle())
}
