package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"
	"github.com/Jefrey13/customerSupport/internal/pkg/notify"

	"github.com/gin-gonic/gin"
)

// SendMessageController handles the send-message endpoint only (one controller per endpoint)
type SendMessageController struct {
	UC *usecase.SendMessageUseCase
}

func NewSendMessageController(uc *usecase.SendMessageUseCase) *SendMessageController {
	return &SendMessageController{UC: uc}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
	Body     string `json:"body" binding:"required"`
}

// Handle returns a gin handler that sends a text reply into a conversation
func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		in := usecase.SendMessageInput{
			ConversationID: conversationID,
			SenderID:       req.SenderID,
			Body:           req.Body,
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
		defer cancel()
		msg, err := h.UC.Execute(ctx, in)
		if err != nil {
			var status int
			switch {
			case errors.Is(err, chat.ErrNotFound):
				status = http.StatusNotFound
			case errors.Is(err, chat.ErrConversationClosed):
				status = http.StatusConflict
			case errors.Is(err, usecase.ErrProvider):
				status = http.StatusBadGateway
			case errors.Is(err, usecase.ErrPersistence):
				status = http.StatusInternalServerError
			default:
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, notify.NewMessagePayload(*msg))
	}
}
