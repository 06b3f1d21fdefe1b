package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"
	"github.com/Jefrey13/customerSupport/internal/pkg/notify"

	"github.com/gin-gonic/gin"
)

// GetMessageController serves a conversation's history in the same snapshot
// shape realtime subscribers receive.
type GetMessageController struct {
	UC *usecase.GetMessageUseCase
}

func NewGetMessageController(uc *usecase.GetMessageUseCase) *GetMessageController {
	return &GetMessageController{UC: uc}
}

func (h *GetMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		in := usecase.GetMessageInput{
			ConversationID: c.Param("conversationId"),
			Limit:          queryInt(c, "limit"),
			Offset:         queryInt(c, "offset"),
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		page, err := h.UC.Execute(ctx, in)
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, chat.ErrNotFound):
				status = http.StatusNotFound
			case errors.Is(err, usecase.ErrPersistence):
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		out := make([]notify.MessagePayload, 0, len(page.Messages))
		for _, m := range page.Messages {
			out = append(out, notify.NewMessagePayload(m))
		}

		c.JSON(http.StatusOK, gin.H{
			"conversationId":     page.Conversation.ID,
			"conversationStatus": page.Conversation.Status,
			"messages":           out,
			"limit":              page.Limit,
			"offset":             page.Offset,
			"count":              len(out),
		})
	}
}

// queryInt returns 0 for a missing or malformed value.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
