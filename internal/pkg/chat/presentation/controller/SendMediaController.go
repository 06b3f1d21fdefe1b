package controller

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"
	"github.com/Jefrey13/customerSupport/internal/pkg/notify"

	"github.com/gin-gonic/gin"
)

// multipartOverhead covers the form fields and part headers around the file.
const multipartOverhead = 64 << 10

// SendMediaController handles the multipart send-media endpoint: a "file"
// part plus "sender_id" and an optional "caption".
type SendMediaController struct {
	UC             *usecase.SendMediaUseCase
	MaxUploadBytes int64
}

func NewSendMediaController(uc *usecase.SendMediaUseCase, maxUploadBytes int64) *SendMediaController {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 16 << 20
	}
	return &SendMediaController{UC: uc, MaxUploadBytes: maxUploadBytes}
}

func (h *SendMediaController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if header.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
			return
		}
		if header.Size > h.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		senderID := strings.TrimSpace(c.PostForm("sender_id"))
		if senderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sender_id is required"})
			return
		}

		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		in := usecase.SendMediaInput{
			ConversationID: conversationID,
			SenderID:       senderID,
			FileName:       filepath.Base(header.Filename),
			MimeType:       uploadMimeType(header.Header.Get("Content-Type"), header.Filename),
			Caption:        c.PostForm("caption"),
			Data:           f,
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
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

// uploadMimeType prefers the part's declared type and falls back to the
// file extension.
func uploadMimeType(declared, filename string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
	}
	return "application/octet-stream"
}
