package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReceiveWebhookController accepts provider update deliveries.
type ReceiveWebhookController struct {
	UC           *usecase.ProcessWebhookUseCase
	MaxBodyBytes int64
	Timeout      time.Duration
	log          *zap.Logger
}

func NewReceiveWebhookController(uc *usecase.ProcessWebhookUseCase, maxBodyBytes int64, timeout time.Duration, logger *zap.Logger) *ReceiveWebhookController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiveWebhookController{
		UC:           uc,
		MaxBodyBytes: maxBodyBytes,
		Timeout:      timeout,
		log:          logger.With(zap.String("component", "webhook_http")),
	}
}

// Handle answers 200 for every structurally valid payload, whatever happened
// to individual items, and 400 only for structural invalidity. When the
// processing deadline cuts a call short after something was applied the
// partial report is returned with 200; otherwise an interruption is 503 so
// the provider redelivers.
func (h *ReceiveWebhookController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		reader := c.Request.Body
		if h.MaxBodyBytes > 0 {
			reader = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
			return
		}

		ctx := c.Request.Context()
		if h.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.Timeout)
			defer cancel()
		}

		rep, err := h.UC.Execute(ctx, body)
		switch {
		case errors.Is(err, webhook.ErrInvalidPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, context.DeadlineExceeded) && c.Request.Context().Err() == nil && rep.Applied():
			h.log.Warn("webhook processing deadline reached", zap.Any("report", rep))
			c.JSON(http.StatusOK, gin.H{"status": "partial", "report": rep})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// The provider redelivers; every step is idempotent.
			h.log.Warn("webhook interrupted", zap.Any("report", rep), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing interrupted"})
		case err != nil:
			h.log.Error("webhook failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "processed", "report": rep})
		}
	}
}
