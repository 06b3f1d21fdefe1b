package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	qport "github.com/Jefrey13/customerSupport/internal/infrastructure/queue/port"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"

	"go.uber.org/zap"
)

// ResolveMediaTaskType is the queue task name for resolving an attachment's media URL.
const ResolveMediaTaskType = "media:resolve_url"

// ResolveMediaQueue is the queue media tasks are routed to.
const ResolveMediaQueue = "media"

// ResolveMediaTaskPayload is the JSON payload transported via the queue.
type ResolveMediaTaskPayload struct {
	AttachmentID string `json:"attachmentId"`
	MediaID      string `json:"mediaId"`
	MessageID    string `json:"messageId"`
}

// RegisterResolveMediaTask binds the task handler to the provided server.
func RegisterResolveMediaTask(srv qport.Server, uc *usecase.ResolveMediaUseCase, logger *zap.Logger) {
	srv.Register(ResolveMediaTaskType, NewResolveMediaHandler(uc, logger))
}

// NewResolveMediaHandler returns the queue handler for ResolveMediaTaskType.
func NewResolveMediaHandler(uc *usecase.ResolveMediaUseCase, logger *zap.Logger) qport.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("task", ResolveMediaTaskType))
	return func(ctx context.Context, t qport.Task) error {
		var p ResolveMediaTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// malformed payload: do not retry
			return fmt.Errorf("decode payload: %v: %w", err, qport.ErrSkipRetry)
		}

		ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()

		att, err := uc.Execute(ctx, usecase.ResolveMediaInput{
			AttachmentID: p.AttachmentID,
			MediaID:      p.MediaID,
			MessageID:    p.MessageID,
		})
		if errors.Is(err, chat.ErrNotFound) {
			log.Info("attachment gone", zap.String("attachment_id", p.AttachmentID))
			return nil
		}
		if err != nil {
			// Provider and persistence errors are retried with backoff by the server.
			return err
		}
		log.Debug("media resolved", zap.String("attachment_id", att.ID), zap.String("mime_type", att.MimeType))
		return nil
	}
}

// MediaEnqueuer schedules URL resolution for every attachment of a message.
// Task ids are derived from the attachment id, so re-enqueueing is a no-op
// while a task for it is still held by the queue.
type MediaEnqueuer struct {
	Client   qport.Client
	MaxRetry int
}

// retryBucket spaces backfill retries of one attachment.
const retryBucket = time.Hour

func NewMediaEnqueuer(client qport.Client, maxRetry int) *MediaEnqueuer {
	return &MediaEnqueuer{Client: client, MaxRetry: maxRetry}
}

func (e *MediaEnqueuer) ScheduleMedia(ctx context.Context, msg chat.Message) error {
	var errs []error
	for _, a := range msg.Attachments {
		if err := e.EnqueueAttachment(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnqueueAttachment enqueues one resolution task. A task already held for
// the attachment is not an error.
func (e *MediaEnqueuer) EnqueueAttachment(ctx context.Context, a chat.Attachment) error {
	return e.enqueue(ctx, a, "media:"+a.ID)
}

// RetryAttachment enqueues a resolution task for an attachment that is still
// unresolved at now. The id is keyed on the hour, so a task that already
// exhausted its retries, or was retained after completing, does not block a
// new attempt, while repeated passes within the hour collapse into one.
func (e *MediaEnqueuer) RetryAttachment(ctx context.Context, a chat.Attachment, now time.Time) error {
	bucket := now.UTC().Truncate(retryBucket).Unix()
	return e.enqueue(ctx, a, fmt.Sprintf("media:%s:%d", a.ID, bucket))
}

func (e *MediaEnqueuer) enqueue(ctx context.Context, a chat.Attachment, taskID string) error {
	b, err := json.Marshal(ResolveMediaTaskPayload{AttachmentID: a.ID, MediaID: a.MediaID, MessageID: a.MessageID})
	if err != nil {
		return err
	}
	opts := qport.EnqueueOption{
		Queue:     ResolveMediaQueue,
		MaxRetry:  e.MaxRetry,
		TaskID:    taskID,
		Retention: time.Hour,
	}
	_, err = e.Client.Enqueue(ctx, qport.Task{Type: ResolveMediaTaskType, Payload: b}, opts)
	if errors.Is(err, qport.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s for attachment %s: %w", ResolveMediaTaskType, a.ID, err)
	}
	return nil
}
