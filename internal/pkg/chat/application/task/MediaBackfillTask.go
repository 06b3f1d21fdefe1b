package task

import (
	"context"
	"fmt"
	"time"

	"github.com/Jefrey13/customerSupport/internal/infrastructure/scheduler"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"

	"go.uber.org/zap"
)

// MediaBackfillTaskName is the scheduler registry key.
const MediaBackfillTaskName = "media_backfill"

// MediaBackfillDeps groups what the backfill needs. With an Enqueuer the
// attachments are handed to the queue; otherwise Resolver runs inline.
type MediaBackfillDeps struct {
	Repo     repository.ChatRepository
	Enqueuer *MediaEnqueuer
	Resolver *usecase.ResolveMediaUseCase
	MinAge   time.Duration
	Batch    int
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewMediaBackfillTask picks up attachments whose URL is still empty after
// MinAge, for example because an enqueue failed or Redis was down.
func NewMediaBackfillTask(deps MediaBackfillDeps) scheduler.TaskFunc {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("task", MediaBackfillTaskName))
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return func(ctx context.Context) error {
		pending, err := deps.Repo.ListUnresolvedAttachments(ctx, now().Add(-deps.MinAge), deps.Batch)
		if err != nil {
			return fmt.Errorf("list unresolved attachments: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		failed := 0
		for _, a := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := backfillOne(ctx, deps, a, now()); err != nil {
				failed++
				log.Warn("backfill attachment", zap.String("attachment_id", a.ID), zap.Error(err))
			}
		}
		log.Info("media backfill pass", zap.Int("pending", len(pending)), zap.Int("failed", failed))
		return nil
	}
}

func backfillOne(ctx context.Context, deps MediaBackfillDeps, a chat.Attachment, now time.Time) error {
	if deps.Enqueuer != nil {
		return deps.Enqueuer.RetryAttachment(ctx, a, now)
	}
	if deps.Resolver == nil {
		return fmt.Errorf("no resolver configured")
	}
	_, err := deps.Resolver.Execute(ctx, usecase.ResolveMediaInput{AttachmentID: a.ID, MediaID: a.MediaID, MessageID: a.MessageID})
	return err
}
