package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	cport "github.com/Jefrey13/customerSupport/internal/infrastructure/cache/port"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MediaScheduler arranges asynchronous URL resolution for a new message's
// attachments.
type MediaScheduler interface {
	ScheduleMedia(ctx context.Context, msg chat.Message) error
}

// IngestResult is the stored message for an inbound event. Created is false
// when the external id had already been ingested.
type IngestResult struct {
	Message chat.Message
	Created bool
}

// IngestMessageUseCase persists an inbound client message into the open
// conversation for the sender's phone.
type IngestMessageUseCase struct {
	Repo     repository.ChatRepository
	Cache    cport.Cache
	CacheTTL time.Duration
	Media    MediaScheduler
	Log      *zap.Logger
	Now      func() time.Time
}

func NewIngestMessageUseCase(repo repository.ChatRepository, cache cport.Cache, cacheTTL time.Duration, media MediaScheduler, logger *zap.Logger) *IngestMessageUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestMessageUseCase{
		Repo:     repo,
		Cache:    cache,
		CacheTTL: cacheTTL,
		Media:    media,
		Log:      logger.With(zap.String("component", "message_ingestor")),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func conversationCacheKey(key chat.ConversationKey) string {
	return "conv:" + key.BusinessPhoneID + ":" + key.ClientPhone
}

// pendingConversation stands in for the conversation id while the message is
// validated, before any conversation is resolved or created.
const pendingConversation = "pending"

// Execute stores ev once. A repeated delivery of the same external id returns
// the existing row with Created=false and writes nothing. Neither a redelivery
// nor an empty message opens a conversation.
func (uc *IngestMessageUseCase) Execute(ctx context.Context, ev webhook.MessageEvent) (IngestResult, error) {
	if ev.ExternalID == "" || ev.From == "" {
		return IngestResult{}, fmt.Errorf("external id and sender are required")
	}

	now := uc.Now()
	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = now
	}

	msg, err := uc.buildMessage(pendingConversation, ev, createdAt)
	if err != nil {
		return IngestResult{}, err
	}

	existing, err := uc.Repo.GetMessageByExternalID(ctx, ev.ExternalID)
	switch {
	case err == nil:
		return IngestResult{Message: existing, Created: false}, nil
	case !errors.Is(err, chat.ErrNotFound):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return IngestResult{}, ctxErr
		}
		return IngestResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	key := ev.ConversationKey()

	// The cached conversation may have been closed since it was cached; the
	// second attempt resolves against storage only. A concurrent delivery of
	// the same id still lands on SaveMessage's unique external id.
	for attempt := 0; attempt < 2; attempt++ {
		convID, err := uc.resolveConversation(ctx, key, ev.SenderName, now, attempt > 0)
		if err != nil {
			return IngestResult{}, err
		}
		msg.ConversationID = convID

		stored, created, err := uc.Repo.SaveMessage(ctx, *msg)
		if errors.Is(err, chat.ErrConversationClosed) || errors.Is(err, chat.ErrNotFound) {
			uc.forgetConversation(ctx, key)
			if attempt == 0 {
				continue
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return IngestResult{}, ctxErr
			}
			return IngestResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		if created && len(stored.Attachments) > 0 && uc.Media != nil {
			if err := uc.Media.ScheduleMedia(ctx, stored); err != nil {
				uc.Log.Warn("schedule media resolution",
					zap.String("message_id", stored.ID),
					zap.Int("attachments", len(stored.Attachments)),
					zap.Error(err))
			}
		}
		return IngestResult{Message: stored, Created: created}, nil
	}
	return IngestResult{}, fmt.Errorf("%w: %v", ErrPersistence, chat.ErrConversationClosed)
}

func (uc *IngestMessageUseCase) buildMessage(convID string, ev webhook.MessageEvent, createdAt time.Time) (*chat.Message, error) {
	externalID := ev.ExternalID
	m := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       ev.From,
		Content:        ev.Body,
		MsgType:        ev.Type,
		ExternalID:     &externalID,
		Status:         chat.StatusReceived,
		CreatedAt:      createdAt,
	}
	for _, md := range ev.Media {
		m.Attachments = append(m.Attachments, chat.Attachment{
			ID:        uuid.NewString(),
			MediaID:   md.MediaID,
			FileName:  md.FileName,
			MimeType:  md.MimeType,
			CreatedAt: createdAt,
		})
	}
	return chat.NewMessage(m)
}

func (uc *IngestMessageUseCase) resolveConversation(ctx context.Context, key chat.ConversationKey, name *string, now time.Time, skipCache bool) (string, error) {
	cacheKey := conversationCacheKey(key)
	if uc.Cache != nil && !skipCache {
		id, err := uc.Cache.Get(ctx, cacheKey)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, cport.ErrMiss) {
			uc.Log.Debug("conversation cache lookup", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	conv, created, err := uc.Repo.EnsureOpenConversation(ctx, key, name, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if created {
		uc.Log.Info("conversation opened",
			zap.String("conversation_id", conv.ID),
			zap.String("business_phone_id", conv.BusinessPhoneID),
			zap.String("client_phone", conv.ClientPhone))
	}

	if uc.Cache != nil {
		if err := uc.Cache.Set(ctx, cacheKey, conv.ID, uc.CacheTTL); err != nil {
			uc.Log.Debug("conversation cache store", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return conv.ID, nil
}

func (uc *IngestMessageUseCase) forgetConversation(ctx context.Context, key chat.ConversationKey) {
	if uc.Cache == nil {
		return
	}
	if _, err := uc.Cache.Del(ctx, conversationCacheKey(key)); err != nil {
		uc.Log.Debug("conversation cache invalidate", zap.String("key", conversationCacheKey(key)), zap.Error(err))
	}
}
