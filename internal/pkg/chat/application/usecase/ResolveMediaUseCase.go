package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jefrey13/customerSupport/internal/infrastructure/whatsapp"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
)

// MediaLocator resolves a provider media id to a download location.
type MediaLocator interface {
	MediaURL(ctx context.Context, mediaID string) (whatsapp.Media, error)
}

// UpdatedNotifier announces a refreshed message snapshot.
type UpdatedNotifier interface {
	MessageUpdated(ctx context.Context, msg chat.Message)
}

type ResolveMediaInput struct {
	AttachmentID string
	MediaID      string
	MessageID    string
}

// ResolveMediaUseCase fills an attachment's media URL and pushes the updated
// message to subscribers.
type ResolveMediaUseCase struct {
	Repo     repository.ChatRepository
	Locator  MediaLocator
	Notifier UpdatedNotifier
}

func NewResolveMediaUseCase(repo repository.ChatRepository, locator MediaLocator, notifier UpdatedNotifier) *ResolveMediaUseCase {
	return &ResolveMediaUseCase{Repo: repo, Locator: locator, Notifier: notifier}
}

func (uc *ResolveMediaUseCase) Execute(ctx context.Context, in ResolveMediaInput) (chat.Attachment, error) {
	if in.AttachmentID == "" || in.MediaID == "" {
		return chat.Attachment{}, fmt.Errorf("attachmentId and mediaId are required")
	}

	media, err := uc.Locator.MediaURL(ctx, in.MediaID)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	att, err := uc.Repo.SetAttachmentURL(ctx, in.AttachmentID, media.URL, media.MimeType)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Attachment{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	messageID := in.MessageID
	if messageID == "" {
		messageID = att.MessageID
	}
	if uc.Notifier != nil && messageID != "" {
		msg, err := uc.Repo.GetMessageByID(ctx, messageID)
		if err != nil {
			// The URL is stored; the next history fetch shows it.
			return att, nil
		}
		uc.Notifier.MessageUpdated(ctx, msg)
	}
	return att, nil
}
