package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Jefrey13/customerSupport/internal/infrastructure/whatsapp"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"

	"github.com/google/uuid"
)

// MediaSender uploads a file to the provider and sends the resulting media id.
type MediaSender interface {
	UploadMedia(ctx context.Context, from, filename, mimeType string, data io.Reader) (string, error)
	SendMedia(ctx context.Context, from, to string, m whatsapp.OutboundMedia) (string, error)
}

// MediaScheduler arranges URL resolution for a stored message's attachments.
type MediaScheduler interface {
	ScheduleMedia(ctx context.Context, msg chat.Message) error
}

// SendMediaInput carries an agent's file reply.
type SendMediaInput struct {
	ConversationID string
	SenderID       string
	FileName       string
	MimeType       string
	Caption        string
	Data           io.Reader
}

// SendMediaUseCase uploads an agent's file, sends it to the client and stores
// the message with one unresolved attachment. The media URL is resolved later
// like any inbound media.
type SendMediaUseCase struct {
	Repo     repository.ChatRepository
	Sender   MediaSender
	Media    MediaScheduler
	Notifier CreatedNotifier
	Now      func() time.Time
}

func NewSendMediaUseCase(repo repository.ChatRepository, sender MediaSender, media MediaScheduler, notifier CreatedNotifier) *SendMediaUseCase {
	return &SendMediaUseCase{
		Repo:     repo,
		Sender:   sender,
		Media:    media,
		Notifier: notifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *SendMediaUseCase) Execute(ctx context.Context, in SendMediaInput) (*chat.Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, fmt.Errorf("conversationId and senderId are required")
	}
	if in.Data == nil || strings.TrimSpace(in.FileName) == "" {
		return nil, chat.ErrEmptyMessage
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	conv, err := uc.Repo.GetConversation(ctx, in.ConversationID)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if conv.IsClosed() {
		return nil, chat.ErrConversationClosed
	}

	mediaID, err := uc.Sender.UploadMedia(ctx, conv.BusinessPhoneID, in.FileName, mimeType, in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: upload: %v", ErrProvider, err)
	}
	kind := whatsapp.MediaKindFor(mimeType)
	caption := strings.TrimSpace(in.Caption)
	externalID, err := uc.Sender.SendMedia(ctx, conv.BusinessPhoneID, conv.ClientPhone, whatsapp.OutboundMedia{
		Kind:     kind,
		MediaID:  mediaID,
		Caption:  caption,
		Filename: in.FileName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: send media %s: %v", ErrProvider, mediaID, err)
	}

	now := uc.Now()
	fileName := in.FileName
	m := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		MsgType:        chat.ParseMessageType(string(kind)),
		ExternalID:     &externalID,
		Status:         chat.StatusSent,
		CreatedAt:      now,
		Attachments: []chat.Attachment{{
			ID:        uuid.NewString(),
			MediaID:   mediaID,
			FileName:  &fileName,
			MimeType:  mimeType,
			CreatedAt: now,
		}},
	}
	if caption != "" {
		m.Content = &caption
	}
	msg, err := chat.NewMessage(m)
	if err != nil {
		return nil, err
	}

	stored, _, err := uc.Repo.SaveMessage(ctx, *msg)
	if err != nil {
		return nil, fmt.Errorf("%w: store sent media %s: %v", ErrPersistence, externalID, err)
	}

	if uc.Media != nil {
		// The backfill task picks the attachment up if scheduling fails.
		_ = uc.Media.ScheduleMedia(ctx, stored)
	}
	if uc.Notifier != nil {
		uc.Notifier.MessageCreated(ctx, stored)
	}
	return &stored, nil
}
