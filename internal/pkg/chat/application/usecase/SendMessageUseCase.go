package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"

	"github.com/google/uuid"
)

// TextSender delivers a text message from a business number to a client
// phone and returns the provider's message id.
type TextSender interface {
	SendText(ctx context.Context, from, to, body string) (string, error)
}

// CreatedNotifier announces an outgoing message.
type CreatedNotifier interface {
	MessageCreated(ctx context.Context, msg chat.Message)
}

// SendMessageInput carries an agent's text reply
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
}

// SendMessageUseCase sends an agent reply through the provider and stores it
// with the provider's id, so later status callbacks reconcile against it.
type SendMessageUseCase struct {
	Repo     repository.ChatRepository
	Sender   TextSender
	Notifier CreatedNotifier
	Now      func() time.Time
}

func NewSendMessageUseCase(repo repository.ChatRepository, sender TextSender, notifier CreatedNotifier) *SendMessageUseCase {
	return &SendMessageUseCase{
		Repo:     repo,
		Sender:   sender,
		Notifier: notifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute sends and persists a new message for a conversation
func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*chat.Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, fmt.Errorf("conversationId and senderId are required")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, chat.ErrEmptyMessage
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

	externalID, err := uc.Sender.SendText(ctx, conv.BusinessPhoneID, conv.ClientPhone, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	msg, err := chat.NewMessage(chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        &body,
		MsgType:        chat.MessageTypeText,
		ExternalID:     &externalID,
		Status:         chat.StatusSent,
		CreatedAt:      uc.Now(),
	})
	if err != nil {
		return nil, err
	}

	stored, _, err := uc.Repo.SaveMessage(ctx, *msg)
	if err != nil {
		// The provider already accepted the message; surface the id so it can
		// be traced.
		return nil, fmt.Errorf("%w: store sent message %s: %v", ErrPersistence, externalID, err)
	}

	if uc.Notifier != nil {
		uc.Notifier.MessageCreated(ctx, stored)
	}
	return &stored, nil
}
