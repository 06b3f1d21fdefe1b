package usecase

import (
	"context"
	"errors"
	"fmt"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type GetMessageInput struct {
	ConversationID string
	Limit          int
	Offset         int
}

// GetMessageOutput is one page of a conversation's history.
type GetMessageOutput struct {
	Conversation chat.Conversation
	Messages     []chat.Message
	Limit        int
	Offset       int
}

// GetMessageUseCase pages through a conversation's messages, oldest first,
// attachments included.
type GetMessageUseCase struct {
	Repo repository.ChatRepository
}

func NewGetMessageUseCase(repo repository.ChatRepository) *GetMessageUseCase {
	return &GetMessageUseCase{Repo: repo}
}

func (uc *GetMessageUseCase) Execute(ctx context.Context, in GetMessageInput) (GetMessageOutput, error) {
	if in.ConversationID == "" {
		return GetMessageOutput{}, fmt.Errorf("conversationId is required")
	}
	limit := in.Limit
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	offset := max(in.Offset, 0)

	conv, err := uc.Repo.GetConversation(ctx, in.ConversationID)
	if errors.Is(err, chat.ErrNotFound) {
		return GetMessageOutput{}, chat.ErrNotFound
	}
	if err != nil {
		return GetMessageOutput{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	msgs, err := uc.Repo.GetMessagesByConversation(ctx, conv.ID, limit, offset)
	if err != nil {
		return GetMessageOutput{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return GetMessageOutput{Conversation: conv, Messages: msgs, Limit: limit, Offset: offset}, nil
}
