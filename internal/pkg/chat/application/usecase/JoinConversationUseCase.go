package usecase

import (
	"context"
	"errors"
	"fmt"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
)

// JoinConversationInput validates a request to attach a user session to a conversation.
type JoinConversationInput struct {
	ConversationID string
	UserID         string
}

// JoinConversationUseCase ensures the conversation exists before a session
// subscribes to its realtime room.
type JoinConversationUseCase struct {
	Repo repository.ChatRepository
}

func NewJoinConversationUseCase(repo repository.ChatRepository) *JoinConversationUseCase {
	return &JoinConversationUseCase{Repo: repo}
}

func (uc *JoinConversationUseCase) Execute(ctx context.Context, in JoinConversationInput) (chat.Conversation, error) {
	if in.ConversationID == "" || in.UserID == "" {
		return chat.Conversation{}, fmt.Errorf("conversation_id and user_id are required")
	}

	conv, err := uc.Repo.GetConversation(ctx, in.ConversationID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Conversation{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return conv, nil
}
