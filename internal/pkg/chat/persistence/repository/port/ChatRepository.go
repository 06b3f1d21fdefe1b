package repository

import (
	"context"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
)

// ChatRepository defines persistence operations for the chat domain.
//
// Adapters enforce the write-time invariants themselves: a message external id
// is unique, and status transitions are checked and applied in one atomic
// step. Callers never read-then-write to decide either.
type ChatRepository interface {
	// EnsureOpenConversation returns the non-closed conversation for key,
	// creating it when none exists. Concurrent callers converge on one row.
	EnsureOpenConversation(ctx context.Context, key chat.ConversationKey, name *string, now time.Time) (chat.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	// CloseConversation marks the conversation closed; the next inbound
	// message for its key opens a new one. Closing twice is not an error.
	CloseConversation(ctx context.Context, id string) error

	// SaveMessage inserts m with its attachments and touches the owning
	// conversation. When m.ExternalID already exists the stored message is
	// returned with created=false and nothing is written. An unknown
	// conversation yields chat.ErrNotFound, a closed one
	// chat.ErrConversationClosed.
	SaveMessage(ctx context.Context, m chat.Message) (stored chat.Message, created bool, err error)
	GetMessageByID(ctx context.Context, id string) (chat.Message, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (chat.Message, error)
	GetMessagesByConversation(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error)

	// ApplyStatus advances the message with externalID to status following
	// chat.Message.ApplyStatus rules. It returns chat.ErrNotFound when no such
	// message exists, and changed=false when the transition does not advance.
	ApplyStatus(ctx context.Context, externalID string, status chat.Status, at time.Time) (msg chat.Message, changed bool, err error)

	SetAttachmentURL(ctx context.Context, attachmentID string, url string, mimeType string) (chat.Attachment, error)
	ListUnresolvedAttachments(ctx context.Context, createdBefore time.Time, limit int) ([]chat.Attachment, error)
}
