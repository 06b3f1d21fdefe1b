package chat

import "errors"

// Domain-level errors for chat behaviors
var (
	ErrNotFound           = errors.New("chat: not found")
	ErrConversationClosed = errors.New("chat: conversation is closed")
	ErrEmptyMessage       = errors.New("chat: empty message (no content or attachment)")
)
