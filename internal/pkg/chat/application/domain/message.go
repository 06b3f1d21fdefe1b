package chat

import (
	"errors"
	"strings"
	"time"
)

// MessageType represents type of message content
// 0=text, 1=image, 2=document, 3=system, 4=audio, 5=video, 6=sticker, 7=media (mixed)
type MessageType int16

const (
	MessageTypeText     MessageType = 0
	MessageTypeImage    MessageType = 1
	MessageTypeDocument MessageType = 2
	MessageTypeSystem   MessageType = 3
	MessageTypeAudio    MessageType = 4
	MessageTypeVideo    MessageType = 5
	MessageTypeSticker  MessageType = 6
	MessageTypeMedia    MessageType = 7
)

var messageTypeNames = map[MessageType]string{
	MessageTypeText:     "text",
	MessageTypeImage:    "image",
	MessageTypeDocument: "document",
	MessageTypeSystem:   "system",
	MessageTypeAudio:    "audio",
	MessageTypeVideo:    "video",
	MessageTypeSticker:  "sticker",
	MessageTypeMedia:    "media",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseMessageType maps a provider type tag to a MessageType. Unknown tags map to text.
func ParseMessageType(tag string) MessageType {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for t, name := range messageTypeNames {
		if name == tag {
			return t
		}
	}
	return MessageTypeText
}

// IsMedia reports whether messages of this type carry attachments.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeDocument, MessageTypeAudio, MessageTypeVideo, MessageTypeSticker, MessageTypeMedia:
		return true
	}
	return false
}

func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *MessageType) UnmarshalText(b []byte) error {
	*t = ParseMessageType(string(b))
	return nil
}

// Message is one entry of a conversation. ExternalID is the provider-assigned
// id and is unique across all messages.
type Message struct {
	ID             string       `db:"id"`
	ConversationID string       `db:"conversation_id"`
	SenderID       string       `db:"sender_id"`
	Content        *string      `db:"content"`
	MsgType        MessageType  `db:"msg_type"`
	ExternalID     *string      `db:"external_id"`
	Status         Status       `db:"status"`
	StatusRank     int16        `db:"status_rank"`
	DeliveredAt    *time.Time   `db:"delivered_at"`
	ReadAt         *time.Time   `db:"read_at"`
	CreatedAt      time.Time    `db:"created_at"`
	Attachments    []Attachment `db:"-"`
}

func NewMessage(m Message) (*Message, error) {
	if m.ConversationID == "" || m.SenderID == "" {
		return nil, errors.New("conversation_id and sender_id are required")
	}

	if m.Content != nil {
		trimmed := strings.TrimSpace(*m.Content)
		if trimmed == "" {
			m.Content = nil
		} else {
			m.Content = &trimmed
		}
	}

	if m.ExternalID != nil && strings.TrimSpace(*m.ExternalID) == "" {
		m.ExternalID = nil
	}

	if m.Content == nil && len(m.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.StatusRank = m.Status.Rank()

	for i := range m.Attachments {
		m.Attachments[i].MessageID = m.ID
		if m.Attachments[i].CreatedAt.IsZero() {
			m.Attachments[i].CreatedAt = m.CreatedAt
		}
	}

	return &m, nil
}
