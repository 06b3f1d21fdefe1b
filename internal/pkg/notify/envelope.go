package notify

import (
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
)

// Event names delivered to subscribers.
const (
	EventMessageStatusChanged = "MessageStatusChanged"
	EventMessageReceived      = "MessageReceived"
	EventMessageCreated       = "MessageCreated"
	EventMessageUpdated       = "MessageUpdated"
)

// ChangeRecord describes one applied status transition. It is never stored.
type ChangeRecord struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

type AttachmentPayload struct {
	ID        string    `json:"id"`
	MediaID   string    `json:"mediaId"`
	FileName  *string   `json:"fileName,omitempty"`
	MimeType  string    `json:"mimeType"`
	MediaURL  *string   `json:"mediaUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessagePayload is the message snapshot subscribers receive.
type MessagePayload struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	SenderID       string              `json:"senderId"`
	Content        *string             `json:"content,omitempty"`
	MsgType        chat.MessageType    `json:"msgType"`
	ExternalID     *string             `json:"externalId,omitempty"`
	Status         string              `json:"status"`
	CreatedAt      time.Time           `json:"createdAt"`
	DeliveredAt    *time.Time          `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time          `json:"readAt,omitempty"`
	Attachments    []AttachmentPayload `json:"attachments"`
}

// Envelope is the unit handed to every Publisher. ID is stable for a given
// state transition so subscribers can drop repeated deliveries.
type Envelope struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId"`
	Change         *ChangeRecord  `json:"change,omitempty"`
	Message        MessagePayload `json:"message"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

func NewMessagePayload(m chat.Message) MessagePayload {
	out := MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MsgType:        m.MsgType,
		ExternalID:     m.ExternalID,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
		Attachments:    make([]AttachmentPayload, 0, len(m.Attachments)),
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, AttachmentPayload{
			ID:        a.ID,
			MediaID:   a.MediaID,
			FileName:  a.FileName,
			MimeType:  a.MimeType,
			MediaURL:  a.MediaURL,
			CreatedAt: a.CreatedAt,
		})
	}
	return out
}
