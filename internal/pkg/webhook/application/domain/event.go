package webhook

import (
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
)

// Update is the canonical form of one webhook delivery.
type Update struct {
	ChangeSets []ChangeSet
}

// ChangeSet is one provider change: its status callbacks followed by at most
// one inbound message.
type ChangeSet struct {
	EntryID  string
	Metadata Metadata
	Statuses []StatusEvent
	Message  *MessageEvent

	// SkippedMessages counts message entries beyond the first usable one.
	SkippedMessages int
}

// StatusEvent reports that a message reached a delivery state. Timestamp is
// zero when the provider omitted or garbled it.
type StatusEvent struct {
	ExternalID  string
	Status      chat.Status
	Timestamp   time.Time
	RecipientID string
}

// MessageEvent is an inbound client message.
type MessageEvent struct {
	ExternalID string
	From       string
	SenderName *string
	Timestamp  time.Time
	Type       chat.MessageType
	Body       *string
	Media      []MediaDescriptor

	// BusinessPhoneNumberID is the receiving business number. Together with
	// From it identifies the conversation.
	BusinessPhoneNumberID string
}

// MediaDescriptor references provider-hosted media by id.
type MediaDescriptor struct {
	Kind     chat.MessageType
	MediaID  string
	MimeType string
	FileName *string
	Caption  *string
}

// ConversationKey correlates the message with a conversation: the sender
// talking to the business number that received it.
func (m MessageEvent) ConversationKey() chat.ConversationKey {
	return chat.ConversationKey{BusinessPhoneID: m.BusinessPhoneNumberID, ClientPhone: m.From}
}

// StatusCount is the number of status events across all change sets.
func (u Update) StatusCount() int {
	n := 0
	for _, cs := range u.ChangeSets {
		n += len(cs.Statuses)
	}
	return n
}

// MessageCount is the number of message events across all change sets.
func (u Update) MessageCount() int {
	n := 0
	for _, cs := range u.ChangeSets {
		if cs.Message != nil {
			n++
		}
	}
	return n
}
