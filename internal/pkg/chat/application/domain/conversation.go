package chat

import "time"

// ConversationStatus is the lifecycle state of a support conversation.
type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusAssigned ConversationStatus = "assigned"
	ConversationStatusClosed   ConversationStatus = "closed"
)

// ConversationKey identifies whose thread a message belongs to: the client
// phone talking to one of the company's business numbers.
type ConversationKey struct {
	BusinessPhoneID string
	ClientPhone     string
}

func (k ConversationKey) String() string {
	return k.BusinessPhoneID + ":" + k.ClientPhone
}

// Conversation is a support thread between one client phone and one business
// number. At most one non-closed conversation exists per ConversationKey.
type Conversation struct {
	ID              string             `db:"id"`
	CompanyID       *string            `db:"company_id"`
	BusinessPhoneID string             `db:"business_phone_id"`
	ClientPhone     string             `db:"client_phone"`
	ClientName      *string            `db:"client_name"`
	AssignedAgent   *string            `db:"assigned_agent"`
	AssignedAt      *time.Time         `db:"assigned_at"`
	Status          ConversationStatus `db:"status"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       *time.Time         `db:"updated_at"`
}

// Key returns the identity the conversation is unique on while open.
func (c Conversation) Key() ConversationKey {
	return ConversationKey{BusinessPhoneID: c.BusinessPhoneID, ClientPhone: c.ClientPhone}
}

// IsClosed reports whether new messages must open a fresh conversation.
func (c Conversation) IsClosed() bool {
	return c.Status == ConversationStatusClosed
}
