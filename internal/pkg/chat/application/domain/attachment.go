package chat

import "time"

// Attachment is a provider media reference owned by a message. MediaURL is
// empty until the media id has been resolved against the provider.
type Attachment struct {
	ID        string    `db:"id"`
	MessageID string    `db:"message_id"`
	MediaID   string    `db:"media_id"`
	FileName  *string   `db:"file_name"`
	MimeType  string    `db:"mime_type"`
	MediaURL  *string   `db:"media_url"`
	CreatedAt time.Time `db:"created_at"`
}

// Resolved reports whether the media URL has been populated.
func (a Attachment) Resolved() bool {
	return a.MediaURL != nil && *a.MediaURL != ""
}
