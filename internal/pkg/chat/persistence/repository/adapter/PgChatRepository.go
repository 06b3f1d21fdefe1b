package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id::text, conversation_id::text, sender_id, content, msg_type, external_id,
	status, status_rank, delivered_at, read_at, created_at`

const conversationColumns = `id::text, company_id, business_phone_id, client_phone, client_name, assigned_agent,
	assigned_at, status, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgChatRepository struct {
	pool *pgxpool.Pool
}

var _ repository.ChatRepository = (*PgChatRepository)(nil)

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

func (r *PgChatRepository) EnsureOpenConversation(ctx context.Context, key chat.ConversationKey, name *string, now time.Time) (chat.Conversation, bool, error) {
	if r == nil || r.pool == nil {
		return chat.Conversation{}, false, errors.New("PgChatRepository: nil pool")
	}
	if key.ClientPhone == "" {
		return chat.Conversation{}, false, errors.New("PgChatRepository: client phone is required")
	}

	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO chat.conversation (id, business_phone_id, client_phone, client_name, status, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (business_phone_id, client_phone) WHERE status <> 'closed' DO NOTHING
		RETURNING id::text
	`, key.BusinessPhoneID, key.ClientPhone, name, chat.ConversationStatusOpen, now.UTC()).Scan(&id)
	created := true
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
	} else if err != nil {
		return chat.Conversation{}, false, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM chat.conversation
		WHERE business_phone_id = $1 AND client_phone = $2 AND status <> 'closed'
	`, key.BusinessPhoneID, key.ClientPhone)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// closed between insert and select; the caller retries resolution
		return chat.Conversation{}, false, chat.ErrConversationClosed
	}
	if err != nil {
		return chat.Conversation{}, false, err
	}
	return conv, created, nil
}

func (r *PgChatRepository) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return chat.Conversation{}, errors.New("PgChatRepository: nil pool")
	}
	if _, err := uuid.Parse(id); err != nil {
		return chat.Conversation{}, chat.ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM chat.conversation
		WHERE id = $1::uuid
	`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return conv, err
}

func (r *PgChatRepository) CloseConversation(ctx context.Context, id string) error {
	if r == nil || r.pool == nil {
		return errors.New("PgChatRepository: nil pool")
	}
	if _, err := uuid.Parse(id); err != nil {
		return chat.ErrNotFound
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE chat.conversation
		SET status = 'closed', updated_at = now()
		WHERE id = $1::uuid
	`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (r *PgChatRepository) SaveMessage(ctx context.Context, m chat.Message) (chat.Message, bool, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, false, errors.New("PgChatRepository: nil pool")
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	for i := range m.Attachments {
		if m.Attachments[i].ID == "" {
			m.Attachments[i].ID = uuid.NewString()
		}
		m.Attachments[i].MessageID = m.ID
	}

	// A stored duplicate wins over the conversation's current state, so a
	// redelivery after close still reports the original row.
	if ext := deref(m.ExternalID); ext != "" {
		existing, err := r.GetMessageByExternalID(ctx, ext)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, chat.ErrNotFound) {
			return chat.Message{}, false, err
		}
	}
	if _, err := uuid.Parse(m.ConversationID); err != nil {
		return chat.Message{}, false, chat.ErrNotFound
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return chat.Message{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR SHARE holds off a concurrent close until commit.
	var convStatus string
	err = tx.QueryRow(ctx, `
		SELECT status FROM chat.conversation WHERE id = $1::uuid FOR SHARE
	`, m.ConversationID).Scan(&convStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, false, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, false, err
	}
	if chat.ConversationStatus(convStatus) == chat.ConversationStatusClosed {
		return chat.Message{}, false, chat.ErrConversationClosed
	}

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO chat.message (
			id, conversation_id, sender_id, content, msg_type, external_id, status, status_rank, delivered_at, read_at, created_at
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id::text
	`, m.ID, m.ConversationID, m.SenderID, m.Content, m.MsgType, m.ExternalID, m.Status, m.StatusRank,
		m.DeliveredAt, m.ReadAt, m.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost the race to a concurrent delivery of the same external id
		_ = tx.Rollback(ctx)
		existing, getErr := r.GetMessageByExternalID(ctx, deref(m.ExternalID))
		if getErr != nil {
			return chat.Message{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return chat.Message{}, false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE chat.conversation
		SET updated_at = $2
		WHERE id = $1::uuid
	`, m.ConversationID, m.CreatedAt); err != nil {
		return chat.Message{}, false, err
	}

	for _, a := range m.Attachments {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat.attachment (id, message_id, media_id, file_name, mime_type, media_url, created_at)
			VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)
		`, a.ID, id, a.MediaID, a.FileName, a.MimeType, a.MediaURL, a.CreatedAt)
		if err != nil {
			return chat.Message{}, false, fmt.Errorf("insert attachment %s: %w", a.MediaID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Message{}, false, fmt.Errorf("commit: %w", err)
	}
	return m, true, nil
}

func (r *PgChatRepository) GetMessageByID(ctx context.Context, id string) (chat.Message, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, errors.New("PgChatRepository: nil pool")
	}
	if _, err := uuid.Parse(id); err != nil {
		return chat.Message{}, chat.ErrNotFound
	}
	return r.getMessage(ctx, `WHERE id = $1::uuid`, id)
}

func (r *PgChatRepository) GetMessageByExternalID(ctx context.Context, externalID string) (chat.Message, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, errors.New("PgChatRepository: nil pool")
	}
	if externalID == "" {
		return chat.Message{}, chat.ErrNotFound
	}
	return r.getMessage(ctx, `WHERE external_id = $1`, externalID)
}

func (r *PgChatRepository) getMessage(ctx context.Context, where string, arg string) (chat.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat.message `+where, arg)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	if err := r.attachAttachments(ctx, r.pool, []*chat.Message{&msg}); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (r *PgChatRepository) GetMessagesByConversation(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM chat.message
		WHERE conversation_id = $1::uuid
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	ptrs := make([]*chat.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := r.attachAttachments(ctx, r.pool, ptrs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PgChatRepository) ApplyStatus(ctx context.Context, externalID string, status chat.Status, at time.Time) (chat.Message, bool, error) {
	if r == nil || r.pool == nil {
		return chat.Message{}, false, errors.New("PgChatRepository: nil pool")
	}
	if externalID == "" || status == "" {
		return chat.Message{}, false, chat.ErrNotFound
	}

	var row pgx.Row
	if status.Known() {
		// The rank guard is evaluated under the row lock, so concurrent
		// callbacks for the same message can only move it forward.
		row = r.pool.QueryRow(ctx, `
			UPDATE chat.message
			SET status = $2,
			    status_rank = $3,
			    delivered_at = CASE WHEN $2 = 'delivered' AND delivered_at IS NULL THEN $4 ELSE delivered_at END,
			    read_at = CASE WHEN $2 = 'read' AND read_at IS NULL THEN $4 ELSE read_at END
			WHERE external_id = $1 AND status_rank < $3
			RETURNING `+messageColumns,
			externalID, string(status), status.Rank(), at.UTC())
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE chat.message
			SET status = $2
			WHERE external_id = $1 AND status <> $2
			RETURNING `+messageColumns,
			externalID, string(status))
	}

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetMessageByExternalID(ctx, externalID)
		if getErr != nil {
			return chat.Message{}, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return chat.Message{}, false, err
	}
	if err := r.attachAttachments(ctx, r.pool, []*chat.Message{&msg}); err != nil {
		return chat.Message{}, false, err
	}
	return msg, true, nil
}

func (r *PgChatRepository) SetAttachmentURL(ctx context.Context, attachmentID string, url string, mimeType string) (chat.Attachment, error) {
	if r == nil || r.pool == nil {
		return chat.Attachment{}, errors.New("PgChatRepository: nil pool")
	}
	if _, err := uuid.Parse(attachmentID); err != nil {
		return chat.Attachment{}, chat.ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE chat.attachment
		SET media_url = $2,
		    mime_type = COALESCE(NULLIF($3, ''), mime_type)
		WHERE id = $1::uuid
		RETURNING id::text, message_id::text, media_id, file_name, mime_type, media_url, created_at
	`, attachmentID, url, mimeType)
	a, err := scanAttachment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Attachment{}, chat.ErrNotFound
	}
	return a, err
}

func (r *PgChatRepository) ListUnresolvedAttachments(ctx context.Context, createdBefore time.Time, limit int) ([]chat.Attachment, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, message_id::text, media_id, file_name, mime_type, media_url, created_at
		FROM chat.attachment
		WHERE (media_url IS NULL OR media_url = '') AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PgChatRepository) attachAttachments(ctx context.Context, q querier, msgs []*chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	byID := make(map[string]*chat.Message, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}
	rows, err := q.Query(ctx, `
		SELECT id::text, message_id::text, media_id, file_name, mime_type, media_url, created_at
		FROM chat.attachment
		WHERE message_id = ANY($1::text[]::uuid[])
		ORDER BY created_at ASC, id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return err
		}
		if m := byID[a.MessageID]; m != nil {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

func scanConversation(row pgx.Row) (chat.Conversation, error) {
	var c chat.Conversation
	var status string
	err := row.Scan(&c.ID, &c.CompanyID, &c.BusinessPhoneID, &c.ClientPhone, &c.ClientName, &c.AssignedAgent,
		&c.AssignedAt, &status, &c.CreatedAt, &c.UpdatedAt)
	c.Status = chat.ConversationStatus(status)
	return c, err
}

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		m      chat.Message
		status string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MsgType, &m.ExternalID,
		&status, &m.StatusRank, &m.DeliveredAt, &m.ReadAt, &m.CreatedAt)
	m.Status = chat.Status(status)
	return m, err
}

func scanAttachment(row pgx.Row) (chat.Attachment, error) {
	var a chat.Attachment
	err := row.Scan(&a.ID, &a.MessageID, &a.MediaID, &a.FileName, &a.MimeType, &a.MediaURL, &a.CreatedAt)
	return a, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
