package adapter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"

	"github.com/google/uuid"
)

// MemoryChatRepository keeps conversations and messages in process memory.
// Every operation runs under one mutex, which gives the same atomicity the
// Postgres adapter gets from its unique indexes and guarded updates.
type MemoryChatRepository struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	openByKey     map[chat.ConversationKey]string // -> non-closed conversation id
	messages      map[string]*chat.Message
	byExternalID  map[string]string // external id -> message id
	attachments   map[string]*chat.Attachment
	msgAttach     map[string][]string // message id -> attachment ids in insert order
}

var _ repository.ChatRepository = (*MemoryChatRepository)(nil)

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		conversations: make(map[string]*chat.Conversation),
		openByKey:     make(map[chat.ConversationKey]string),
		messages:      make(map[string]*chat.Message),
		byExternalID:  make(map[string]string),
		attachments:   make(map[string]*chat.Attachment),
		msgAttach:     make(map[string][]string),
	}
}

func (r *MemoryChatRepository) EnsureOpenConversation(ctx context.Context, key chat.ConversationKey, name *string, now time.Time) (chat.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, false, err
	}
	if key.ClientPhone == "" {
		return chat.Conversation{}, false, errors.New("MemoryChatRepository: client phone is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.openByKey[key]; ok {
		return *r.conversations[id], false, nil
	}
	conv := &chat.Conversation{
		ID:              uuid.NewString(),
		BusinessPhoneID: key.BusinessPhoneID,
		ClientPhone:     key.ClientPhone,
		ClientName:      name,
		Status:          chat.ConversationStatusOpen,
		CreatedAt:       now.UTC(),
	}
	r.conversations[conv.ID] = conv
	r.openByKey[key] = conv.ID
	return *conv, true, nil
}

func (r *MemoryChatRepository) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return *conv, nil
}

func (r *MemoryChatRepository) CloseConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return chat.ErrNotFound
	}
	conv.Status = chat.ConversationStatusClosed
	if r.openByKey[conv.Key()] == id {
		delete(r.openByKey, conv.Key())
	}
	return nil
}

func (r *MemoryChatRepository) SaveMessage(ctx context.Context, m chat.Message) (chat.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ExternalID != nil && *m.ExternalID != "" {
		if id, ok := r.byExternalID[*m.ExternalID]; ok {
			return r.snapshotLocked(id), false, nil
		}
	}

	conv, ok := r.conversations[m.ConversationID]
	if !ok {
		return chat.Message{}, false, chat.ErrNotFound
	}
	if conv.IsClosed() {
		return chat.Message{}, false, chat.ErrConversationClosed
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	stored := m
	stored.Attachments = nil
	for _, a := range m.Attachments {
		a.MessageID = m.ID
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		cp := a
		r.attachments[a.ID] = &cp
		r.msgAttach[m.ID] = append(r.msgAttach[m.ID], a.ID)
	}
	r.messages[m.ID] = &stored
	if m.ExternalID != nil && *m.ExternalID != "" {
		r.byExternalID[*m.ExternalID] = m.ID
	}
	touched := m.CreatedAt
	conv.UpdatedAt = &touched

	return r.snapshotLocked(m.ID), true, nil
}

func (r *MemoryChatRepository) GetMessageByID(ctx context.Context, id string) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return r.snapshotLocked(id), nil
}

func (r *MemoryChatRepository) GetMessageByExternalID(ctx context.Context, externalID string) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExternalID[externalID]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return r.snapshotLocked(id), nil
}

func (r *MemoryChatRepository) GetMessagesByConversation(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, m := range r.messages {
		if m.ConversationID == conversationID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.messages[ids[i]], r.messages[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	if offset >= len(ids) {
		return []chat.Message{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]chat.Message, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, r.snapshotLocked(id))
	}
	return out, nil
}

func (r *MemoryChatRepository) ApplyStatus(ctx context.Context, externalID string, status chat.Status, at time.Time) (chat.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byExternalID[externalID]
	if !ok || externalID == "" {
		return chat.Message{}, false, chat.ErrNotFound
	}
	changed := r.messages[id].ApplyStatus(status, at)
	return r.snapshotLocked(id), changed, nil
}

func (r *MemoryChatRepository) SetAttachmentURL(ctx context.Context, attachmentID string, url string, mimeType string) (chat.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return chat.Attachment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attachments[attachmentID]
	if !ok {
		return chat.Attachment{}, chat.ErrNotFound
	}
	u := url
	a.MediaURL = &u
	if mimeType != "" {
		a.MimeType = mimeType
	}
	return *a, nil
}

func (r *MemoryChatRepository) ListUnresolvedAttachments(ctx context.Context, createdBefore time.Time, limit int) ([]chat.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []chat.Attachment
	for _, a := range r.attachments {
		if !a.Resolved() && a.CreatedAt.Before(createdBefore) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// snapshotLocked returns a copy of the message with its attachments so callers
// never alias repository state.
func (r *MemoryChatRepository) snapshotLocked(id string) chat.Message {
	m := *r.messages[id]
	m.Attachments = nil
	for _, aid := range r.msgAttach[id] {
		m.Attachments = append(m.Attachments, *r.attachments[aid])
	}
	return m
}
