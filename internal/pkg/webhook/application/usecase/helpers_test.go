package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	cport "github.com/Jefrey13/customerSupport/internal/infrastructure/cache/port"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/adapter"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
	"github.com/Jefrey13/customerSupport/internal/pkg/notify"
	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"
)

// businessPhoneID is the phone_number_id the test payloads arrive on.
const businessPhoneID = "PN1"

type statusCall struct {
	msg    chat.Message
	change notify.ChangeRecord
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []statusCall
	received []chat.Message
	onStatus func()
}

func (n *recordingNotifier) StatusChanged(_ context.Context, msg chat.Message, change notify.ChangeRecord) {
	n.mu.Lock()
	n.statuses = append(n.statuses, statusCall{msg: msg, change: change})
	hook := n.onStatus
	n.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (n *recordingNotifier) MessageReceived(_ context.Context, msg chat.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, msg)
}

func (n *recordingNotifier) statusCalls() []statusCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]statusCall(nil), n.statuses...)
}

func (n *recordingNotifier) receivedCalls() []chat.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]chat.Message(nil), n.received...)
}

// failingRepo fails ApplyStatus for the listed external ids and SaveMessage
// when saveErr is set.
type failingRepo struct {
	*adapter.MemoryChatRepository
	failStatus map[string]bool
	saveErr    error
}

func (r *failingRepo) ApplyStatus(ctx context.Context, externalID string, status chat.Status, at time.Time) (chat.Message, bool, error) {
	if r.failStatus[externalID] {
		return chat.Message{}, false, errors.New("connection reset by peer")
	}
	return r.MemoryChatRepository.ApplyStatus(ctx, externalID, status, at)
}

func (r *failingRepo) SaveMessage(ctx context.Context, m chat.Message) (chat.Message, bool, error) {
	if r.saveErr != nil {
		return chat.Message{}, false, r.saveErr
	}
	return r.MemoryChatRepository.SaveMessage(ctx, m)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]string)} }

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", cport.ErrMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

func (c *mapCache) Ping(context.Context) error { return nil }
func (c *mapCache) Close() error               { return nil }

type recordingScheduler struct {
	mu       sync.Mutex
	messages []chat.Message
}

func (s *recordingScheduler) ScheduleMedia(_ context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

type pipeline struct {
	repo      *adapter.MemoryChatRepository
	notifier  *recordingNotifier
	cache     *mapCache
	scheduler *recordingScheduler
	uc        *ProcessWebhookUseCase
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	repo := adapter.NewMemoryChatRepository()
	return newPipelineWithRepo(t, repo, repo)
}

// newPipelineWithRepo wires the coordinator over store while mem stays
// reachable for seeding and assertions.
func newPipelineWithRepo(t *testing.T, mem *adapter.MemoryChatRepository, store repository.ChatRepository) *pipeline {
	t.Helper()
	p := &pipeline{
		repo:      mem,
		notifier:  &recordingNotifier{},
		cache:     newMapCache(),
		scheduler: &recordingScheduler{},
	}
	statuses := NewReconcileStatusUseCase(store, p.notifier, nil)
	messages := NewIngestMessageUseCase(store, p.cache, time.Minute, p.scheduler, nil)
	p.uc = NewProcessWebhookUseCase(webhook.DefaultNormalizeOptions(), statuses, messages, p.notifier, nil)
	return p
}

// seedMessage stores a message with the given external id and status in a
// fresh conversation for phone.
func seedMessage(t *testing.T, repo *adapter.MemoryChatRepository, phone, externalID string, status chat.Status) chat.Message {
	t.Helper()
	ctx := context.Background()
	conv, _, err := repo.EnsureOpenConversation(ctx, chat.ConversationKey{BusinessPhoneID: businessPhoneID, ClientPhone: phone}, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("EnsureOpenConversation() error = %v", err)
	}
	content := "hola"
	ext := externalID
	msg, err := chat.NewMessage(chat.Message{
		ID:             "seed-" + externalID,
		ConversationID: conv.ID,
		SenderID:       "agent-1",
		Content:        &content,
		ExternalID:     &ext,
		Status:         status,
	})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	stored, _, err := repo.SaveMessage(ctx, *msg)
	if err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	return stored
}

// statusPayload builds a delivery carrying only status callbacks, nested in a
// message entry as the provider sends them. Pairs are id, status.
func statusPayload(pairs ...string) []byte {
	var items []string
	for i := 0; i+1 < len(pairs); i += 2 {
		items = append(items, fmt.Sprintf(`{"id":%q,"status":%q,"timestamp":"1714557600"}`, pairs[i], pairs[i+1]))
	}
	return []byte(`{"entry":[{"id":"E1","changes":[{"field":"messages","value":{"messages":[{"statuses":[` +
		strings.Join(items, ",") + `]}]}}]}]}`)
}

func textPayload(externalID, from, body string) []byte {
	return []byte(fmt.Sprintf(`{"entry":[{"id":"E1","changes":[{"value":{
		"metadata":{"phone_number_id":"PN1"},
		"contacts":[{"wa_id":%q,"profile":{"name":"Cliente"}}],
		"messages":[{"id":%q,"from":%q,"timestamp":"1714557600","type":"text","text":{"body":%q}}]
	}}]}]}`, from, externalID, from, body))
}
