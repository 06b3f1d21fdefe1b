package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	qport "github.com/Jefrey13/customerSupport/internal/infrastructure/queue/port"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/whatsapp"
	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/adapter"
)

type enqueued struct {
	task qport.Task
	opt  qport.EnqueueOption
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
	seen  map[string]bool
}

func (q *fakeQueue) Enqueue(_ context.Context, t qport.Task, opts ...qport.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var opt qport.EnqueueOption
	if len(opts) > 0 {
		opt = opts[0]
	}
	if q.seen == nil {
		q.seen = make(map[string]bool)
	}
	if opt.TaskID != "" && q.seen[opt.TaskID] {
		return "", qport.ErrDuplicateTask
	}
	q.seen[opt.TaskID] = true
	q.tasks = append(q.tasks, enqueued{task: t, opt: opt})
	return opt.TaskID, nil
}

func (q *fakeQueue) Close() error { return nil }

type staticLocator struct{ url string }

func (l staticLocator) MediaURL(_ context.Context, mediaID string) (whatsapp.Media, error) {
	return whatsapp.Media{ID: mediaID, URL: l.url + mediaID, MimeType: "image/webp"}, nil
}

func storeImageMessage(t *testing.T, repo *adapter.MemoryChatRepository, createdAt time.Time) chat.Message {
	t.Helper()
	ctx := context.Background()
	conv, _, err := repo.EnsureOpenConversation(ctx, chat.ConversationKey{BusinessPhoneID: "PN1", ClientPhone: "50511112222"}, nil, createdAt)
	if err != nil {
		t.Fatalf("EnsureOpenConversation() error = %v", err)
	}
	ext := "wamid.IMG"
	m, err := chat.NewMessage(chat.Message{
		ID:             "m-1",
		ConversationID: conv.ID,
		SenderID:       "50511112222",
		MsgType:        chat.MessageTypeMedia,
		ExternalID:     &ext,
		Status:         chat.StatusReceived,
		CreatedAt:      createdAt,
		Attachments: []chat.Attachment{
			{ID: "a-1", MediaID: "media-1", MimeType: "image/jpeg"},
			{ID: "a-2", MediaID: "media-2", MimeType: "image/webp"},
		},
	})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	stored, _, err := repo.SaveMessage(ctx, *m)
	if err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	return stored
}

func TestMediaEnqueuerOneTaskPerAttachment(t *testing.T) {
	t.Parallel()
	repo := adapter.NewMemoryChatRepository()
	msg := storeImageMessage(t, repo, time.Now().UTC())
	q := &fakeQueue{}
	e := NewMediaEnqueuer(q, 5)

	if err := e.ScheduleMedia(context.Background(), msg); err != nil {
		t.Fatalf("ScheduleMedia() error = %v", err)
	}
	if err := e.ScheduleMedia(context.Background(), msg); err != nil {
		t.Fatalf("second ScheduleMedia() should swallow duplicates, got %v", err)
	}
	if len(q.tasks) != 2 {
		t.Fatalf("enqueued %d tasks, want 2", len(q.tasks))
	}

	first := q.tasks[0]
	if first.task.Type != ResolveMediaTaskType || first.opt.Queue != ResolveMediaQueue || first.opt.TaskID != "media:a-1" {
		t.Fatalf("task = %+v", first)
	}
	var p ResolveMediaTaskPayload
	if err := json.Unmarshal(first.task.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.AttachmentID != "a-1" || p.MediaID != "media-1" || p.MessageID != "m-1" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestResolveMediaHandler(t *testing.T) {
	t.Parallel()
	repo := adapter.NewMemoryChatRepository()
	storeImageMessage(t, repo, time.Now().UTC())
	uc := usecase.NewResolveMediaUseCase(repo, staticLocator{url: "https://cdn.example/"}, nil)
	h := NewResolveMediaHandler(uc, nil)

	payload, _ := json.Marshal(ResolveMediaTaskPayload{AttachmentID: "a-2", MediaID: "media-2", MessageID: "m-1"})
	if err := h(context.Background(), qport.Task{Type: ResolveMediaTaskType, Payload: payload}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	msg, _ := repo.GetMessageByID(context.Background(), "m-1")
	if msg.Attachments[0].Resolved() || !msg.Attachments[1].Resolved() {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}

	if err := h(context.Background(), qport.Task{Type: ResolveMediaTaskType, Payload: []byte("{")}); !errors.Is(err, qport.ErrSkipRetry) {
		t.Fatalf("malformed payload error = %v, want ErrSkipRetry", err)
	}

	gone, _ := json.Marshal(ResolveMediaTaskPayload{AttachmentID: "missing", MediaID: "media-9"})
	if err := h(context.Background(), qport.Task{Type: ResolveMediaTaskType, Payload: gone}); err != nil {
		t.Fatalf("missing attachment should be dropped, got %v", err)
	}
}

func TestMediaBackfill(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("enqueues old attachments", func(t *testing.T) {
		t.Parallel()
		repo := adapter.NewMemoryChatRepository()
		storeImageMessage(t, repo, now.Add(-10*time.Minute))
		q := &fakeQueue{}
		run := NewMediaBackfillTask(MediaBackfillDeps{
			Repo:     repo,
			Enqueuer: NewMediaEnqueuer(q, 3),
			MinAge:   2 * time.Minute,
			Batch:    10,
			Now:      func() time.Time { return now },
		})
		if err := run(context.Background()); err != nil {
			t.Fatalf("run error = %v", err)
		}
		if len(q.tasks) != 2 {
			t.Fatalf("enqueued %d, want 2", len(q.tasks))
		}
	})

	t.Run("retries attachments whose first task is still held", func(t *testing.T) {
		t.Parallel()
		repo := adapter.NewMemoryChatRepository()
		msg := storeImageMessage(t, repo, now.Add(-10*time.Minute))
		q := &fakeQueue{}
		e := NewMediaEnqueuer(q, 3)
		if err := e.ScheduleMedia(context.Background(), msg); err != nil {
			t.Fatalf("ScheduleMedia() error = %v", err)
		}

		clock := now
		run := NewMediaBackfillTask(MediaBackfillDeps{
			Repo:     repo,
			Enqueuer: e,
			MinAge:   2 * time.Minute,
			Batch:    10,
			Now:      func() time.Time { return clock },
		})
		if err := run(context.Background()); err != nil {
			t.Fatalf("run error = %v", err)
		}
		if len(q.tasks) != 4 {
			t.Fatalf("enqueued %d, want 2 initial + 2 retries", len(q.tasks))
		}

		if err := run(context.Background()); err != nil {
			t.Fatalf("second run error = %v", err)
		}
		if len(q.tasks) != 4 {
			t.Fatalf("a second pass in the same hour enqueued again: %d tasks", len(q.tasks))
		}

		clock = now.Add(time.Hour)
		if err := run(context.Background()); err != nil {
			t.Fatalf("later run error = %v", err)
		}
		if len(q.tasks) != 6 {
			t.Fatalf("enqueued %d after an hour, want 6", len(q.tasks))
		}
	})

	t.Run("skips recent attachments", func(t *testing.T) {
		t.Parallel()
		repo := adapter.NewMemoryChatRepository()
		storeImageMessage(t, repo, now.Add(-30*time.Second))
		q := &fakeQueue{}
		run := NewMediaBackfillTask(MediaBackfillDeps{
			Repo:     repo,
			Enqueuer: NewMediaEnqueuer(q, 3),
			MinAge:   2 * time.Minute,
			Batch:    10,
			Now:      func() time.Time { return now },
		})
		if err := run(context.Background()); err != nil {
			t.Fatalf("run error = %v", err)
		}
		if len(q.tasks) != 0 {
			t.Fatalf("enqueued %d, want 0", len(q.tasks))
		}
	})

	t.Run("resolves inline without a queue", func(t *testing.T) {
		t.Parallel()
		repo := adapter.NewMemoryChatRepository()
		storeImageMessage(t, repo, now.Add(-10*time.Minute))
		run := NewMediaBackfillTask(MediaBackfillDeps{
			Repo:     repo,
			Resolver: usecase.NewResolveMediaUseCase(repo, staticLocator{url: "https://cdn.example/"}, nil),
			MinAge:   2 * time.Minute,
			Batch:    10,
			Now:      func() time.Time { return now },
		})
		if err := run(context.Background()); err != nil {
			t.Fatalf("run error = %v", err)
		}
		left, _ := repo.ListUnresolvedAttachments(context.Background(), now, 10)
		if len(left) != 0 {
			t.Fatalf("%d attachments still unresolved", len(left))
		}
	})
}
