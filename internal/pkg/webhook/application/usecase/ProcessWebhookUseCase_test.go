package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/adapter"
	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"
)

func TestDeliveredStatusAdvancesSentMessage(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seeded := seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)

	rep, err := p.uc.Execute(context.Background(), statusPayload("wamid.1", "delivered"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.State != StateCompleted || rep.StatusesApplied != 1 {
		t.Fatalf("report = %+v", rep)
	}

	got, err := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")
	if err != nil {
		t.Fatalf("GetMessageByExternalID() error = %v", err)
	}
	if got.Status != chat.StatusDelivered || got.DeliveredAt == nil {
		t.Fatalf("stored message = %+v", got)
	}

	calls := p.notifier.statusCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(calls))
	}
	if calls[0].change.ConversationID != seeded.ConversationID || calls[0].change.Status != "delivered" {
		t.Errorf("change record = %+v", calls[0].change)
	}
	if calls[0].change.MessageID != seeded.ID {
		t.Errorf("change record message id = %q, want %q", calls[0].change.MessageID, seeded.ID)
	}
}

func TestRepeatedStatusPayloadIsNoop(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)
	body := statusPayload("wamid.1", "delivered")

	if _, err := p.uc.Execute(context.Background(), body); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	first, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")

	rep, err := p.uc.Execute(context.Background(), body)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if rep.StatusesApplied != 0 || rep.StatusesUnchanged != 1 {
		t.Fatalf("second report = %+v", rep)
	}

	second, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")
	if second.Status != chat.StatusDelivered {
		t.Fatalf("status = %q, want delivered", second.Status)
	}
	if !second.DeliveredAt.Equal(*first.DeliveredAt) {
		t.Fatalf("DeliveredAt moved from %v to %v", first.DeliveredAt, second.DeliveredAt)
	}
	if n := len(p.notifier.statusCalls()); n != 1 {
		t.Fatalf("expected exactly 1 notification across both calls, got %d", n)
	}
}

func TestMessageWithTwoMediaCreatesAttachments(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	body := []byte(`{"entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"PN1"},
		"messages":[{
			"id":"wamid.IN1","from":"50588887777","timestamp":"1714557600","type":"image",
			"text":{"body":""},
			"image":{"id":"media-img","mime_type":"image/jpeg"},
			"document":{"id":"media-doc","mime_type":"application/pdf","filename":"factura.pdf"}
		}]
	}}]}]}`)

	rep, err := p.uc.Execute(context.Background(), body)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.MessagesCreated != 1 {
		t.Fatalf("report = %+v", rep)
	}

	msg, err := p.repo.GetMessageByExternalID(context.Background(), "wamid.IN1")
	if err != nil {
		t.Fatalf("GetMessageByExternalID() error = %v", err)
	}
	if msg.MsgType != chat.MessageTypeMedia || !msg.MsgType.IsMedia() {
		t.Errorf("msg type = %v, want media", msg.MsgType)
	}
	if msg.Content != nil {
		t.Errorf("content = %q, want nil", *msg.Content)
	}
	if msg.Status != chat.StatusReceived {
		t.Errorf("status = %q, want received", msg.Status)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(msg.Attachments))
	}
	for _, a := range msg.Attachments {
		if a.MessageID != msg.ID {
			t.Errorf("attachment %s references %q, want %q", a.ID, a.MessageID, msg.ID)
		}
		if a.Resolved() {
			t.Errorf("attachment %s should start unresolved", a.ID)
		}
	}
	if msg.Attachments[0].MediaID != "media-img" || msg.Attachments[1].MediaID != "media-doc" {
		t.Errorf("attachment media ids = %q, %q", msg.Attachments[0].MediaID, msg.Attachments[1].MediaID)
	}

	if got := p.notifier.receivedCalls(); len(got) != 1 || got[0].ID != msg.ID {
		t.Errorf("MessageReceived notifications = %+v", got)
	}
	if len(p.scheduler.messages) != 1 {
		t.Errorf("media resolution scheduled %d times, want 1", len(p.scheduler.messages))
	}
}

func TestDuplicateMessageDeliveryKeepsOneRow(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	body := textPayload("wamid.IN2", "50577776666", "necesito ayuda")

	for i := 0; i < 2; i++ {
		if _, err := p.uc.Execute(context.Background(), body); err != nil {
			t.Fatalf("Execute() #%d error = %v", i, err)
		}
	}

	msg, err := p.repo.GetMessageByExternalID(context.Background(), "wamid.IN2")
	if err != nil {
		t.Fatalf("GetMessageByExternalID() error = %v", err)
	}
	msgs, err := p.repo.GetMessagesByConversation(context.Background(), msg.ConversationID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessagesByConversation() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
	if n := len(p.notifier.receivedCalls()); n != 1 {
		t.Fatalf("expected 1 MessageReceived, got %d", n)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	body := textPayload("wamid.RACE", "50500001111", "hola")

	const workers = 12
	reports := make([]Report, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := p.uc.Execute(context.Background(), body)
			if err != nil {
				t.Errorf("Execute() error = %v", err)
			}
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	created, duplicate := 0, 0
	for _, r := range reports {
		created += r.MessagesCreated
		duplicate += r.MessagesDuplicate
	}
	if created != 1 || duplicate != workers-1 {
		t.Fatalf("created=%d duplicate=%d, want 1 and %d", created, duplicate, workers-1)
	}
	msg, err := p.repo.GetMessageByExternalID(context.Background(), "wamid.RACE")
	if err != nil {
		t.Fatalf("GetMessageByExternalID() error = %v", err)
	}
	msgs, _ := p.repo.GetMessagesByConversation(context.Background(), msg.ConversationID, 0, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
}

func TestUnknownExternalIDIsDroppedQuietly(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)

	rep, err := p.uc.Execute(context.Background(), statusPayload("wamid.other", "read"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.StatusesMissed != 1 || rep.State != StateCompleted {
		t.Fatalf("report = %+v", rep)
	}
	if n := len(p.notifier.statusCalls()); n != 0 {
		t.Fatalf("expected no notification, got %d", n)
	}
	got, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")
	if got.Status != chat.StatusSent {
		t.Fatalf("unrelated message changed to %q", got.Status)
	}
}

func TestInvalidPayloadRejectedBeforeMutation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body []byte
	}{
		{name: "empty entry", body: []byte(`{"entry":[]}`)},
		{name: "statuses without messages", body: []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"read"}]}}]}]}`)},
		{name: "garbage", body: []byte(`not json`)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newPipeline(t)
			seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)

			rep, err := p.uc.Execute(context.Background(), tt.body)
			if !errors.Is(err, webhook.ErrInvalidPayload) {
				t.Fatalf("Execute() error = %v, want ErrInvalidPayload", err)
			}
			if rep.State != StateRejected {
				t.Fatalf("state = %q, want rejected", rep.State)
			}
			got, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")
			if got.Status != chat.StatusSent || got.ReadAt != nil {
				t.Fatalf("storage mutated: %+v", got)
			}
			if len(p.notifier.statusCalls()) != 0 || len(p.notifier.receivedCalls()) != 0 {
				t.Fatal("rejected payload must not notify")
			}
		})
	}
}

func TestFailingStatusDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()
	mem := adapter.NewMemoryChatRepository()
	repo := &failingRepo{MemoryChatRepository: mem, failStatus: map[string]bool{"wamid.bad": true}}
	p := newPipelineWithRepo(t, mem, repo)
	seedMessage(t, mem, "50511112222", "wamid.good", chat.StatusSent)
	seedMessage(t, mem, "50533334444", "wamid.bad", chat.StatusSent)

	body := []byte(`{"entry":[{"changes":[{"value":{
		"statuses":[{"id":"wamid.bad","status":"read"},{"id":"wamid.good","status":"read"}],
		"messages":[{"id":"wamid.IN9","from":"50599990000","text":{"body":"hola"}}]
	}}]}]}`)

	rep, err := p.uc.Execute(context.Background(), body)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.StatusesFailed != 1 || rep.StatusesApplied != 1 || rep.MessagesCreated != 1 {
		t.Fatalf("report = %+v", rep)
	}
	good, _ := mem.GetMessageByExternalID(context.Background(), "wamid.good")
	if good.Status != chat.StatusRead || good.ReadAt == nil {
		t.Fatalf("sibling status not applied: %+v", good)
	}
	if _, err := mem.GetMessageByExternalID(context.Background(), "wamid.IN9"); err != nil {
		t.Fatalf("message after failed status not ingested: %v", err)
	}
}

func TestFailingIngestStillCompletes(t *testing.T) {
	t.Parallel()
	mem := adapter.NewMemoryChatRepository()
	repo := &failingRepo{MemoryChatRepository: mem, saveErr: errors.New("deadlock detected")}
	p := newPipelineWithRepo(t, mem, repo)
	seedMessage(t, mem, "50511112222", "wamid.1", chat.StatusSent)

	body := []byte(`{"entry":[{"changes":[{"value":{
		"statuses":[{"id":"wamid.1","status":"delivered"}],
		"messages":[{"id":"wamid.IN3","from":"50599990000","text":{"body":"hola"}}]
	}}]}]}`)

	rep, err := p.uc.Execute(context.Background(), body)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.State != StateCompleted || rep.MessagesFailed != 1 || rep.StatusesApplied != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestStatusesApplyBeforeMessageInSameChange(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)

	var statusAtIngest chat.Status
	p.uc.Notifier = inboundFunc(func(ctx context.Context, msg chat.Message) {
		got, _ := p.repo.GetMessageByExternalID(ctx, "wamid.1")
		statusAtIngest = got.Status
	})

	body := []byte(`{"entry":[{"changes":[{"value":{
		"messages":[{"id":"wamid.IN4","from":"50511112222","text":{"body":"gracias"}}],
		"statuses":[{"id":"wamid.1","status":"read"}]
	}}]}]}`)
	if _, err := p.uc.Execute(context.Background(), body); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if statusAtIngest != chat.StatusRead {
		t.Fatalf("status when message was ingested = %q, want read", statusAtIngest)
	}
}

func TestCancellationKeepsAppliedStatuses(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)
	seedMessage(t, p.repo, "50533334444", "wamid.2", chat.StatusSent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.notifier.onStatus = cancel

	rep, err := p.uc.Execute(ctx, statusPayload("wamid.1", "read", "wamid.2", "read"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if rep.StatusesApplied != 1 {
		t.Fatalf("report = %+v", rep)
	}

	first, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")
	second, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.2")
	if first.Status != chat.StatusRead {
		t.Errorf("applied status rolled back: %q", first.Status)
	}
	if second.Status != chat.StatusSent {
		t.Errorf("status after cancellation applied: %q", second.Status)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := p.uc.Execute(ctx, textPayload("wamid.X", "1", "hola"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if rep.State != StateReceived {
		t.Fatalf("state = %q", rep.State)
	}
}

func TestAllChangeSetsProcessed(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)

	body := []byte(`{"entry":[
		{"changes":[{"value":{"messages":[{"id":"wamid.A","from":"50500000001","text":{"body":"a"}}]}}]},
		{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"delivered","timestamp":"1714557600"}]}}]}
	]}`)

	rep, err := p.uc.Execute(context.Background(), body)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.ChangeSets != 2 || rep.MessagesCreated != 1 || rep.StatusesApplied != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got, _ := p.repo.GetMessageByExternalID(context.Background(), "wamid.1")
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(time.Unix(1714557600, 0)) {
		t.Fatalf("DeliveredAt = %v, want provider timestamp", got.DeliveredAt)
	}
}

func TestStatusesOfLaterChangeApplyBeforeEarlierMessage(t *testing.T) {
	t.Parallel()
	p := newPipeline(t)
	seedMessage(t, p.repo, "50511112222", "wamid.1", chat.StatusSent)

	var order []string
	p.notifier.onStatus = func() { order = append(order, "status") }
	p.uc.Notifier = inboundFunc(func(context.Context, chat.Message) { order = append(order, "message") })

	body := []byte(`{"entry":[{"changes":[
		{"value":{"messages":[{"id":"wamid.IN5","from":"50511112222","text":{"body":"ya lo lei"}}]}},
		{"value":{"statuses":[{"id":"wamid.1","status":"read","timestamp":"1714557600"}]}}
	]}]}`)
	rep, err := p.uc.Execute(context.Background(), body)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rep.StatusesApplied != 1 || rep.MessagesCreated != 1 || rep.State != StateCompleted {
		t.Fatalf("report = %+v", rep)
	}
	if len(order) != 2 || order[0] != "status" || order[1] != "message" {
		t.Fatalf("notification order = %v, want [status message]", order)
	}
}

type inboundFunc func(ctx context.Context, msg chat.Message)

func (f inboundFunc) MessageReceived(ctx context.Context, msg chat.Message) { f(ctx, msg) }
