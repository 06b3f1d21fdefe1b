// Package notify pushes message snapshots to subscribers of a conversation.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"

	"go.uber.org/zap"
)

// Publisher delivers one serialized envelope to the subscriber group named by
// topic. The conversation id is the topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event string, payload []byte) error
}

const defaultPublishTimeout = 5 * time.Second

// Fanout hands each notification to every configured publisher. Failures are
// logged and swallowed; storage already reflects the change.
type Fanout struct {
	publishers []Publisher
	log        *zap.Logger
	timeout    time.Duration
	now        func() time.Time
}

type Option func(*Fanout)

func WithTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Fanout) {
		if now != nil {
			f.now = now
		}
	}
}

func NewFanout(logger *zap.Logger, publishers []Publisher, opts ...Option) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{
		log:     logger.With(zap.String("component", "notify")),
		timeout: defaultPublishTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StatusChanged notifies MessageStatusChanged with the change record.
func (f *Fanout) StatusChanged(ctx context.Context, msg chat.Message, change ChangeRecord) {
	f.notify(ctx, EventMessageStatusChanged, msg, &change, change.Status)
}

// MessageReceived notifies a newly ingested inbound message.
func (f *Fanout) MessageReceived(ctx context.Context, msg chat.Message) {
	f.notify(ctx, EventMessageReceived, msg, nil, string(msg.Status))
}

// MessageCreated notifies an outgoing message accepted by the provider.
func (f *Fanout) MessageCreated(ctx context.Context, msg chat.Message) {
	f.notify(ctx, EventMessageCreated, msg, nil, string(msg.Status))
}

// MessageUpdated notifies a snapshot refresh that is not a status change,
// such as an attachment URL being resolved.
func (f *Fanout) MessageUpdated(ctx context.Context, msg chat.Message) {
	resolved := 0
	for _, a := range msg.Attachments {
		if a.Resolved() {
			resolved++
		}
	}
	f.notify(ctx, EventMessageUpdated, msg, nil, fmt.Sprintf("media-%d", resolved))
}

func (f *Fanout) notify(ctx context.Context, event string, msg chat.Message, change *ChangeRecord, version string) {
	if f == nil || len(f.publishers) == 0 {
		return
	}
	env := Envelope{
		ID:             EnvelopeID(msg.ID, event, version),
		Type:           event,
		ConversationID: msg.ConversationID,
		Change:         change,
		Message:        NewMessagePayload(msg),
		OccurredAt:     f.now(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		f.log.Error("encode envelope", zap.String("event", event), zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	// The change is already committed; the caller going away must not
	// suppress the notification.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	for _, p := range f.publishers {
		if err := p.Publish(pctx, msg.ConversationID, event, payload); err != nil {
			f.log.Warn("publish failed",
				zap.String("event", event),
				zap.String("conversation_id", msg.ConversationID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

// EnvelopeID is the de-duplication key of one notification.
func EnvelopeID(messageID, event, version string) string {
	return messageID + ":" + event + ":" + version
}
