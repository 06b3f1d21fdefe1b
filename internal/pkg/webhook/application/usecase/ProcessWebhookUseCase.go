package usecase

import (
	"context"
	"errors"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"

	"go.uber.org/zap"
)

// State is the coordinator's position for one webhook call.
type State string

const (
	StateReceived          State = "received"
	StateNormalized        State = "normalized"
	StateRejected          State = "rejected"
	StateStatusesProcessed State = "statuses_processed"
	StateMessageProcessed  State = "message_processed"
	StateCompleted         State = "completed"
)

// InboundNotifier announces a newly ingested client message.
type InboundNotifier interface {
	MessageReceived(ctx context.Context, msg chat.Message)
}

// Report summarizes one webhook call.
type Report struct {
	State             State `json:"state"`
	ChangeSets        int   `json:"changeSets"`
	StatusesApplied   int   `json:"statusesApplied"`
	StatusesUnchanged int   `json:"statusesUnchanged"`
	StatusesMissed    int   `json:"statusesMissed"`
	StatusesFailed    int   `json:"statusesFailed"`
	MessagesCreated   int   `json:"messagesCreated"`
	MessagesDuplicate int   `json:"messagesDuplicate"`
	MessagesSkipped   int   `json:"messagesSkipped"`
	MessagesFailed    int   `json:"messagesFailed"`
}

// Applied reports whether the call changed anything in storage.
func (r Report) Applied() bool {
	return r.StatusesApplied > 0 || r.MessagesCreated > 0
}

func (r *Report) addStatuses(s ReconcileReport) {
	r.StatusesApplied += s.Applied
	r.StatusesUnchanged += s.Unchanged
	r.StatusesMissed += s.Missed
	r.StatusesFailed += s.Failed
}

// ProcessWebhookUseCase sequences one webhook delivery: normalize, apply the
// statuses of every change set, then ingest every message.
type ProcessWebhookUseCase struct {
	Options  webhook.NormalizeOptions
	Statuses *ReconcileStatusUseCase
	Messages *IngestMessageUseCase
	Notifier InboundNotifier
	Log      *zap.Logger
}

func NewProcessWebhookUseCase(opts webhook.NormalizeOptions, statuses *ReconcileStatusUseCase, messages *IngestMessageUseCase, notifier InboundNotifier, logger *zap.Logger) *ProcessWebhookUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessWebhookUseCase{
		Options:  opts,
		Statuses: statuses,
		Messages: messages,
		Notifier: notifier,
		Log:      logger.With(zap.String("component", "webhook_pipeline")),
	}
}

// Execute returns webhook.ErrInvalidPayload before touching storage when body
// is structurally invalid. Item failures are only counted in the report. When
// ctx ends mid-call the partial report is returned with ctx.Err().
func (uc *ProcessWebhookUseCase) Execute(ctx context.Context, body []byte) (Report, error) {
	rep := Report{State: StateReceived}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	update, err := webhook.Normalize(body, uc.Options)
	if err != nil {
		rep.State = StateRejected
		uc.Log.Info("webhook rejected", zap.Error(err))
		return rep, err
	}
	rep.State = StateNormalized
	rep.ChangeSets = len(update.ChangeSets)

	// A message must never be announced before a status callback that
	// arrived in the same delivery, whichever change set carried it.
	for _, cs := range update.ChangeSets {
		sr, err := uc.Statuses.Execute(ctx, cs.Statuses)
		rep.addStatuses(sr)
		if err != nil {
			return rep, err
		}
	}
	rep.State = StateStatusesProcessed

	for _, cs := range update.ChangeSets {
		if cs.SkippedMessages > 0 {
			rep.MessagesSkipped += cs.SkippedMessages
			uc.Log.Warn("extra messages in change ignored",
				zap.String("entry_id", cs.EntryID),
				zap.Int("skipped", cs.SkippedMessages))
		}
		if cs.Message == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if err := uc.ingest(ctx, *cs.Message, &rep); err != nil {
			return rep, err
		}
		rep.State = StateMessageProcessed
	}

	rep.State = StateCompleted
	uc.Log.Debug("webhook processed", zap.Any("report", rep))
	return rep, nil
}

// ingest only returns an error on cancellation.
func (uc *ProcessWebhookUseCase) ingest(ctx context.Context, ev webhook.MessageEvent, rep *Report) error {
	res, err := uc.Messages.Execute(ctx, ev)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, chat.ErrEmptyMessage):
		rep.MessagesSkipped++
		uc.Log.Info("inbound message without content",
			zap.String("external_id", ev.ExternalID),
			zap.Stringer("type", ev.Type))
	case err != nil:
		rep.MessagesFailed++
		uc.Log.Error("ingest message",
			zap.String("external_id", ev.ExternalID),
			zap.String("from", ev.From),
			zap.Error(err))
	case res.Created:
		rep.MessagesCreated++
		if uc.Notifier != nil {
			uc.Notifier.MessageReceived(ctx, res.Message)
		}
	default:
		rep.MessagesDuplicate++
		uc.Log.Debug("duplicate inbound message", zap.String("external_id", ev.ExternalID))
	}
	return nil
}
