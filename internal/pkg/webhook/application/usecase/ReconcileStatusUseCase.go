package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
	"github.com/Jefrey13/customerSupport/internal/pkg/notify"
	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"

	"go.uber.org/zap"
)

// StatusNotifier receives every applied status transition.
type StatusNotifier interface {
	StatusChanged(ctx context.Context, msg chat.Message, change notify.ChangeRecord)
}

// ReconcileReport counts the outcome of each status event.
type ReconcileReport struct {
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Missed    int `json:"missed"`
	Failed    int `json:"failed"`
}

// ReconcileStatusUseCase applies provider status callbacks to stored messages.
// The repository performs lookup and the monotonic check in one write, so
// concurrent webhook calls for the same message never regress its status.
type ReconcileStatusUseCase struct {
	Repo     repository.ChatRepository
	Notifier StatusNotifier
	Log      *zap.Logger
	Now      func() time.Time
}

func NewReconcileStatusUseCase(repo repository.ChatRepository, notifier StatusNotifier, logger *zap.Logger) *ReconcileStatusUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileStatusUseCase{
		Repo:     repo,
		Notifier: notifier,
		Log:      logger.With(zap.String("component", "status_reconciler")),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute processes events in order. A failing event is logged and counted;
// the rest still run. Cancellation stops the loop and returns ctx.Err();
// events applied before that stay applied.
func (uc *ReconcileStatusUseCase) Execute(ctx context.Context, events []webhook.StatusEvent) (ReconcileReport, error) {
	var rep ReconcileReport
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		at := ev.Timestamp
		if at.IsZero() {
			at = uc.Now()
		}

		msg, changed, err := uc.Repo.ApplyStatus(ctx, ev.ExternalID, ev.Status, at)
		switch {
		case errors.Is(err, chat.ErrNotFound):
			rep.Missed++
			uc.Log.Debug("status for unknown message",
				zap.String("external_id", ev.ExternalID),
				zap.String("status", string(ev.Status)))
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			rep.Failed++
			uc.Log.Error("apply status",
				zap.String("external_id", ev.ExternalID),
				zap.String("status", string(ev.Status)),
				zap.Error(fmt.Errorf("%w: %v", ErrPersistence, err)))
		case !changed:
			rep.Unchanged++
		default:
			rep.Applied++
			if uc.Notifier != nil {
				uc.Notifier.StatusChanged(ctx, msg, notify.ChangeRecord{
					ConversationID: msg.ConversationID,
					MessageID:      msg.ID,
					Status:         string(msg.Status),
					Timestamp:      at.UTC(),
				})
			}
		}
	}
	return rep, nil
}
