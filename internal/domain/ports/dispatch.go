package ports

import (
	"context"
	"time"

	"github.com/docflow/backend/internal/domain/models"
)

// Notifier receives orchestration side effects strictly after the owning
// transaction has committed. Implementations must swallow their own failures;
// a lost notification never invalidates a committed decision.
type Notifier interface {
	StepActivated(ctx context.Context, wf *models.WorkflowInstance, step *models.StepInstance)
	WorkflowFinished(ctx context.Context, wf *models.WorkflowInstance)
	WorkflowCancelled(ctx context.Context, wf *models.WorkflowInstance)
}

// ReminderScheduler schedules and cancels deadline reminders, keyed by step
// id. Scheduling an already-scheduled step is a no-op.
type ReminderScheduler interface {
	Schedule(ctx context.Context, wf *models.WorkflowInstance, step *models.StepInstance, dueAt time.Time) error
	Cancel(ctx context.Context, stepID string) error
}

// EmailSender delivers one outbound email. The shipped implementation logs;
// production wires an SMTP or provider-backed sender.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
