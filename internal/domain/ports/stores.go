package ports

import (
	"context"
	"time"

	"github.com/docflow/backend/internal/domain/models"
)

// Transactor runs a function inside one all-or-nothing unit of work. The
// transaction travels in the context; stores participate when they find one
// there. Implementations must serialize concurrent units touching the same
// step (row locks in the SQL implementation).
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// WorkflowStore persists workflow, phase and step instances.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.WorkflowInstance) error
	CreatePhase(ctx context.Context, phase *models.PhaseInstance) error
	CreateStep(ctx context.Context, step *models.StepInstance) error

	GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// GetWorkflowForUpdate locks the workflow row for the remainder of the
	// enclosing transaction.
	GetWorkflowForUpdate(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// GetStepForUpdate locks the step row for the remainder of the enclosing
	// transaction. This is what serializes concurrent decisions on one step.
	GetStepForUpdate(ctx context.Context, id string) (*models.StepInstance, error)
	GetStep(ctx context.Context, id string) (*models.StepInstance, error)
	GetPhase(ctx context.Context, id string) (*models.PhaseInstance, error)
	GetPhaseByOrder(ctx context.Context, workflowID string, order int) (*models.PhaseInstance, error)
	ListPhases(ctx context.Context, workflowID string) ([]*models.PhaseInstance, error)
	ListSteps(ctx context.Context, phaseID string) ([]*models.StepInstance, error)
	ListWorkflowSteps(ctx context.Context, workflowID string) ([]*models.StepInstance, error)

	UpdateWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus, currentPhaseIndex int) error
	UpdatePhaseStatus(ctx context.Context, id string, status models.StageStatus) error
	UpdateStepStatus(ctx context.Context, id string, status models.StageStatus) error
	// ReactivateStep marks the step IN_PROGRESS, resets its decision counter
	// and bumps its activation.
	ReactivateStep(ctx context.Context, id string) error
	IncrementDecisionCount(ctx context.Context, stepID string) error
}

// ActionStore persists immutable decision records. Actions are the source of
// truth for quorum computation.
type ActionStore interface {
	Insert(ctx context.Context, action *models.WorkflowAction) error
	CountByDecision(ctx context.Context, stepID string, activation int) (approvals, refusals int, err error)
	ExistsForActor(ctx context.Context, stepID string, activation int, actorEmail string) (bool, error)
	DeleteForStep(ctx context.Context, stepID string) error
	ListForStep(ctx context.Context, stepID string) ([]*models.WorkflowAction, error)
}

// TokenStore persists single-use decision tokens. Only hashes are stored.
type TokenStore interface {
	Insert(ctx context.Context, token *models.ActionToken) error
	FindByHash(ctx context.Context, secretHash string) (*models.ActionToken, error)
	// Consume marks the token used if and only if it is still unused and
	// unexpired. Returns false when another caller got there first.
	Consume(ctx context.Context, secretHash string, now time.Time) (bool, error)
	ExpireForStep(ctx context.Context, stepID string, now time.Time) error
	ExpireForWorkflow(ctx context.Context, workflowID string, now time.Time) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore appends immutable orchestration audit records.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListForWorkflow(ctx context.Context, workflowID string) ([]*models.AuditEntry, error)
}

// UserStore persists registered accounts.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// TemplateStore persists reusable circuit definitions.
type TemplateStore interface {
	Create(ctx context.Context, tpl *models.CircuitTemplate) error
	Update(ctx context.Context, tpl *models.CircuitTemplate) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.CircuitTemplate, error)
	List(ctx context.Context) ([]*models.CircuitTemplate, error)
}

// NotificationStore persists in-app notification rows.
type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

// ReminderStore persists pending deadline reminders keyed by step id.
type ReminderStore interface {
	// Schedule is idempotent: scheduling an existing key is a no-op.
	Schedule(ctx context.Context, job *models.ReminderJob) error
	Cancel(ctx context.Context, stepID string) error
	// ClaimDue atomically marks due, unfired jobs as fired and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ReminderJob, error)
}
