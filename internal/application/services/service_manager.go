package services

import (
	"context"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/internal/infrastructure/database"
	"github.com/docflow/backend/internal/infrastructure/persistence"
)

// notifierHub breaks the construction cycle between the orchestrator and the
// notification service. Calls before the delegate is set are dropped.
type notifierHub struct {
	delegate ports.Notifier
}

func (h *notifierHub) StepActivated(ctx context.Context, wf *models.WorkflowInstance, step *models.StepInstance) {
	if h.delegate != nil {
		h.delegate.StepActivated(ctx, wf, step)
	}
}

func (h *notifierHub) WorkflowFinished(ctx context.Context, wf *models.WorkflowInstance) {
	if h.delegate != nil {
		h.delegate.WorkflowFinished(ctx, wf)
	}
}

func (h *notifierHub) WorkflowCancelled(ctx context.Context, wf *models.WorkflowInstance) {
	if h.delegate != nil {
		h.delegate.WorkflowCancelled(ctx, wf)
	}
}

// ServiceManager wires repositories and services together and owns the
// reminder worker's lifecycle.
type ServiceManager struct {
	Auth          *AuthService
	Templates     *TemplateService
	Orchestration *OrchestrationService
	Tokens        *TokenService
	Notifications *NotificationService
	Reminders     *ReminderService
}

// NewServiceManager builds the full service graph on top of one database
// connection.
func NewServiceManager(conn *database.Connection) (*ServiceManager, error) {
	db := conn.DB()

	transactor := persistence.NewTransactionManager(db)
	workflowRepo := persistence.NewWorkflowRepository(db)
	actionRepo := persistence.NewActionRepository(db)
	tokenRepo := persistence.NewTokenRepository(db)
	auditRepo := persistence.NewAuditRepository(db)
	userRepo := persistence.NewUserRepository(db)
	templateRepo := persistence.NewTemplateRepository(db)
	notificationRepo := persistence.NewNotificationRepository(db)
	reminderRepo := persistence.NewReminderRepository(db)

	emails := LogEmailSender{}

	reminders, err := NewReminderService(reminderRepo, workflowRepo, actionRepo, tokenRepo, emails)
	if err != nil {
		return nil, err
	}

	// Orchestration, tokens and notifications reference each other: the
	// notifier issues tokens for steps the orchestrator activates, and token
	// resolution feeds decisions back into the orchestrator. Wire the
	// orchestrator first with a placeholder notifier, then close the loop.
	hub := &notifierHub{}
	orchestration := NewOrchestrationService(
		transactor, workflowRepo, actionRepo, tokenRepo, auditRepo, hub, reminders)
	tokens := NewTokenService(transactor, tokenRepo, workflowRepo, orchestration)
	notifications := NewNotificationService(tokens, userRepo, notificationRepo, emails)
	hub.delegate = notifications

	return &ServiceManager{
		Auth:          NewAuthService(userRepo),
		Templates:     NewTemplateService(templateRepo),
		Orchestration: orchestration,
		Tokens:        tokens,
		Notifications: notifications,
		Reminders:     reminders,
	}, nil
}

// Start launches background workers. Blocks; run it in a goroutine.
func (m *ServiceManager) Start() {
	m.Reminders.Start()
}

// Stop shuts background workers down gracefully.
func (m *ServiceManager) Stop() {
	m.Reminders.Stop()
}
