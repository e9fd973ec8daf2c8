package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/pkg/utils"
)

// NotificationService turns committed orchestration events into outbound
// side effects: decision emails carrying fresh token links, and in-app
// notification rows for validators who happen to hold an account. It
// implements ports.Notifier and must never propagate a failure; the decision
// that triggered it has already committed.
type NotificationService struct {
	tokens        *TokenService
	users         ports.UserStore
	notifications ports.NotificationStore
	emails        ports.EmailSender
	baseURL       string
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	tokens *TokenService,
	users ports.UserStore,
	notifications ports.NotificationStore,
	emails ports.EmailSender,
) *NotificationService {
	baseURL := os.Getenv("APP_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &NotificationService{
		tokens:        tokens,
		users:         users,
		notifications: notifications,
		emails:        emails,
		baseURL:       strings.TrimRight(baseURL, "/"),
	}
}

// StepActivated mints decision tokens for every validator of the step and
// delivers the approve/refuse links by email, plus an in-app notification
// for validators with an account.
func (s *NotificationService) StepActivated(ctx context.Context, wf *models.WorkflowInstance, step *models.StepInstance) {
	pairs, err := s.tokens.IssueTokensForStep(ctx, step)
	if err != nil {
		log.Printf("⚠️ Failed to issue tokens for step %s: %v", step.ID, err)
		return
	}

	subject := fmt.Sprintf("Your approval is requested: %s", wf.Title)
	for email, pair := range pairs {
		body := fmt.Sprintf(
			"The step %q of workflow %q awaits your decision.\n\nApprove: %s/decide/%s\nRefuse: %s/decide/%s\n",
			step.Name, wf.Title, s.baseURL, pair.ApproveSecret, s.baseURL, pair.RefuseSecret)
		if step.Deadline != nil {
			body += fmt.Sprintf("\nDeadline: %s\n", step.Deadline.Format(time.RFC1123))
		}
		if err := s.emails.Send(ctx, email, subject, body); err != nil {
			log.Printf("⚠️ Failed to email validator %s for step %s: %v", email, step.ID, err)
		}
		s.insertForEmail(ctx, email, subject,
			fmt.Sprintf("Step %q of workflow %q awaits your decision", step.Name, wf.Title),
			fmt.Sprintf("/workflows/%s", wf.ID))
	}
}

// WorkflowFinished tells the initiator the circuit reached a terminal
// outcome.
func (s *NotificationService) WorkflowFinished(ctx context.Context, wf *models.WorkflowInstance) {
	verdict := "approved"
	if wf.Status == models.WorkflowRefused {
		verdict = "refused"
	}
	title := fmt.Sprintf("Workflow %q was %s", wf.Title, verdict)
	s.notifyInitiator(ctx, wf, title, title)
}

// WorkflowCancelled tells the initiator the cancellation went through.
func (s *NotificationService) WorkflowCancelled(ctx context.Context, wf *models.WorkflowInstance) {
	title := fmt.Sprintf("Workflow %q was cancelled", wf.Title)
	s.notifyInitiator(ctx, wf, title, "All outstanding decision links have been disabled.")
}

// ListForRecipient returns the recipient's recent in-app notifications.
func (s *NotificationService) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error) {
	return s.notifications.ListForRecipient(ctx, recipientID, limit)
}

// MarkRead flags one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	return s.notifications.MarkRead(ctx, id, recipientID)
}

func (s *NotificationService) notifyInitiator(ctx context.Context, wf *models.WorkflowInstance, title, body string) {
	user, err := s.users.FindByID(ctx, wf.InitiatorID)
	if err != nil || user == nil {
		log.Printf("⚠️ Failed to load initiator %s of workflow %s: %v", wf.InitiatorID, wf.ID, err)
		return
	}
	if err := s.emails.Send(ctx, user.Email, title, body); err != nil {
		log.Printf("⚠️ Failed to email initiator %s: %v", user.Email, err)
	}
	s.insert(ctx, user.ID, title, body, fmt.Sprintf("/workflows/%s", wf.ID))
}

// insertForEmail stores an in-app notification when the email belongs to a
// registered account; anonymous validators only get the email link.
func (s *NotificationService) insertForEmail(ctx context.Context, email, title, body, link string) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		log.Printf("⚠️ Failed to look up account for %s: %v", email, err)
		return
	}
	if user == nil {
		return
	}
	s.insert(ctx, user.ID, title, body, link)
}

func (s *NotificationService) insert(ctx context.Context, recipientID, title, body, link string) {
	n := &models.Notification{
		ID:          utils.GenerateID(),
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Link:        link,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.notifications.Insert(ctx, n); err != nil {
		log.Printf("⚠️ Failed to store notification for %s: %v", recipientID, err)
	}
}

// LogEmailSender writes outbound mail to the process log. Production swaps
// in an SMTP or provider-backed implementation of ports.EmailSender.
type LogEmailSender struct{}

// Send logs the email instead of delivering it.
func (LogEmailSender) Send(_ context.Context, to, subject, _ string) error {
	log.Printf("📧 Email to %s: %s", to, subject)
	return nil
}
