package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/pkg/constants"
)

// ReminderService is the deadline reminder scheduler and its background
// worker. Jobs are DB rows keyed by step id, so scheduling is idempotent and
// survives restarts; a conditional claim keeps two workers from firing the
// same reminder. The worker also runs the nightly purge of expired tokens.
type ReminderService struct {
	reminders ports.ReminderStore
	store     ports.WorkflowStore
	actions   ports.ActionStore
	tokens    ports.TokenStore
	emails    ports.EmailSender

	purgeSchedule cron.Schedule
	nextPurge     time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool // Prevents double-close of stopChan
}

// NewReminderService creates a new ReminderService
func NewReminderService(
	reminders ports.ReminderStore,
	store ports.WorkflowStore,
	actions ports.ActionStore,
	tokens ports.TokenStore,
	emails ports.EmailSender,
) (*ReminderService, error) {
	spec := os.Getenv("TOKEN_PURGE_SCHEDULE")
	if spec == "" {
		spec = constants.TokenPurgeSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid token purge schedule %q: %w", spec, err)
	}
	return &ReminderService{
		reminders:     reminders,
		store:         store,
		actions:       actions,
		tokens:        tokens,
		emails:        emails,
		purgeSchedule: schedule,
		nextPurge:     schedule.Next(time.Now().UTC()),
		stopChan:      make(chan struct{}),
	}, nil
}

// Schedule records a reminder for the step, due at the given time. A step
// already holding a reminder is left alone.
func (s *ReminderService) Schedule(ctx context.Context, wf *models.WorkflowInstance, step *models.StepInstance, dueAt time.Time) error {
	return s.reminders.Schedule(ctx, &models.ReminderJob{
		StepID:     step.ID,
		WorkflowID: wf.ID,
		DueAt:      dueAt,
		CreatedAt:  time.Now().UTC(),
	})
}

// Cancel drops the step's pending reminder, if any.
func (s *ReminderService) Cancel(ctx context.Context, stepID string) error {
	return s.reminders.Cancel(ctx, stepID)
}

// Start begins the reminder worker loop. Blocks until Stop is called.
func (s *ReminderService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Println("⏰ Reminder worker starting...")

	ticker := time.NewTicker(constants.ReminderPollInterval)
	defer ticker.Stop()

	s.runOnce()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopChan:
			log.Println("⏰ Reminder worker stopping...")
			s.wg.Wait()
			log.Println("⏰ Reminder worker stopped")
			return
		}
	}
}

// Stop gracefully stops the worker.
func (s *ReminderService) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
}

func (s *ReminderService) runOnce() {
	ctx := context.Background()
	now := time.Now().UTC()

	jobs, err := s.reminders.ClaimDue(ctx, now, 50)
	if err != nil {
		log.Printf("⚠️ Failed to claim due reminders: %v", err)
	}
	for _, job := range jobs {
		s.wg.Add(1)
		go func(j *models.ReminderJob) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("🔥 Panic firing reminder for step %s: %v", j.StepID, r)
				}
			}()
			s.fire(ctx, j)
		}(job)
	}

	if !now.Before(s.nextPurge) {
		purged, err := s.tokens.PurgeExpired(ctx, now)
		if err != nil {
			log.Printf("⚠️ Token purge failed: %v", err)
		} else if purged > 0 {
			log.Printf("🧹 Purged %d expired action tokens", purged)
		}
		s.nextPurge = s.purgeSchedule.Next(now)
	}
}

// fire reminds the validators of one step who have not decided yet. A step
// that settled between scheduling and firing is silently skipped.
func (s *ReminderService) fire(ctx context.Context, job *models.ReminderJob) {
	step, err := s.store.GetStep(ctx, job.StepID)
	if err != nil {
		log.Printf("⚠️ Failed to load step %s for reminder: %v", job.StepID, err)
		return
	}
	if step == nil || step.Status != models.StageInProgress {
		return
	}
	wf, err := s.store.GetWorkflow(ctx, job.WorkflowID)
	if err != nil || wf == nil {
		log.Printf("⚠️ Failed to load workflow %s for reminder: %v", job.WorkflowID, err)
		return
	}

	subject := fmt.Sprintf("Reminder: your decision is pending on %q", wf.Title)
	for _, email := range step.Validators {
		decided, err := s.actions.ExistsForActor(ctx, step.ID, step.Activation, email)
		if err != nil {
			log.Printf("⚠️ Failed to check pending decision for %s on step %s: %v", email, step.ID, err)
			continue
		}
		if decided {
			continue
		}
		body := fmt.Sprintf("The step %q of workflow %q is still waiting for your decision.", step.Name, wf.Title)
		if step.Deadline != nil {
			body += fmt.Sprintf(" The deadline is %s.", step.Deadline.Format(time.RFC1123))
		}
		if err := s.emails.Send(ctx, email, subject, body); err != nil {
			log.Printf("⚠️ Failed to send reminder to %s: %v", email, err)
		}
	}
}
