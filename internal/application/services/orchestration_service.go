package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/docflow/backend/internal/domain"
	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/pkg/constants"
	apperrors "github.com/docflow/backend/pkg/errors"
	"github.com/docflow/backend/pkg/utils"
)

// OrchestrationService is the stateful core of the approval engine. It owns
// every status mutation on workflows, phases and steps: launching, recording
// decisions, refusal routing, advancement, cancellation and archiving. All
// authoritative writes of one operation happen inside a single transaction;
// notifications and reminder scheduling run strictly after commit.
type OrchestrationService struct {
	transactor ports.Transactor
	store      ports.WorkflowStore
	actions    ports.ActionStore
	tokens     ports.TokenStore
	audit      ports.AuditStore
	notifier   ports.Notifier
	reminders  ports.ReminderScheduler

	workflowTransitions *domain.TransitionTable
	phaseTransitions    *domain.TransitionTable
	stepTransitions     *domain.TransitionTable
}

// NewOrchestrationService creates a new OrchestrationService
func NewOrchestrationService(
	transactor ports.Transactor,
	store ports.WorkflowStore,
	actions ports.ActionStore,
	tokens ports.TokenStore,
	audit ports.AuditStore,
	notifier ports.Notifier,
	reminders ports.ReminderScheduler,
) *OrchestrationService {
	return &OrchestrationService{
		transactor:          transactor,
		store:               store,
		actions:             actions,
		tokens:              tokens,
		audit:               audit,
		notifier:            notifier,
		reminders:           reminders,
		workflowTransitions: domain.NewWorkflowTransitions(),
		phaseTransitions:    domain.NewStageTransitions(domain.EntityPhase),
		stepTransitions:     domain.NewStageTransitions(domain.EntityStep),
	}
}

// LaunchInput is the input for launching a workflow instance.
type LaunchInput struct {
	Structure   models.CircuitStructure
	Title       string
	DocumentIDs []string
}

// DecisionInput is one validator's decision on a step.
type DecisionInput struct {
	StepID     string
	ActorEmail string
	ActorID    *string
	Decision   models.Decision
	Comment    string
}

// DecisionResult reports what a recorded decision changed.
type DecisionResult struct {
	StepID           string                 `json:"step_id"`
	StepStatus       models.StageStatus     `json:"step_status"`
	StepCompleted    bool                   `json:"step_completed"`
	PhaseAdvanced    bool                   `json:"phase_advanced"`
	WorkflowAdvanced bool                   `json:"workflow_advanced"`
	WorkflowStatus   models.WorkflowStatus  `json:"workflow_status"`
	ActivatedSteps   []*models.StepInstance `json:"activated_steps,omitempty"`
}

// sideEffects collects everything that must be dispatched after the owning
// transaction commits. Nothing in here touches authoritative state.
type sideEffects struct {
	wf        *models.WorkflowInstance
	activated []*models.StepInstance
	settled   []string
	finished  bool
	cancelled bool
}

// Launch creates a workflow instance from a circuit structure and activates
// its first phase. The instance keeps an independent deep copy of the
// structure: template edits after launch never reach it.
func (s *OrchestrationService) Launch(ctx context.Context, in LaunchInput, user *models.UserSession) (*models.WorkflowInstance, error) {
	if err := ValidateCircuitStructure(&in.Structure); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.Structure.Title
	}
	if title == "" {
		return nil, apperrors.NewValidationError("title", "title is required")
	}

	now := time.Now().UTC()
	wf := &models.WorkflowInstance{
		ID:                utils.GenerateID(),
		Title:             title,
		Status:            models.WorkflowInProgress,
		CurrentPhaseIndex: 0,
		Structure:         in.Structure.Clone(),
		InitiatorID:       user.ID,
		DocumentIDs:       in.DocumentIDs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	fx := &sideEffects{wf: wf}
	err := s.transactor.RunInTransaction(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateWorkflow(txCtx, wf); err != nil {
			return err
		}
		for _, phaseDef := range wf.Structure.Phases {
			phaseStatus := models.StagePending
			if phaseDef.Order == 0 {
				phaseStatus = models.StageInProgress
			}
			phase := &models.PhaseInstance{
				ID:         utils.GenerateID(),
				WorkflowID: wf.ID,
				Order:      phaseDef.Order,
				Name:       phaseDef.Name,
				Status:     phaseStatus,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.store.CreatePhase(txCtx, phase); err != nil {
				return err
			}

			parallel := phaseDef.HasParallelStep()
			for _, stepDef := range phaseDef.Steps {
				active := phaseDef.Order == 0 && (parallel || stepDef.Order == 0)
				stepStatus := models.StagePending
				if active {
					stepStatus = models.StageInProgress
				}
				step := &models.StepInstance{
					ID:          utils.GenerateID(),
					WorkflowID:  wf.ID,
					PhaseID:     phase.ID,
					Order:       stepDef.Order,
					Name:        stepDef.Name,
					Status:      stepStatus,
					Execution:   stepDef.Execution,
					QuorumRule:  stepDef.QuorumRule,
					QuorumCount: stepDef.QuorumCount,
					Validators:  stepDef.Validators,
					Activation:  1,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if stepDef.DeadlineOffsetHours != nil {
					deadline := now.Add(time.Duration(*stepDef.DeadlineOffsetHours) * time.Hour)
					step.Deadline = &deadline
				}
				if err := s.store.CreateStep(txCtx, step); err != nil {
					return err
				}
				if active {
					fx.activated = append(fx.activated, step)
				}
			}
		}
		return s.appendAudit(txCtx, wf.ID, nil, models.AuditLaunched, user, fmt.Sprintf("launched with %d phases", len(wf.Structure.Phases)))
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, fx)
	return wf, nil
}

// RecordDecision records one validator's vote on a step and, when the vote
// settles the step, runs refusal routing or advancement. The whole mutation
// is one transaction; concurrent decisions on the same step serialize on the
// step's row lock.
func (s *OrchestrationService) RecordDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error) {
	if strings.TrimSpace(in.Comment) == "" {
		return nil, apperrors.NewValidationError("comment", "a comment is required")
	}
	if in.Decision != models.DecisionApprove && in.Decision != models.DecisionRefuse {
		return nil, apperrors.NewValidationError("decision", "decision must be APPROVE or REFUSE")
	}

	var result *DecisionResult
	var fx *sideEffects
	err := s.transactor.RunInTransaction(ctx, func(txCtx context.Context) error {
		r, effects, err := s.recordDecisionTx(txCtx, in)
		if err != nil {
			return err
		}
		result = r
		fx = effects
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, fx)
	return result, nil
}

// recordDecisionTx is the transactional body of RecordDecision. Token-based
// resolution reuses it inside the transaction that consumes the token.
func (s *OrchestrationService) recordDecisionTx(txCtx context.Context, in DecisionInput) (*DecisionResult, *sideEffects, error) {
	step, err := s.store.GetStepForUpdate(txCtx, in.StepID)
	if err != nil {
		return nil, nil, err
	}
	if step == nil {
		return nil, nil, apperrors.NewNotFoundError("step", in.StepID)
	}

	wf, err := s.store.GetWorkflowForUpdate(txCtx, step.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil {
		return nil, nil, apperrors.NewNotFoundError("workflow", step.WorkflowID)
	}
	if wf.Status != models.WorkflowInProgress {
		return nil, nil, apperrors.NewConflictError("workflow", "workflow is not accepting decisions")
	}

	phase, err := s.store.GetPhase(txCtx, step.PhaseID)
	if err != nil {
		return nil, nil, err
	}
	if phase == nil {
		return nil, nil, apperrors.NewNotFoundError("phase", step.PhaseID)
	}
	if phase.Status != models.StageInProgress {
		return nil, nil, apperrors.NewConflictError("phase", "phase is not in progress")
	}
	if step.Status != models.StageInProgress {
		return nil, nil, apperrors.NewConflictError("step", "step is already decided")
	}
	if !step.HasValidator(in.ActorEmail) {
		return nil, nil, apperrors.NewPermissionError("decide on", "step")
	}

	exists, err := s.actions.ExistsForActor(txCtx, step.ID, step.Activation, in.ActorEmail)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, apperrors.NewConflictError("decision", "validator has already decided on this step")
	}

	now := time.Now().UTC()
	action := &models.WorkflowAction{
		ID:         utils.GenerateID(),
		StepID:     step.ID,
		Activation: step.Activation,
		ActorEmail: in.ActorEmail,
		ActorID:    in.ActorID,
		Decision:   in.Decision,
		Comment:    in.Comment,
		CreatedAt:  now,
	}
	if err := s.actions.Insert(txCtx, action); err != nil {
		return nil, nil, err
	}
	if err := s.store.IncrementDecisionCount(txCtx, step.ID); err != nil {
		return nil, nil, err
	}

	// Quorum math always recounts the action rows; the counter above is a
	// display value only.
	approvals, refusals, err := s.actions.CountByDecision(txCtx, step.ID, step.Activation)
	if err != nil {
		return nil, nil, err
	}
	outcome := domain.EvaluateQuorum(step.QuorumRule, len(step.Validators), approvals, refusals, step.QuorumCount)

	result := &DecisionResult{
		StepID:         step.ID,
		StepStatus:     outcome,
		WorkflowStatus: wf.Status,
	}
	fx := &sideEffects{wf: wf}

	actor := &models.UserSession{Email: in.ActorEmail}
	if in.ActorID != nil {
		actor.ID = *in.ActorID
	}
	detail := fmt.Sprintf("%s by %s", in.Decision, in.ActorEmail)
	if err := s.appendAudit(txCtx, wf.ID, &step.ID, models.AuditDecision, actor, detail); err != nil {
		return nil, nil, err
	}

	if outcome == models.StageInProgress {
		return result, fx, nil
	}

	if err := s.stepTransitions.Validate(string(step.Status), string(outcome)); err != nil {
		return nil, nil, err
	}
	if err := s.store.UpdateStepStatus(txCtx, step.ID, outcome); err != nil {
		return nil, nil, err
	}
	step.Status = outcome
	result.StepCompleted = true
	fx.settled = append(fx.settled, step.ID)

	// A settled step's outstanding email links must stop working.
	if err := s.tokens.ExpireForStep(txCtx, step.ID, now); err != nil {
		return nil, nil, err
	}

	if outcome == models.StageRefused {
		err = s.routeRefusal(txCtx, wf, phase, actor, result, fx, now)
	} else {
		err = s.advance(txCtx, wf, phase, actor, result, fx, now)
	}
	if err != nil {
		return nil, nil, err
	}

	result.WorkflowStatus = wf.Status
	return result, fx, nil
}

// routeRefusal handles a step landing on REFUSED: the containing phase is
// refused, and control falls back to the previous phase by reactivating its
// last step for a fresh round of decisions. A refusal in the first phase
// refuses the whole workflow.
func (s *OrchestrationService) routeRefusal(
	txCtx context.Context,
	wf *models.WorkflowInstance,
	phase *models.PhaseInstance,
	actor *models.UserSession,
	result *DecisionResult,
	fx *sideEffects,
	now time.Time,
) error {
	if err := s.phaseTransitions.Validate(string(phase.Status), string(models.StageRefused)); err != nil {
		return err
	}
	if err := s.store.UpdatePhaseStatus(txCtx, phase.ID, models.StageRefused); err != nil {
		return err
	}
	phase.Status = models.StageRefused

	prev := domain.PreviousPhaseIndex(phase.Order)
	if prev < 0 {
		if err := s.workflowTransitions.Validate(string(wf.Status), string(models.WorkflowRefused)); err != nil {
			return err
		}
		if err := s.store.UpdateWorkflowStatus(txCtx, wf.ID, models.WorkflowRefused, wf.CurrentPhaseIndex); err != nil {
			return err
		}
		wf.Status = models.WorkflowRefused
		result.WorkflowAdvanced = true
		fx.finished = true
		return nil
	}

	prevPhase, err := s.store.GetPhaseByOrder(txCtx, wf.ID, prev)
	if err != nil {
		return err
	}
	if prevPhase == nil {
		return apperrors.NewInternalError(fmt.Sprintf("workflow %s has no phase at order %d", wf.ID, prev), nil)
	}
	if err := s.phaseTransitions.Validate(string(prevPhase.Status), string(models.StageInProgress)); err != nil {
		return err
	}
	if err := s.store.UpdatePhaseStatus(txCtx, prevPhase.ID, models.StageInProgress); err != nil {
		return err
	}
	prevPhase.Status = models.StageInProgress

	steps, err := s.store.ListSteps(txCtx, prevPhase.ID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return apperrors.NewInternalError(fmt.Sprintf("phase %s has no steps", prevPhase.ID), nil)
	}
	last := steps[len(steps)-1]
	if err := s.reactivateStep(txCtx, last, now); err != nil {
		return err
	}
	fx.activated = append(fx.activated, last)
	result.ActivatedSteps = append(result.ActivatedSteps, last)

	if err := s.store.UpdateWorkflowStatus(txCtx, wf.ID, wf.Status, prev); err != nil {
		return err
	}
	wf.CurrentPhaseIndex = prev

	detail := fmt.Sprintf("phase %d refused, step %s of phase %d reopened", phase.Order, last.Name, prev)
	return s.appendAudit(txCtx, wf.ID, &last.ID, models.AuditReactivated, actor, detail)
}

// advance handles a step landing on APPROVED: complete the phase when all of
// its steps are approved and open the next phase (or finish the workflow),
// otherwise keep a sequential phase moving by activating its next pending
// step.
func (s *OrchestrationService) advance(
	txCtx context.Context,
	wf *models.WorkflowInstance,
	phase *models.PhaseInstance,
	actor *models.UserSession,
	result *DecisionResult,
	fx *sideEffects,
	now time.Time,
) error {
	steps, err := s.store.ListSteps(txCtx, phase.ID)
	if err != nil {
		return err
	}
	statuses := make([]models.StageStatus, len(steps))
	for i, st := range steps {
		statuses[i] = st.Status
	}

	switch domain.EvaluatePhaseCompletion(statuses) {
	case models.StageApproved:
		if err := s.phaseTransitions.Validate(string(phase.Status), string(models.StageApproved)); err != nil {
			return err
		}
		if err := s.store.UpdatePhaseStatus(txCtx, phase.ID, models.StageApproved); err != nil {
			return err
		}
		phase.Status = models.StageApproved
		result.PhaseAdvanced = true

		next, err := s.store.GetPhaseByOrder(txCtx, wf.ID, phase.Order+1)
		if err != nil {
			return err
		}
		if next == nil {
			if err := s.workflowTransitions.Validate(string(wf.Status), string(models.WorkflowApproved)); err != nil {
				return err
			}
			if err := s.store.UpdateWorkflowStatus(txCtx, wf.ID, models.WorkflowApproved, wf.CurrentPhaseIndex); err != nil {
				return err
			}
			wf.Status = models.WorkflowApproved
			result.WorkflowAdvanced = true
			fx.finished = true
			return s.appendAudit(txCtx, wf.ID, nil, models.AuditAdvanced, actor, "all phases approved, workflow approved")
		}

		if err := s.activatePhase(txCtx, next, result, fx, now); err != nil {
			return err
		}
		if err := s.store.UpdateWorkflowStatus(txCtx, wf.ID, wf.Status, next.Order); err != nil {
			return err
		}
		wf.CurrentPhaseIndex = next.Order
		detail := fmt.Sprintf("phase %d approved, phase %d opened", phase.Order, next.Order)
		return s.appendAudit(txCtx, wf.ID, nil, models.AuditAdvanced, actor, detail)

	case models.StageInProgress:
		// A parallel phase already activated every step together; only a
		// sequential phase progresses one step at a time.
		if hasParallelStep(steps) {
			return nil
		}
		for _, st := range steps {
			if st.Status != models.StagePending {
				continue
			}
			if err := s.stepTransitions.Validate(string(st.Status), string(models.StageInProgress)); err != nil {
				return err
			}
			if err := s.store.UpdateStepStatus(txCtx, st.ID, models.StageInProgress); err != nil {
				return err
			}
			st.Status = models.StageInProgress
			fx.activated = append(fx.activated, st)
			result.ActivatedSteps = append(result.ActivatedSteps, st)
			break
		}
		return nil
	}

	// EvaluatePhaseCompletion cannot refuse a phase off an approved step.
	return nil
}

// activatePhase opens a phase and activates its steps: all of them when any
// step is PARALLEL, only the first otherwise. Re-entering a previously
// refused phase reactivates the target steps with a fresh activation.
func (s *OrchestrationService) activatePhase(
	txCtx context.Context,
	phase *models.PhaseInstance,
	result *DecisionResult,
	fx *sideEffects,
	now time.Time,
) error {
	if err := s.phaseTransitions.Validate(string(phase.Status), string(models.StageInProgress)); err != nil {
		return err
	}
	if err := s.store.UpdatePhaseStatus(txCtx, phase.ID, models.StageInProgress); err != nil {
		return err
	}
	phase.Status = models.StageInProgress

	steps, err := s.store.ListSteps(txCtx, phase.ID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return apperrors.NewInternalError(fmt.Sprintf("phase %s has no steps", phase.ID), nil)
	}

	targets := steps[:1]
	if hasParallelStep(steps) {
		targets = steps
	}
	for _, st := range targets {
		switch st.Status {
		case models.StageInProgress:
			continue
		case models.StagePending:
			if err := s.stepTransitions.Validate(string(st.Status), string(models.StageInProgress)); err != nil {
				return err
			}
			if err := s.store.UpdateStepStatus(txCtx, st.ID, models.StageInProgress); err != nil {
				return err
			}
			st.Status = models.StageInProgress
		default:
			if err := s.reactivateStep(txCtx, st, now); err != nil {
				return err
			}
		}
		fx.activated = append(fx.activated, st)
		result.ActivatedSteps = append(result.ActivatedSteps, st)
	}
	return nil
}

// reactivateStep gives a previously settled step a fresh lifecycle: status
// back to IN_PROGRESS, counter reset, activation bumped, prior actions
// deleted and outstanding tokens killed. Validators re-decide from scratch.
func (s *OrchestrationService) reactivateStep(txCtx context.Context, st *models.StepInstance, now time.Time) error {
	if err := s.stepTransitions.Validate(string(st.Status), string(models.StageInProgress)); err != nil {
		return err
	}
	if err := s.store.ReactivateStep(txCtx, st.ID); err != nil {
		return err
	}
	if err := s.actions.DeleteForStep(txCtx, st.ID); err != nil {
		return err
	}
	if err := s.tokens.ExpireForStep(txCtx, st.ID, now); err != nil {
		return err
	}
	st.Status = models.StageInProgress
	st.DecisionCount = 0
	st.Activation++
	return nil
}

// Cancel stops an in-progress workflow. Initiator-only; outstanding tokens
// for all of its steps are expired in the same transaction.
func (s *OrchestrationService) Cancel(ctx context.Context, workflowID string, user *models.UserSession) (*models.WorkflowInstance, error) {
	var fx *sideEffects
	var wf *models.WorkflowInstance
	err := s.transactor.RunInTransaction(ctx, func(txCtx context.Context) error {
		var err error
		wf, err = s.store.GetWorkflowForUpdate(txCtx, workflowID)
		if err != nil {
			return err
		}
		if wf == nil {
			return apperrors.NewNotFoundError("workflow", workflowID)
		}
		if wf.InitiatorID != user.ID {
			return apperrors.NewPermissionError("cancel", "workflow")
		}
		if wf.Status != models.WorkflowInProgress {
			return apperrors.NewConflictError("workflow", "only an in-progress workflow can be cancelled")
		}
		if err := s.workflowTransitions.Validate(string(wf.Status), string(models.WorkflowCancelled)); err != nil {
			return err
		}
		if err := s.store.UpdateWorkflowStatus(txCtx, wf.ID, models.WorkflowCancelled, wf.CurrentPhaseIndex); err != nil {
			return err
		}
		wf.Status = models.WorkflowCancelled
		if err := s.tokens.ExpireForWorkflow(txCtx, wf.ID, time.Now().UTC()); err != nil {
			return err
		}
		fx = &sideEffects{wf: wf, cancelled: true}
		return s.appendAudit(txCtx, wf.ID, nil, models.AuditCancelled, user, "cancelled by initiator")
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, fx)
	return wf, nil
}

// Archive moves a terminal workflow into its read-only archived state.
// Initiator-only.
func (s *OrchestrationService) Archive(ctx context.Context, workflowID string, user *models.UserSession) (*models.WorkflowInstance, error) {
	var wf *models.WorkflowInstance
	err := s.transactor.RunInTransaction(ctx, func(txCtx context.Context) error {
		var err error
		wf, err = s.store.GetWorkflowForUpdate(txCtx, workflowID)
		if err != nil {
			return err
		}
		if wf == nil {
			return apperrors.NewNotFoundError("workflow", workflowID)
		}
		if wf.InitiatorID != user.ID {
			return apperrors.NewPermissionError("archive", "workflow")
		}
		if !s.workflowTransitions.CanTransition(string(wf.Status), string(models.WorkflowArchived)) {
			return apperrors.NewConflictError("workflow", "only a finished workflow can be archived")
		}
		if err := s.store.UpdateWorkflowStatus(txCtx, wf.ID, models.WorkflowArchived, wf.CurrentPhaseIndex); err != nil {
			return err
		}
		wf.Status = models.WorkflowArchived
		return s.appendAudit(txCtx, wf.ID, nil, models.AuditArchived, user, "archived by initiator")
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// StepProgress is one step with its recorded decisions.
type StepProgress struct {
	Step    *models.StepInstance     `json:"step"`
	Actions []*models.WorkflowAction `json:"actions"`
}

// PhaseProgress is one phase with its steps.
type PhaseProgress struct {
	Phase *models.PhaseInstance `json:"phase"`
	Steps []*StepProgress       `json:"steps"`
}

// WorkflowProgress is the full read model of one workflow instance.
type WorkflowProgress struct {
	Workflow *models.WorkflowInstance `json:"workflow"`
	Phases   []*PhaseProgress         `json:"phases"`
	History  []*models.AuditEntry     `json:"history"`
}

// GetProgress assembles the read model of a workflow: phases, steps, their
// recorded actions and the audit history.
func (s *OrchestrationService) GetProgress(ctx context.Context, workflowID string) (*WorkflowProgress, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, apperrors.NewNotFoundError("workflow", workflowID)
	}

	phases, err := s.store.ListPhases(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	progress := &WorkflowProgress{Workflow: wf}
	for _, phase := range phases {
		steps, err := s.store.ListSteps(ctx, phase.ID)
		if err != nil {
			return nil, err
		}
		pp := &PhaseProgress{Phase: phase}
		for _, st := range steps {
			actions, err := s.actions.ListForStep(ctx, st.ID)
			if err != nil {
				return nil, err
			}
			pp.Steps = append(pp.Steps, &StepProgress{Step: st, Actions: actions})
		}
		progress.Phases = append(progress.Phases, pp)
	}

	history, err := s.audit.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	progress.History = history
	return progress, nil
}

// dispatch runs post-commit side effects. Failures are logged and swallowed:
// a lost notification or reminder never invalidates a committed decision.
func (s *OrchestrationService) dispatch(ctx context.Context, fx *sideEffects) {
	if fx == nil {
		return
	}
	for _, stepID := range fx.settled {
		if err := s.reminders.Cancel(ctx, stepID); err != nil {
			log.Printf("⚠️ Failed to cancel reminder for step %s: %v", stepID, err)
		}
	}
	for _, st := range fx.activated {
		s.notifier.StepActivated(ctx, fx.wf, st)
		if st.Deadline == nil {
			continue
		}
		dueAt := st.Deadline.Add(-constants.ReminderOffset)
		if err := s.reminders.Schedule(ctx, fx.wf, st, dueAt); err != nil {
			log.Printf("⚠️ Failed to schedule reminder for step %s: %v", st.ID, err)
		}
	}
	if fx.finished {
		s.notifier.WorkflowFinished(ctx, fx.wf)
	}
	if fx.cancelled {
		s.notifier.WorkflowCancelled(ctx, fx.wf)
	}
}

func (s *OrchestrationService) appendAudit(txCtx context.Context, workflowID string, stepID *string, action string, user *models.UserSession, detail string) error {
	entry := &models.AuditEntry{
		ID:         utils.GenerateID(),
		WorkflowID: workflowID,
		StepID:     stepID,
		Action:     action,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if user != nil {
		if user.ID != "" {
			id := user.ID
			entry.ActorID = &id
		}
		if user.Email != "" {
			email := user.Email
			entry.ActorEmail = &email
		}
	}
	return s.audit.Append(txCtx, entry)
}

func hasParallelStep(steps []*models.StepInstance) bool {
	for _, st := range steps {
		if st.Execution == models.ExecutionParallel {
			return true
		}
	}
	return false
}
