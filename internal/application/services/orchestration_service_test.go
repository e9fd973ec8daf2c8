package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/backend/internal/domain/models"
	apperrors "github.com/docflow/backend/pkg/errors"
)

var initiator = &models.UserSession{ID: "user-1", Name: "Ines", Email: "ines@example.com"}

func launch(t *testing.T, rig *testRig, structure models.CircuitStructure) *models.WorkflowInstance {
	t.Helper()
	wf, err := rig.svc.Launch(context.Background(), LaunchInput{Structure: structure}, initiator)
	require.NoError(t, err)
	return wf
}

func decide(rig *testRig, stepID, email string, decision models.Decision, comment string) (*DecisionResult, error) {
	return rig.svc.RecordDecision(context.Background(), DecisionInput{
		StepID:     stepID,
		ActorEmail: email,
		Decision:   decision,
		Comment:    comment,
	})
}

func TestLaunchActivatesFirstPhaseOnly(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())

	assert.Equal(t, models.WorkflowInProgress, wf.Status)
	assert.Equal(t, 0, wf.CurrentPhaseIndex)

	assert.Equal(t, models.StageInProgress, rig.phaseAt(wf.ID, 0).Status)
	assert.Equal(t, models.StagePending, rig.phaseAt(wf.ID, 1).Status)
	assert.Equal(t, models.StageInProgress, rig.stepAt(wf.ID, 0, 0).Status)
	assert.Equal(t, models.StagePending, rig.stepAt(wf.ID, 1, 0).Status)
	assert.Equal(t, 1, rig.stepAt(wf.ID, 0, 0).Activation)

	// Only the first phase's step was announced.
	assert.Len(t, rig.notifier.activated, 1)
	assert.Equal(t, rig.stepAt(wf.ID, 0, 0).ID, rig.notifier.activated[0])
}

func TestLaunchParallelPhaseActivatesAllSteps(t *testing.T) {
	rig := newTestRig()
	structure := models.CircuitStructure{
		Title: "Contract",
		Phases: []models.PhaseDefinition{
			{
				Order: 0,
				Name:  "Dual review",
				Steps: []models.StepDefinition{
					{Order: 0, Name: "Legal", Execution: models.ExecutionParallel,
						QuorumRule: models.QuorumUnanimity, Validators: []string{"legal@example.com"}},
					{Order: 1, Name: "Sales", Execution: models.ExecutionSequential,
						QuorumRule: models.QuorumUnanimity, Validators: []string{"sales@example.com"}},
				},
			},
		},
	}
	wf := launch(t, rig, structure)

	// One PARALLEL step makes the whole phase activate together.
	assert.Equal(t, models.StageInProgress, rig.stepAt(wf.ID, 0, 0).Status)
	assert.Equal(t, models.StageInProgress, rig.stepAt(wf.ID, 0, 1).Status)
	assert.Len(t, rig.notifier.activated, 2)
}

func TestLaunchSnapshotIsIndependentOfInput(t *testing.T) {
	rig := newTestRig()
	structure := sequentialTwoPhaseStructure()
	wf := launch(t, rig, structure)

	structure.Phases[0].Steps[0].Validators[0] = "intruder@example.com"
	structure.Phases[0].Name = "Tampered"

	stored := rig.workflow(wf.ID)
	assert.Equal(t, "Manager review", stored.Structure.Phases[0].Name)
	assert.Equal(t, []string{"manager@example.com"}, stored.Structure.Phases[0].Steps[0].Validators)
}

func TestLaunchRejectsInvalidStructure(t *testing.T) {
	rig := newTestRig()
	_, err := rig.svc.Launch(context.Background(), LaunchInput{
		Structure: models.CircuitStructure{Title: "Empty"},
	}, initiator)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSequentialAdvancementAcrossPhases(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	step0 := rig.stepAt(wf.ID, 0, 0)

	result, err := decide(rig, step0.ID, "manager@example.com", models.DecisionApprove, "looks good")
	require.NoError(t, err)

	assert.True(t, result.StepCompleted)
	assert.True(t, result.PhaseAdvanced)
	assert.False(t, result.WorkflowAdvanced)
	assert.Equal(t, models.WorkflowInProgress, result.WorkflowStatus)

	assert.Equal(t, models.StageApproved, rig.phaseAt(wf.ID, 0).Status)
	assert.Equal(t, models.StageInProgress, rig.phaseAt(wf.ID, 1).Status)
	assert.Equal(t, models.StageInProgress, rig.stepAt(wf.ID, 1, 0).Status)
	assert.Equal(t, 1, rig.workflow(wf.ID).CurrentPhaseIndex)

	require.Len(t, result.ActivatedSteps, 1)
	assert.Equal(t, rig.stepAt(wf.ID, 1, 0).ID, result.ActivatedSteps[0].ID)
}

func TestRefusalRoutesBackToPreviousPhase(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	step0 := rig.stepAt(wf.ID, 0, 0)

	_, err := decide(rig, step0.ID, "manager@example.com", models.DecisionApprove, "fine by me")
	require.NoError(t, err)

	step1 := rig.stepAt(wf.ID, 1, 0)
	result, err := decide(rig, step1.ID, "finance@example.com", models.DecisionRefuse, "budget exceeded")
	require.NoError(t, err)

	assert.True(t, result.StepCompleted)
	assert.Equal(t, models.StageRefused, result.StepStatus)
	assert.Equal(t, models.WorkflowInProgress, result.WorkflowStatus)

	assert.Equal(t, models.StageRefused, rig.phaseAt(wf.ID, 1).Status)
	assert.Equal(t, models.StageInProgress, rig.phaseAt(wf.ID, 0).Status)
	assert.Equal(t, 0, rig.workflow(wf.ID).CurrentPhaseIndex)

	reopened := rig.stepAt(wf.ID, 0, 0)
	assert.Equal(t, models.StageInProgress, reopened.Status)
	assert.Equal(t, 0, reopened.DecisionCount)
	assert.Equal(t, 2, reopened.Activation)

	// The manager's earlier approval is gone; they decide from scratch.
	actions, _ := rig.store.ListForStep(context.Background(), reopened.ID)
	assert.Empty(t, actions)

	require.Len(t, result.ActivatedSteps, 1)
	assert.Equal(t, reopened.ID, result.ActivatedSteps[0].ID)
}

func TestRefusalInFirstPhaseRefusesWorkflow(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	step0 := rig.stepAt(wf.ID, 0, 0)

	result, err := decide(rig, step0.ID, "manager@example.com", models.DecisionRefuse, "not this quarter")
	require.NoError(t, err)

	assert.True(t, result.WorkflowAdvanced)
	assert.Equal(t, models.WorkflowRefused, result.WorkflowStatus)
	assert.Equal(t, models.WorkflowRefused, rig.workflow(wf.ID).Status)
	assert.Empty(t, result.ActivatedSteps)
	assert.Equal(t, 1, rig.notifier.finished)
}

func TestMajorityStepCompletesWorkflow(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, parallelMajorityStructure())
	step := rig.stepAt(wf.ID, 0, 0)

	first, err := decide(rig, step.ID, "a@example.com", models.DecisionApprove, "yes")
	require.NoError(t, err)
	assert.False(t, first.StepCompleted)
	assert.Equal(t, models.StageInProgress, first.StepStatus)

	second, err := decide(rig, step.ID, "b@example.com", models.DecisionApprove, "yes")
	require.NoError(t, err)
	assert.True(t, second.StepCompleted)
	assert.True(t, second.WorkflowAdvanced)
	assert.Equal(t, models.WorkflowApproved, second.WorkflowStatus)
	assert.Equal(t, models.WorkflowApproved, rig.workflow(wf.ID).Status)
}

func TestMajorityDeadlockRefusesStep(t *testing.T) {
	rig := newTestRig()
	structure := parallelMajorityStructure()
	structure.Phases[0].Steps[0].Validators = []string{
		"a@example.com", "b@example.com", "c@example.com", "d@example.com",
	}
	wf := launch(t, rig, structure)
	step := rig.stepAt(wf.ID, 0, 0)

	for _, vote := range []struct {
		email    string
		decision models.Decision
	}{
		{"a@example.com", models.DecisionApprove},
		{"b@example.com", models.DecisionRefuse},
		{"c@example.com", models.DecisionApprove},
	} {
		_, err := decide(rig, step.ID, vote.email, vote.decision, "vote")
		require.NoError(t, err)
	}

	// 2-2 with nobody left: neither side can reach 3. Deadlock refuses.
	result, err := decide(rig, step.ID, "d@example.com", models.DecisionRefuse, "against")
	require.NoError(t, err)
	assert.Equal(t, models.StageRefused, result.StepStatus)
	assert.Equal(t, models.WorkflowRefused, result.WorkflowStatus)
}

func TestSequentialStepsProgressOneAtATime(t *testing.T) {
	rig := newTestRig()
	structure := models.CircuitStructure{
		Title: "Hiring",
		Phases: []models.PhaseDefinition{
			{
				Order: 0,
				Name:  "Interviews",
				Steps: []models.StepDefinition{
					{Order: 0, Name: "Screen", Execution: models.ExecutionSequential,
						QuorumRule: models.QuorumUnanimity, Validators: []string{"hr@example.com"}},
					{Order: 1, Name: "Tech", Execution: models.ExecutionSequential,
						QuorumRule: models.QuorumUnanimity, Validators: []string{"lead@example.com"}},
				},
			},
		},
	}
	wf := launch(t, rig, structure)

	assert.Equal(t, models.StagePending, rig.stepAt(wf.ID, 0, 1).Status)

	result, err := decide(rig, rig.stepAt(wf.ID, 0, 0).ID, "hr@example.com", models.DecisionApprove, "pass")
	require.NoError(t, err)

	assert.True(t, result.StepCompleted)
	assert.False(t, result.PhaseAdvanced)
	assert.Equal(t, models.StageInProgress, rig.phaseAt(wf.ID, 0).Status)
	assert.Equal(t, models.StageInProgress, rig.stepAt(wf.ID, 0, 1).Status)

	result, err = decide(rig, rig.stepAt(wf.ID, 0, 1).ID, "lead@example.com", models.DecisionApprove, "hire")
	require.NoError(t, err)
	assert.True(t, result.WorkflowAdvanced)
	assert.Equal(t, models.WorkflowApproved, rig.workflow(wf.ID).Status)
}

func TestDuplicateDecisionIsConflict(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, parallelMajorityStructure())
	step := rig.stepAt(wf.ID, 0, 0)

	_, err := decide(rig, step.ID, "a@example.com", models.DecisionApprove, "yes")
	require.NoError(t, err)

	_, err = decide(rig, step.ID, "a@example.com", models.DecisionRefuse, "changed my mind")
	assert.True(t, apperrors.IsConflict(err))
}

func TestDecisionOnSettledStepIsConflict(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	step := rig.stepAt(wf.ID, 0, 0)

	_, err := decide(rig, step.ID, "manager@example.com", models.DecisionApprove, "done")
	require.NoError(t, err)

	_, err = decide(rig, step.ID, "manager@example.com", models.DecisionApprove, "again")
	assert.True(t, apperrors.IsConflict(err))
}

func TestNonValidatorIsForbidden(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	step := rig.stepAt(wf.ID, 0, 0)

	_, err := decide(rig, step.ID, "stranger@example.com", models.DecisionApprove, "let me in")
	assert.True(t, apperrors.IsPermission(err))
}

func TestEmptyCommentIsInvalid(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	step := rig.stepAt(wf.ID, 0, 0)

	_, err := decide(rig, step.ID, "manager@example.com", models.DecisionApprove, "   ")
	assert.True(t, apperrors.IsValidation(err))
}

func TestUnknownStepIsNotFound(t *testing.T) {
	rig := newTestRig()
	_, err := decide(rig, "missing-step", "manager@example.com", models.DecisionApprove, "hello")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConcurrentDecisionsSettleExactlyOnce(t *testing.T) {
	rig := newTestRig()
	structure := models.CircuitStructure{
		Title: "Fast track",
		Phases: []models.PhaseDefinition{
			{
				Order: 0,
				Name:  "Any approver",
				Steps: []models.StepDefinition{
					{Order: 0, Name: "Approve", Execution: models.ExecutionParallel,
						QuorumRule: models.QuorumAnyOf, QuorumCount: intPtr(1),
						Validators: []string{"a@example.com", "b@example.com", "c@example.com"}},
				},
			},
		},
	}
	wf := launch(t, rig, structure)
	step := rig.stepAt(wf.ID, 0, 0)

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			_, err := decide(rig, step.ID, email, models.DecisionApprove, fmt.Sprintf("vote %d", i))
			results <- err
		}(i, email)
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case apperrors.IsConflict(err):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// ANY_OF(1): the first committed approval settles the step; the rest
	// must observe the settled step, not re-settle it.
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, conflicted)
	assert.Equal(t, models.WorkflowApproved, rig.workflow(wf.ID).Status)
	assert.Equal(t, 1, rig.notifier.finished)
}

func TestCancelByInitiator(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	ctx := context.Background()

	// Outstanding tokens must die with the workflow.
	step := rig.stepAt(wf.ID, 0, 0)
	_, err := rig.tokens.IssueTokensForStep(ctx, step)
	require.NoError(t, err)

	cancelled, err := rig.svc.Cancel(ctx, wf.ID, initiator)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCancelled, cancelled.Status)
	assert.Equal(t, 1, rig.notifier.cancelled)

	for _, token := range rig.store.tokens {
		assert.True(t, token.ExpiresAt.Before(time.Now().UTC()), "token should be expired")
	}

	_, err = decide(rig, step.ID, "manager@example.com", models.DecisionApprove, "too late")
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelByOutsiderIsForbidden(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())

	_, err := rig.svc.Cancel(context.Background(), wf.ID, &models.UserSession{ID: "someone-else"})
	assert.True(t, apperrors.IsPermission(err))
}

func TestCancelFinishedWorkflowIsConflict(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	_, err := rig.svc.Cancel(context.Background(), wf.ID, initiator)
	require.NoError(t, err)

	_, err = rig.svc.Cancel(context.Background(), wf.ID, initiator)
	assert.True(t, apperrors.IsConflict(err))
}

func TestArchiveTerminalWorkflow(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	ctx := context.Background()

	_, err := rig.svc.Archive(ctx, wf.ID, initiator)
	assert.True(t, apperrors.IsConflict(err), "an in-progress workflow cannot be archived")

	_, err = rig.svc.Cancel(ctx, wf.ID, initiator)
	require.NoError(t, err)

	archived, err := rig.svc.Archive(ctx, wf.ID, initiator)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowArchived, archived.Status)

	_, err = rig.svc.Archive(ctx, wf.ID, initiator)
	assert.True(t, apperrors.IsConflict(err), "archiving twice must fail")
}

func TestGetProgressAssemblesReadModel(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())
	ctx := context.Background()

	_, err := decide(rig, rig.stepAt(wf.ID, 0, 0).ID, "manager@example.com", models.DecisionApprove, "ok")
	require.NoError(t, err)

	progress, err := rig.svc.GetProgress(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, wf.ID, progress.Workflow.ID)
	require.Len(t, progress.Phases, 2)
	require.Len(t, progress.Phases[0].Steps, 1)
	require.Len(t, progress.Phases[0].Steps[0].Actions, 1)
	assert.Equal(t, "ok", progress.Phases[0].Steps[0].Actions[0].Comment)
	assert.NotEmpty(t, progress.History)
}

func TestReapprovalAfterRoutingReachesRefusedPhaseAgain(t *testing.T) {
	rig := newTestRig()
	wf := launch(t, rig, sequentialTwoPhaseStructure())

	_, err := decide(rig, rig.stepAt(wf.ID, 0, 0).ID, "manager@example.com", models.DecisionApprove, "v1")
	require.NoError(t, err)
	_, err = decide(rig, rig.stepAt(wf.ID, 1, 0).ID, "finance@example.com", models.DecisionRefuse, "too costly")
	require.NoError(t, err)

	// Second round: the manager re-approves, the refused phase reopens with
	// its step on a fresh activation.
	result, err := decide(rig, rig.stepAt(wf.ID, 0, 0).ID, "manager@example.com", models.DecisionApprove, "v2 cheaper")
	require.NoError(t, err)
	assert.True(t, result.PhaseAdvanced)

	financeStep := rig.stepAt(wf.ID, 1, 0)
	assert.Equal(t, models.StageInProgress, financeStep.Status)
	assert.Equal(t, 2, financeStep.Activation)
	assert.Equal(t, 0, financeStep.DecisionCount)
	assert.Equal(t, 1, rig.workflow(wf.ID).CurrentPhaseIndex)

	// And this time finance approves: the workflow completes.
	result, err = decide(rig, financeStep.ID, "finance@example.com", models.DecisionApprove, "within budget now")
	require.NoError(t, err)
	assert.True(t, result.WorkflowAdvanced)
	assert.Equal(t, models.WorkflowApproved, rig.workflow(wf.ID).Status)
}

func TestDeadlineSchedulesReminder(t *testing.T) {
	rig := newTestRig()
	structure := sequentialTwoPhaseStructure()
	structure.Phases[0].Steps[0].DeadlineOffsetHours = intPtr(72)
	wf := launch(t, rig, structure)

	step := rig.stepAt(wf.ID, 0, 0)
	require.NotNil(t, step.Deadline)

	rig.scheduler.mu.Lock()
	defer rig.scheduler.mu.Unlock()
	dueAt, ok := rig.scheduler.scheduled[step.ID]
	require.True(t, ok, "a reminder should have been scheduled")
	assert.True(t, dueAt.Before(*step.Deadline))
}
