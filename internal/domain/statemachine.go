package domain

import (
	"fmt"

	"github.com/docflow/backend/internal/domain/models"
)

// Entity names used in transition errors.
const (
	EntityWorkflow = "workflow"
	EntityPhase    = "phase"
	EntityStep     = "step"
)

// InvalidTransitionError reports an attempted status change outside the
// static transition tables. If the orchestration engine is correct this never
// fires; callers surface it as a conflict.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

type transitionKey struct {
	from string
	to   string
}

// TransitionTable enforces valid status transitions for one entity kind.
// It is the only place transition legality is defined; the orchestration
// engine consults it before every status mutation.
type TransitionTable struct {
	entity  string
	allowed map[transitionKey]struct{}
}

func newTransitionTable(entity string) *TransitionTable {
	return &TransitionTable{
		entity:  entity,
		allowed: make(map[transitionKey]struct{}),
	}
}

func (t *TransitionTable) add(from, to string) {
	t.allowed[transitionKey{from: from, to: to}] = struct{}{}
}

// Validate succeeds when from -> to is a legal transition.
func (t *TransitionTable) Validate(from, to string) error {
	if _, ok := t.allowed[transitionKey{from: from, to: to}]; !ok {
		return &InvalidTransitionError{Entity: t.entity, From: from, To: to}
	}
	return nil
}

// CanTransition checks legality without building an error.
func (t *TransitionTable) CanTransition(from, to string) bool {
	_, ok := t.allowed[transitionKey{from: from, to: to}]
	return ok
}

// NewWorkflowTransitions builds the workflow lifecycle table.
//
//	DRAFT ──────► IN_PROGRESS ──► APPROVED ──┐
//	  │               │  └──────► REFUSED ───┼──► ARCHIVED
//	  └────────────┐  └──────────► CANCELLED ┘
//	               ▼
//	           CANCELLED
func NewWorkflowTransitions() *TransitionTable {
	t := newTransitionTable(EntityWorkflow)
	t.add(string(models.WorkflowDraft), string(models.WorkflowInProgress))
	t.add(string(models.WorkflowDraft), string(models.WorkflowCancelled))
	t.add(string(models.WorkflowInProgress), string(models.WorkflowApproved))
	t.add(string(models.WorkflowInProgress), string(models.WorkflowRefused))
	t.add(string(models.WorkflowInProgress), string(models.WorkflowCancelled))
	t.add(string(models.WorkflowApproved), string(models.WorkflowArchived))
	t.add(string(models.WorkflowRefused), string(models.WorkflowArchived))
	t.add(string(models.WorkflowCancelled), string(models.WorkflowArchived))
	return t
}

// NewStageTransitions builds the table shared by phases and steps. The
// APPROVED/REFUSED -> IN_PROGRESS edges are the reactivation path used by
// refusal routing: a refused phase sends control back to the previous phase,
// re-opening its last (approved) step for a fresh activation.
func NewStageTransitions(entity string) *TransitionTable {
	t := newTransitionTable(entity)
	t.add(string(models.StagePending), string(models.StageInProgress))
	t.add(string(models.StageInProgress), string(models.StageApproved))
	t.add(string(models.StageInProgress), string(models.StageRefused))
	t.add(string(models.StageApproved), string(models.StageInProgress))
	t.add(string(models.StageRefused), string(models.StageInProgress))
	return t
}

// IsWorkflowTerminal reports whether a workflow status admits no further
// decisions (ARCHIVED additionally forbids archiving again).
func IsWorkflowTerminal(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowApproved, models.WorkflowRefused, models.WorkflowCancelled, models.WorkflowArchived:
		return true
	}
	return false
}
