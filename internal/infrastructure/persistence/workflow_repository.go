package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// WorkflowRepository persists workflow, phase and step instance rows.
// It implements ports.WorkflowStore; an open transaction in the context is
// honored by every call.
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a new WorkflowRepository
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = "id, title, status, current_phase_index, structure, initiator_id, document_ids, created_at, updated_at"

// CreateWorkflow inserts a workflow instance with its structure snapshot
// serialized as JSON.
func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, wf *models.WorkflowInstance) error {
	structureJSON, err := json.Marshal(wf.Structure)
	if err != nil {
		return fmt.Errorf("failed to marshal structure snapshot: %w", err)
	}
	documentsJSON, err := json.Marshal(wf.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal document ids: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		constants.TableWorkflow, workflowColumns)
	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		wf.ID, wf.Title, string(wf.Status), wf.CurrentPhaseIndex,
		string(structureJSON), wf.InitiatorID, string(documentsJSON),
		wf.CreatedAt, wf.UpdatedAt)
	return err
}

// CreatePhase inserts a phase instance row
func (r *WorkflowRepository) CreatePhase(ctx context.Context, phase *models.PhaseInstance) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, workflow_id, phase_order, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, constants.TablePhase)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		phase.ID, phase.WorkflowID, phase.Order, phase.Name, string(phase.Status),
		phase.CreatedAt, phase.UpdatedAt)
	return err
}

// CreateStep inserts a step instance row
func (r *WorkflowRepository) CreateStep(ctx context.Context, step *models.StepInstance) error {
	validatorsJSON, err := json.Marshal(step.Validators)
	if err != nil {
		return fmt.Errorf("failed to marshal validators: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, workflow_id, phase_id, step_order, name, status, execution, quorum_rule, quorum_count,
		 validators, decision_count, activation, deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableStep)
	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		step.ID, step.WorkflowID, step.PhaseID, step.Order, step.Name, string(step.Status),
		string(step.Execution), string(step.QuorumRule), step.QuorumCount,
		string(validatorsJSON), step.DecisionCount, step.Activation, step.Deadline,
		step.CreatedAt, step.UpdatedAt)
	return err
}

// GetWorkflow fetches a workflow instance by id, nil if absent.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, workflowColumns, constants.TableWorkflow)
	return r.scanWorkflow(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetWorkflowForUpdate fetches a workflow and locks its row for the
// remainder of the enclosing transaction.
func (r *WorkflowRepository) GetWorkflowForUpdate(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	tx := ExtractTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("transaction required for locking workflow %s", id)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? FOR UPDATE`, workflowColumns, constants.TableWorkflow)
	return r.scanWorkflow(tx.QueryRowContext(ctx, query, id))
}

const stepColumns = `id, workflow_id, phase_id, step_order, name, status, execution, quorum_rule,
	quorum_count, validators, decision_count, activation, deadline, created_at, updated_at`

// GetStepForUpdate fetches a step and locks its row (SELECT ... FOR UPDATE).
// This lock is what serializes concurrent decisions on the same step: the
// vote recount and the terminal transition both happen under it.
func (r *WorkflowRepository) GetStepForUpdate(ctx context.Context, id string) (*models.StepInstance, error) {
	tx := ExtractTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("transaction required for locking step %s", id)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? FOR UPDATE`, stepColumns, constants.TableStep)
	return r.scanStep(tx.QueryRowContext(ctx, query, id))
}

// GetStep fetches a step by id without locking, nil if absent.
func (r *WorkflowRepository) GetStep(ctx context.Context, id string) (*models.StepInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, stepColumns, constants.TableStep)
	return r.scanStep(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetPhase fetches a phase by id, nil if absent.
func (r *WorkflowRepository) GetPhase(ctx context.Context, id string) (*models.PhaseInstance, error) {
	query := fmt.Sprintf(`SELECT id, workflow_id, phase_order, name, status, created_at, updated_at
		FROM %s WHERE id = ?`, constants.TablePhase)
	return r.scanPhase(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetPhaseByOrder fetches the phase with the given order inside a workflow.
func (r *WorkflowRepository) GetPhaseByOrder(ctx context.Context, workflowID string, order int) (*models.PhaseInstance, error) {
	query := fmt.Sprintf(`SELECT id, workflow_id, phase_order, name, status, created_at, updated_at
		FROM %s WHERE workflow_id = ? AND phase_order = ?`, constants.TablePhase)
	return r.scanPhase(executorFor(ctx, r.db).QueryRowContext(ctx, query, workflowID, order))
}

// ListPhases returns a workflow's phases ordered by phase_order.
func (r *WorkflowRepository) ListPhases(ctx context.Context, workflowID string) ([]*models.PhaseInstance, error) {
	query := fmt.Sprintf(`SELECT id, workflow_id, phase_order, name, status, created_at, updated_at
		FROM %s WHERE workflow_id = ? ORDER BY phase_order ASC`, constants.TablePhase)
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []*models.PhaseInstance
	for rows.Next() {
		p := &models.PhaseInstance{}
		var status string
		if err := rows.Scan(&p.ID, &p.WorkflowID, &p.Order, &p.Name, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = models.StageStatus(status)
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// ListSteps returns a phase's steps ordered by step_order.
func (r *WorkflowRepository) ListSteps(ctx context.Context, phaseID string) ([]*models.StepInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE phase_id = ? ORDER BY step_order ASC`,
		stepColumns, constants.TableStep)
	return r.listSteps(ctx, query, phaseID)
}

// ListWorkflowSteps returns every step of a workflow ordered by phase then step.
func (r *WorkflowRepository) ListWorkflowSteps(ctx context.Context, workflowID string) ([]*models.StepInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE workflow_id = ? ORDER BY phase_id, step_order ASC`,
		stepColumns, constants.TableStep)
	return r.listSteps(ctx, query, workflowID)
}

// UpdateWorkflowStatus updates a workflow's status and current phase pointer.
func (r *WorkflowRepository) UpdateWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus, currentPhaseIndex int) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, current_phase_index = ?, updated_at = ? WHERE id = ?`,
		constants.TableWorkflow)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, string(status), currentPhaseIndex, time.Now().UTC(), id)
	return err
}

// UpdatePhaseStatus updates a phase's status.
func (r *WorkflowRepository) UpdatePhaseStatus(ctx context.Context, id string, status models.StageStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, constants.TablePhase)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	return err
}

// UpdateStepStatus updates a step's status.
func (r *WorkflowRepository) UpdateStepStatus(ctx context.Context, id string, status models.StageStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, constants.TableStep)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	return err
}

// ReactivateStep re-opens a step for a fresh activation: IN_PROGRESS status,
// decision counter reset, activation bumped. Action rows of the previous
// activation are deleted separately by the action repository.
func (r *WorkflowRepository) ReactivateStep(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, decision_count = 0, activation = activation + 1, updated_at = ? WHERE id = ?`,
		constants.TableStep)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, string(models.StageInProgress), time.Now().UTC(), id)
	return err
}

// IncrementDecisionCount bumps the denormalized decision counter.
func (r *WorkflowRepository) IncrementDecisionCount(ctx context.Context, stepID string) error {
	query := fmt.Sprintf(`UPDATE %s SET decision_count = decision_count + 1, updated_at = ? WHERE id = ?`,
		constants.TableStep)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, time.Now().UTC(), stepID)
	return err
}

// Scan helpers

func (r *WorkflowRepository) scanWorkflow(row *sql.Row) (*models.WorkflowInstance, error) {
	wf := &models.WorkflowInstance{}
	var status, structureJSON, documentsJSON string
	err := row.Scan(&wf.ID, &wf.Title, &status, &wf.CurrentPhaseIndex,
		&structureJSON, &wf.InitiatorID, &documentsJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wf.Status = models.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(structureJSON), &wf.Structure); err != nil {
		return nil, fmt.Errorf("corrupt structure snapshot for workflow %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal([]byte(documentsJSON), &wf.DocumentIDs); err != nil {
		return nil, fmt.Errorf("corrupt document ids for workflow %s: %w", wf.ID, err)
	}
	return wf, nil
}

func (r *WorkflowRepository) scanPhase(row *sql.Row) (*models.PhaseInstance, error) {
	p := &models.PhaseInstance{}
	var status string
	err := row.Scan(&p.ID, &p.WorkflowID, &p.Order, &p.Name, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = models.StageStatus(status)
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStepFrom(s rowScanner) (*models.StepInstance, error) {
	step := &models.StepInstance{}
	var status, execution, rule, validatorsJSON string
	var quorumCount sql.NullInt64
	var deadline sql.NullTime
	err := s.Scan(&step.ID, &step.WorkflowID, &step.PhaseID, &step.Order, &step.Name,
		&status, &execution, &rule, &quorumCount, &validatorsJSON,
		&step.DecisionCount, &step.Activation, &deadline, &step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return nil, err
	}
	step.Status = models.StageStatus(status)
	step.Execution = models.ExecutionMode(execution)
	step.QuorumRule = models.QuorumRule(rule)
	if quorumCount.Valid {
		count := int(quorumCount.Int64)
		step.QuorumCount = &count
	}
	if deadline.Valid {
		t := deadline.Time
		step.Deadline = &t
	}
	if err := json.Unmarshal([]byte(validatorsJSON), &step.Validators); err != nil {
		return nil, fmt.Errorf("corrupt validator list for step %s: %w", step.ID, err)
	}
	return step, nil
}

func (r *WorkflowRepository) scanStep(row *sql.Row) (*models.StepInstance, error) {
	step, err := scanStepFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return step, err
}

func (r *WorkflowRepository) listSteps(ctx context.Context, query string, arg interface{}) ([]*models.StepInstance, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.StepInstance
	for rows.Next() {
		step, err := scanStepFrom(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
