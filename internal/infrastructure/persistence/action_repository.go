package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// ActionRepository persists immutable decision records. These rows, not the
// cached decision counter, are the source of truth for quorum computation.
type ActionRepository struct {
	db *sql.DB
}

// NewActionRepository creates a new ActionRepository
func NewActionRepository(db *sql.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// Insert appends one decision record.
func (r *ActionRepository) Insert(ctx context.Context, action *models.WorkflowAction) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, step_id, activation, actor_email, actor_id, decision, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableWorkflowAction)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		action.ID, action.StepID, action.Activation, action.ActorEmail, action.ActorID,
		string(action.Decision), action.Comment, action.CreatedAt)
	return err
}

// CountByDecision recounts a step activation's votes from its action rows.
func (r *ActionRepository) CountByDecision(ctx context.Context, stepID string, activation int) (int, int, error) {
	query := fmt.Sprintf(`SELECT
		COALESCE(SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END), 0)
		FROM %s WHERE step_id = ? AND activation = ?`, constants.TableWorkflowAction)

	var approvals, refusals int
	err := executorFor(ctx, r.db).QueryRowContext(ctx, query,
		string(models.DecisionApprove), string(models.DecisionRefuse), stepID, activation).
		Scan(&approvals, &refusals)
	if err != nil {
		return 0, 0, err
	}
	return approvals, refusals, nil
}

// ExistsForActor reports whether the actor already decided on this activation.
func (r *ActionRepository) ExistsForActor(ctx context.Context, stepID string, activation int, actorEmail string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE step_id = ? AND activation = ? AND actor_email = ?)`,
		constants.TableWorkflowAction)
	var exists bool
	err := executorFor(ctx, r.db).QueryRowContext(ctx, query, stepID, activation, actorEmail).Scan(&exists)
	return exists, err
}

// DeleteForStep clears every action recorded against a step. Called when
// refusal routing re-opens the step: validators re-decide from scratch.
func (r *ActionRepository) DeleteForStep(ctx context.Context, stepID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE step_id = ?`, constants.TableWorkflowAction)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, stepID)
	return err
}

// ListForStep returns a step's actions in decision order.
func (r *ActionRepository) ListForStep(ctx context.Context, stepID string) ([]*models.WorkflowAction, error) {
	query := fmt.Sprintf(`SELECT id, step_id, activation, actor_email, actor_id, decision, comment, created_at
		FROM %s WHERE step_id = ? ORDER BY created_at ASC`, constants.TableWorkflowAction)
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*models.WorkflowAction
	for rows.Next() {
		a := &models.WorkflowAction{}
		var decision string
		var actorID sql.NullString
		if err := rows.Scan(&a.ID, &a.StepID, &a.Activation, &a.ActorEmail, &actorID,
			&decision, &a.Comment, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Decision = models.Decision(decision)
		if actorID.Valid {
			id := actorID.String
			a.ActorID = &id
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
