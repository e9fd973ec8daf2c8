package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// AuditRepository appends immutable orchestration audit records. Entries are
// written inside the same transaction as the state change they describe.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, workflow_id, step_id, action, actor_id, actor_email, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableAuditEntry)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		entry.ID, entry.WorkflowID, entry.StepID, entry.Action,
		entry.ActorID, entry.ActorEmail, entry.Detail, entry.CreatedAt)
	return err
}

// ListForWorkflow returns a workflow's audit trail, oldest first.
func (r *AuditRepository) ListForWorkflow(ctx context.Context, workflowID string) ([]*models.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT id, workflow_id, step_id, action, actor_id, actor_email, detail, created_at
		FROM %s WHERE workflow_id = ? ORDER BY created_at ASC`, constants.TableAuditEntry)
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var stepID, actorID, actorEmail sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &stepID, &e.Action, &actorID, &actorEmail, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if stepID.Valid {
			s := stepID.String
			e.StepID = &s
		}
		if actorID.Valid {
			a := actorID.String
			e.ActorID = &a
		}
		if actorEmail.Valid {
			a := actorEmail.String
			e.ActorEmail = &a
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
