package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// ReminderRepository persists deadline reminder jobs keyed by step id.
type ReminderRepository struct {
	db *sql.DB
}

// NewReminderRepository creates a new ReminderRepository
func NewReminderRepository(db *sql.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Schedule inserts a reminder job. Scheduling an already-scheduled step is a
// no-op (INSERT IGNORE against the step_id primary key), which makes retries
// after partial dispatch harmless.
func (r *ReminderRepository) Schedule(ctx context.Context, job *models.ReminderJob) error {
	query := fmt.Sprintf(`INSERT IGNORE INTO %s (step_id, workflow_id, due_at, fired_at, created_at)
		VALUES (?, ?, ?, NULL, ?)`, constants.TableReminderJob)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		job.StepID, job.WorkflowID, job.DueAt, job.CreatedAt)
	return err
}

// Cancel removes the reminder for a step, if any.
func (r *ReminderRepository) Cancel(ctx context.Context, stepID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE step_id = ?`, constants.TableReminderJob)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, stepID)
	return err
}

// ClaimDue atomically marks due, unfired jobs as fired and returns them.
// The conditional UPDATE keeps two workers from firing the same reminder.
func (r *ReminderRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ReminderJob, error) {
	if limit <= 0 {
		limit = 50
	}
	selectQuery := fmt.Sprintf(`SELECT step_id, workflow_id, due_at, fired_at, created_at
		FROM %s WHERE due_at <= ? AND fired_at IS NULL ORDER BY due_at ASC LIMIT ?`, constants.TableReminderJob)
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, selectQuery, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*models.ReminderJob
	for rows.Next() {
		j := &models.ReminderJob{}
		var firedAt sql.NullTime
		if err := rows.Scan(&j.StepID, &j.WorkflowID, &j.DueAt, &firedAt, &j.CreatedAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimQuery := fmt.Sprintf(`UPDATE %s SET fired_at = ? WHERE step_id = ? AND fired_at IS NULL`,
		constants.TableReminderJob)
	var claimed []*models.ReminderJob
	for _, j := range candidates {
		result, err := executorFor(ctx, r.db).ExecContext(ctx, claimQuery, now, j.StepID)
		if err != nil {
			return claimed, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if affected > 0 {
			fired := now
			j.FiredAt = &fired
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}
