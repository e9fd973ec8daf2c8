package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// TokenRepository persists single-use decision tokens. Rows carry only the
// SHA-256 digest of the secret; the raw secret lives exclusively in the
// emailed link.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores one issued token.
func (r *TokenRepository) Insert(ctx context.Context, token *models.ActionToken) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, workflow_id, step_id, activation, validator_email, decision, secret_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableActionToken)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		token.ID, token.WorkflowID, token.StepID, token.Activation, token.ValidatorEmail,
		string(token.Decision), token.SecretHash, token.ExpiresAt, token.UsedAt, token.CreatedAt)
	return err
}

// FindByHash looks a token up by secret digest, nil if absent.
func (r *TokenRepository) FindByHash(ctx context.Context, secretHash string) (*models.ActionToken, error) {
	query := fmt.Sprintf(`SELECT id, workflow_id, step_id, activation, validator_email, decision,
		secret_hash, expires_at, used_at, created_at
		FROM %s WHERE secret_hash = ?`, constants.TableActionToken)

	t := &models.ActionToken{}
	var decision string
	var usedAt sql.NullTime
	err := executorFor(ctx, r.db).QueryRowContext(ctx, query, secretHash).Scan(
		&t.ID, &t.WorkflowID, &t.StepID, &t.Activation, &t.ValidatorEmail, &decision,
		&t.SecretHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Decision = models.Decision(decision)
	if usedAt.Valid {
		u := usedAt.Time
		t.UsedAt = &u
	}
	return t, nil
}

// Consume marks the token used if and only if it is still unused and
// unexpired. The conditional UPDATE is the single-use guarantee: two
// near-simultaneous resolutions cannot both see rows affected.
func (r *TokenRepository) Consume(ctx context.Context, secretHash string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET used_at = ? WHERE secret_hash = ? AND used_at IS NULL AND expires_at > ?`,
		constants.TableActionToken)
	result, err := executorFor(ctx, r.db).ExecContext(ctx, query, now, secretHash, now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ExpireForStep invalidates a step's outstanding tokens by pushing their
// expiry into the past. Used on reactivation so tokens from the previous
// activation can never resolve again.
func (r *TokenRepository) ExpireForStep(ctx context.Context, stepID string, now time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET expires_at = ? WHERE step_id = ? AND used_at IS NULL AND expires_at > ?`,
		constants.TableActionToken)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, now.Add(-time.Second), stepID, now)
	return err
}

// ExpireForWorkflow invalidates every outstanding token of a workflow.
// Used on cancellation.
func (r *TokenRepository) ExpireForWorkflow(ctx context.Context, workflowID string, now time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET expires_at = ? WHERE workflow_id = ? AND used_at IS NULL AND expires_at > ?`,
		constants.TableActionToken)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, now.Add(-time.Second), workflowID, now)
	return err
}

// PurgeExpired deletes token rows whose expiry lies before the cutoff.
// Consumed tokens keep reporting already_used until their expiry passes.
func (r *TokenRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < ?`, constants.TableActionToken)
	result, err := executorFor(ctx, r.db).ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
