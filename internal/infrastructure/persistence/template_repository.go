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

// TemplateRepository persists reusable circuit definitions. The structure is
// stored as a JSON column; launching always works from a deep copy, never
// from this row.
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new TemplateRepository
func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a template row
func (r *TemplateRepository) Create(ctx context.Context, tpl *models.CircuitTemplate) error {
	structureJSON, err := json.Marshal(tpl.Structure)
	if err != nil {
		return fmt.Errorf("failed to marshal template structure: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, name, description, structure, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, constants.TableCircuitTemplate)
	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		tpl.ID, tpl.Name, tpl.Description, string(structureJSON), tpl.OwnerID,
		tpl.CreatedAt, tpl.UpdatedAt)
	return err
}

// Update replaces a template's name, description and structure.
func (r *TemplateRepository) Update(ctx context.Context, tpl *models.CircuitTemplate) error {
	structureJSON, err := json.Marshal(tpl.Structure)
	if err != nil {
		return fmt.Errorf("failed to marshal template structure: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET name = ?, description = ?, structure = ?, updated_at = ? WHERE id = ?`,
		constants.TableCircuitTemplate)
	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		tpl.Name, tpl.Description, string(structureJSON), time.Now().UTC(), tpl.ID)
	return err
}

// Delete removes a template row
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, constants.TableCircuitTemplate)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, id)
	return err
}

// Get fetches a template by id, nil if absent.
func (r *TemplateRepository) Get(ctx context.Context, id string) (*models.CircuitTemplate, error) {
	query := fmt.Sprintf(`SELECT id, name, description, structure, owner_id, created_at, updated_at
		FROM %s WHERE id = ?`, constants.TableCircuitTemplate)
	return r.scanTemplate(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
}

// List returns all templates, newest first.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.CircuitTemplate, error) {
	query := fmt.Sprintf(`SELECT id, name, description, structure, owner_id, created_at, updated_at
		FROM %s ORDER BY created_at DESC`, constants.TableCircuitTemplate)
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.CircuitTemplate
	for rows.Next() {
		tpl := &models.CircuitTemplate{}
		var structureJSON string
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &structureJSON,
			&tpl.OwnerID, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(structureJSON), &tpl.Structure); err != nil {
			return nil, fmt.Errorf("corrupt structure for template %s: %w", tpl.ID, err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (r *TemplateRepository) scanTemplate(row *sql.Row) (*models.CircuitTemplate, error) {
	tpl := &models.CircuitTemplate{}
	var structureJSON string
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &structureJSON,
		&tpl.OwnerID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(structureJSON), &tpl.Structure); err != nil {
		return nil, fmt.Errorf("corrupt structure for template %s: %w", tpl.ID, err)
	}
	return tpl, nil
}
