package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/pkg/auth"
	apperrors "github.com/docflow/backend/pkg/errors"
	"github.com/docflow/backend/pkg/utils"
)

// TemplateService manages reusable circuit templates. Templates are plain
// definitions; launching copies the structure into the instance, so edits
// here never touch a running workflow.
type TemplateService struct {
	templates ports.TemplateStore
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(templates ports.TemplateStore) *TemplateService {
	return &TemplateService{templates: templates}
}

// TemplateInput is the input for creating or updating a template.
type TemplateInput struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Structure   models.CircuitStructure `json:"structure"`
}

// Create validates and stores a new template owned by the caller.
func (s *TemplateService) Create(ctx context.Context, in TemplateInput, user *models.UserSession) (*models.CircuitTemplate, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("name", "name is required")
	}
	if err := ValidateCircuitStructure(&in.Structure); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tpl := &models.CircuitTemplate{
		ID:          utils.GenerateID(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Structure:   in.Structure.Clone(),
		OwnerID:     user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// Update replaces a template's definition. Owner-only.
func (s *TemplateService) Update(ctx context.Context, id string, in TemplateInput, user *models.UserSession) (*models.CircuitTemplate, error) {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.OwnerID != user.ID {
		return nil, apperrors.NewPermissionError("update", "template")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("name", "name is required")
	}
	if err := ValidateCircuitStructure(&in.Structure); err != nil {
		return nil, err
	}

	tpl.Name = strings.TrimSpace(in.Name)
	tpl.Description = in.Description
	tpl.Structure = in.Structure.Clone()
	tpl.UpdatedAt = time.Now().UTC()
	if err := s.templates.Update(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// Delete removes a template. Owner-only.
func (s *TemplateService) Delete(ctx context.Context, id string, user *models.UserSession) error {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if tpl.OwnerID != user.ID {
		return apperrors.NewPermissionError("delete", "template")
	}
	return s.templates.Delete(ctx, id)
}

// Get fetches one template.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.CircuitTemplate, error) {
	tpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperrors.NewNotFoundError("template", id)
	}
	return tpl, nil
}

// List returns all templates, newest first.
func (s *TemplateService) List(ctx context.Context) ([]*models.CircuitTemplate, error) {
	return s.templates.List(ctx)
}

// ValidateCircuitStructure checks a circuit definition before it is stored
// or launched: contiguous phase and step orders starting at zero, at least
// one validator with a well-formed email per step, and quorum settings
// consistent with each step's rule.
func ValidateCircuitStructure(structure *models.CircuitStructure) error {
	if len(structure.Phases) == 0 {
		return apperrors.NewValidationError("structure", "at least one phase is required")
	}
	for i, phase := range structure.Phases {
		if phase.Order != i {
			return apperrors.NewValidationError("structure",
				fmt.Sprintf("phase orders must be contiguous from 0, got %d at position %d", phase.Order, i))
		}
		if strings.TrimSpace(phase.Name) == "" {
			return apperrors.NewValidationError("structure", fmt.Sprintf("phase %d has no name", i))
		}
		if len(phase.Steps) == 0 {
			return apperrors.NewValidationError("structure", fmt.Sprintf("phase %d has no steps", i))
		}
		for j, step := range phase.Steps {
			if step.Order != j {
				return apperrors.NewValidationError("structure",
					fmt.Sprintf("step orders of phase %d must be contiguous from 0, got %d at position %d", i, step.Order, j))
			}
			if strings.TrimSpace(step.Name) == "" {
				return apperrors.NewValidationError("structure", fmt.Sprintf("step %d of phase %d has no name", j, i))
			}
			if step.Execution != models.ExecutionSequential && step.Execution != models.ExecutionParallel {
				return apperrors.NewValidationError("structure",
					fmt.Sprintf("step %q has unknown execution mode %q", step.Name, step.Execution))
			}
			if len(step.Validators) == 0 {
				return apperrors.NewValidationError("structure", fmt.Sprintf("step %q has no validators", step.Name))
			}
			seen := make(map[string]struct{}, len(step.Validators))
			for _, email := range step.Validators {
				if !auth.IsValidEmail(email) {
					return apperrors.NewValidationError("structure",
						fmt.Sprintf("step %q has invalid validator email %q", step.Name, email))
				}
				if _, dup := seen[email]; dup {
					return apperrors.NewValidationError("structure",
						fmt.Sprintf("step %q lists validator %q twice", step.Name, email))
				}
				seen[email] = struct{}{}
			}
			switch step.QuorumRule {
			case models.QuorumUnanimity, models.QuorumMajority:
				if step.QuorumCount != nil {
					return apperrors.NewValidationError("structure",
						fmt.Sprintf("step %q sets quorum_count, which only applies to ANY_OF", step.Name))
				}
			case models.QuorumAnyOf:
				if step.QuorumCount != nil && (*step.QuorumCount < 1 || *step.QuorumCount > len(step.Validators)) {
					return apperrors.NewValidationError("structure",
						fmt.Sprintf("step %q quorum_count must be between 1 and %d", step.Name, len(step.Validators)))
				}
			default:
				return apperrors.NewValidationError("structure",
					fmt.Sprintf("step %q has unknown quorum rule %q", step.Name, step.QuorumRule))
			}
			if step.DeadlineOffsetHours != nil && *step.DeadlineOffsetHours <= 0 {
				return apperrors.NewValidationError("structure",
					fmt.Sprintf("step %q deadline offset must be positive", step.Name))
			}
		}
	}
	return nil
}
