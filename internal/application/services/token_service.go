package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/internal/domain/ports"
	"github.com/docflow/backend/pkg/constants"
	apperrors "github.com/docflow/backend/pkg/errors"
	"github.com/docflow/backend/pkg/utils"
)

// TokenStatus classifies a token lookup. It is a result, not an error: a
// decision link is allowed to report its own state to whoever holds it.
type TokenStatus string

const (
	TokenOK          TokenStatus = "ok"
	TokenNotFound    TokenStatus = "not_found"
	TokenAlreadyUsed TokenStatus = "already_used"
	TokenExpired     TokenStatus = "expired"
)

// TokenPair holds the raw secrets for one validator's two pre-bound decision
// links. Raw secrets exist only in memory, long enough to build the email.
type TokenPair struct {
	ApproveSecret string
	RefuseSecret  string
}

// TokenPeek is the context behind a decision link, used to render a preview
// page without mutating anything.
type TokenPeek struct {
	Status   TokenStatus              `json:"status"`
	Token    *models.ActionToken      `json:"token,omitempty"`
	Step     *models.StepInstance     `json:"step,omitempty"`
	Workflow *models.WorkflowInstance `json:"workflow,omitempty"`
}

// TokenResolution is the outcome of consuming a decision link.
type TokenResolution struct {
	Status TokenStatus     `json:"status"`
	Result *DecisionResult `json:"result,omitempty"`
}

// errTokenRejected aborts the resolve transaction when the token turns out to
// be unusable; the resolution status carries the reason to the caller.
var errTokenRejected = errors.New("token rejected")

// TokenService issues, previews and consumes single-use decision tokens.
// Only SHA-256 digests of the secrets ever reach storage.
type TokenService struct {
	transactor    ports.Transactor
	tokens        ports.TokenStore
	store         ports.WorkflowStore
	orchestration *OrchestrationService
}

// NewTokenService creates a new TokenService
func NewTokenService(
	transactor ports.Transactor,
	tokens ports.TokenStore,
	store ports.WorkflowStore,
	orchestration *OrchestrationService,
) *TokenService {
	return &TokenService{
		transactor:    transactor,
		tokens:        tokens,
		store:         store,
		orchestration: orchestration,
	}
}

// NewDecisionSecret returns a fresh URL-safe random secret.
func NewDecisionSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the hex SHA-256 digest stored in place of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// IssueTokensForStep mints two tokens per validator of the step, one
// pre-bound to APPROVE and one to REFUSE, tied to the step's current
// activation. Returns the raw secrets keyed by validator email.
func (s *TokenService) IssueTokensForStep(ctx context.Context, step *models.StepInstance) (map[string]TokenPair, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(constants.ActionTokenTTL)

	pairs := make(map[string]TokenPair, len(step.Validators))
	for _, email := range step.Validators {
		pair := TokenPair{}
		for _, decision := range []models.Decision{models.DecisionApprove, models.DecisionRefuse} {
			secret, err := NewDecisionSecret()
			if err != nil {
				return nil, err
			}
			token := &models.ActionToken{
				ID:             utils.GenerateID(),
				WorkflowID:     step.WorkflowID,
				StepID:         step.ID,
				Activation:     step.Activation,
				ValidatorEmail: email,
				Decision:       decision,
				SecretHash:     HashSecret(secret),
				ExpiresAt:      expiresAt,
				CreatedAt:      now,
			}
			if err := s.tokens.Insert(ctx, token); err != nil {
				return nil, err
			}
			if decision == models.DecisionApprove {
				pair.ApproveSecret = secret
			} else {
				pair.RefuseSecret = secret
			}
		}
		pairs[email] = pair
	}
	return pairs, nil
}

// Peek classifies a raw secret and, when usable, returns the step and
// workflow behind it. Never mutates state.
func (s *TokenService) Peek(ctx context.Context, rawSecret string) (*TokenPeek, error) {
	token, err := s.tokens.FindByHash(ctx, HashSecret(rawSecret))
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &TokenPeek{Status: TokenNotFound}, nil
	}
	if token.UsedAt != nil {
		return &TokenPeek{Status: TokenAlreadyUsed}, nil
	}
	now := time.Now().UTC()
	if !token.ExpiresAt.After(now) {
		return &TokenPeek{Status: TokenExpired}, nil
	}

	step, err := s.store.GetStep(ctx, token.StepID)
	if err != nil {
		return nil, err
	}
	if step == nil || step.Activation != token.Activation {
		// Reactivation expired these tokens already; a step that moved on
		// renders the link dead either way.
		return &TokenPeek{Status: TokenExpired}, nil
	}
	wf, err := s.store.GetWorkflow(ctx, token.WorkflowID)
	if err != nil {
		return nil, err
	}
	return &TokenPeek{Status: TokenOK, Token: token, Step: step, Workflow: wf}, nil
}

// Resolve consumes a raw secret and records the decision it is bound to, all
// in one transaction: a token is burned if and only if its decision commits.
// Two near-simultaneous resolutions of the same secret cannot both succeed.
func (s *TokenService) Resolve(ctx context.Context, rawSecret, comment string) (*TokenResolution, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, apperrors.NewValidationError("comment", "a comment is required")
	}
	hash := HashSecret(rawSecret)

	var resolution *TokenResolution
	var fx *sideEffects
	err := s.transactor.RunInTransaction(ctx, func(txCtx context.Context) error {
		now := time.Now().UTC()
		token, err := s.tokens.FindByHash(txCtx, hash)
		if err != nil {
			return err
		}
		if token == nil {
			resolution = &TokenResolution{Status: TokenNotFound}
			return errTokenRejected
		}

		consumed, err := s.tokens.Consume(txCtx, hash, now)
		if err != nil {
			return err
		}
		if !consumed {
			// Lost the race or the window closed; re-read to tell which.
			token, err = s.tokens.FindByHash(txCtx, hash)
			if err != nil {
				return err
			}
			if token != nil && token.UsedAt != nil {
				resolution = &TokenResolution{Status: TokenAlreadyUsed}
			} else {
				resolution = &TokenResolution{Status: TokenExpired}
			}
			return errTokenRejected
		}

		result, effects, err := s.orchestration.recordDecisionTx(txCtx, DecisionInput{
			StepID:     token.StepID,
			ActorEmail: token.ValidatorEmail,
			Decision:   token.Decision,
			Comment:    comment,
		})
		if err != nil {
			return err
		}
		resolution = &TokenResolution{Status: TokenOK, Result: result}
		fx = effects
		return nil
	})
	if err != nil && !errors.Is(err, errTokenRejected) {
		return nil, err
	}

	s.orchestration.dispatch(ctx, fx)
	return resolution, nil
}
