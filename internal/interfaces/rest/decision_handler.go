package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docflow/backend/internal/application/services"
	"github.com/docflow/backend/internal/domain/models"
)

// DecisionHandler handles authenticated decisions and public token links.
type DecisionHandler struct {
	orchestration *services.OrchestrationService
	tokens        *services.TokenService
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(orchestration *services.OrchestrationService, tokens *services.TokenService) *DecisionHandler {
	return &DecisionHandler{orchestration: orchestration, tokens: tokens}
}

// Decide handles POST /api/steps/:stepId/decide for logged-in validators.
func (h *DecisionHandler) Decide(c *gin.Context) {
	user := GetUserFromContext(c)
	var req struct {
		Decision models.Decision `json:"decision"`
		Comment  string          `json:"comment"`
	}
	if !BindJSON(c, &req) {
		return
	}

	result, err := h.orchestration.RecordDecision(c.Request.Context(), services.DecisionInput{
		StepID:     c.Param("stepId"),
		ActorEmail: user.Email,
		ActorID:    &user.ID,
		Decision:   req.Decision,
		Comment:    req.Comment,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// Peek handles GET /api/decide/:token. Public: the token is the credential.
func (h *DecisionHandler) Peek(c *gin.Context) {
	peek, err := h.tokens.Peek(c.Request.Context(), c.Param("token"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(tokenStatusCode(peek.Status), peek)
}

// Resolve handles POST /api/decide/:token. Public: consumes the token and
// records the decision it is bound to.
func (h *DecisionHandler) Resolve(c *gin.Context) {
	var req struct {
		Comment string `json:"comment"`
	}
	if !BindJSON(c, &req) {
		return
	}

	resolution, err := h.tokens.Resolve(c.Request.Context(), c.Param("token"), req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(tokenStatusCode(resolution.Status), resolution)
}

// tokenStatusCode maps a token status onto an HTTP status. Decision links
// may reveal their own state; the status is part of the response body too.
func tokenStatusCode(status services.TokenStatus) int {
	switch status {
	case services.TokenOK:
		return http.StatusOK
	case services.TokenNotFound:
		return http.StatusNotFound
	case services.TokenAlreadyUsed:
		return http.StatusConflict
	case services.TokenExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}
