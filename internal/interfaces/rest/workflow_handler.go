package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docflow/backend/internal/application/services"
	"github.com/docflow/backend/internal/domain/models"
)

// WorkflowHandler handles workflow lifecycle endpoints
type WorkflowHandler struct {
	orchestration *services.OrchestrationService
	templates     *services.TemplateService
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(orchestration *services.OrchestrationService, templates *services.TemplateService) *WorkflowHandler {
	return &WorkflowHandler{orchestration: orchestration, templates: templates}
}

// launchRequest accepts either an inline structure or a template reference.
type launchRequest struct {
	TemplateID  string                   `json:"template_id"`
	Structure   *models.CircuitStructure `json:"structure"`
	Title       string                   `json:"title"`
	DocumentIDs []string                 `json:"document_ids"`
}

// Launch handles POST /api/workflows
func (h *WorkflowHandler) Launch(c *gin.Context) {
	user := GetUserFromContext(c)
	var req launchRequest
	if !BindJSON(c, &req) {
		return
	}

	in := services.LaunchInput{
		Title:       req.Title,
		DocumentIDs: req.DocumentIDs,
	}
	switch {
	case req.Structure != nil:
		in.Structure = *req.Structure
	case req.TemplateID != "":
		tpl, err := h.templates.Get(c.Request.Context(), req.TemplateID)
		if err != nil {
			RespondAppError(c, err)
			return
		}
		in.Structure = tpl.Structure
	}

	wf, err := h.orchestration.Launch(c.Request.Context(), in, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"workflow": wf})
}

// Progress handles GET /api/workflows/:id
func (h *WorkflowHandler) Progress(c *gin.Context) {
	HandleGetEnvelope(c, "progress", func() (interface{}, error) {
		return h.orchestration.GetProgress(c.Request.Context(), c.Param("id"))
	})
}

// Cancel handles POST /api/workflows/:id/cancel
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, "workflow", func() (interface{}, error) {
		return h.orchestration.Cancel(c.Request.Context(), c.Param("id"), user)
	})
}

// Archive handles POST /api/workflows/:id/archive
func (h *WorkflowHandler) Archive(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, "workflow", func() (interface{}, error) {
		return h.orchestration.Archive(c.Request.Context(), c.Param("id"), user)
	})
}
