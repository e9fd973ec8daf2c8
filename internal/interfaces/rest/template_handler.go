package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docflow/backend/internal/application/services"
)

// TemplateHandler handles circuit template endpoints
type TemplateHandler struct {
	templates *services.TemplateService
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(templates *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// Create handles POST /api/templates
func (h *TemplateHandler) Create(c *gin.Context) {
	user := GetUserFromContext(c)
	var req services.TemplateInput
	if !BindJSON(c, &req) {
		return
	}

	tpl, err := h.templates.Create(c.Request.Context(), req, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"template": tpl})
}

// List handles GET /api/templates
func (h *TemplateHandler) List(c *gin.Context) {
	HandleGetEnvelope(c, "templates", func() (interface{}, error) {
		return h.templates.List(c.Request.Context())
	})
}

// Get handles GET /api/templates/:id
func (h *TemplateHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, "template", func() (interface{}, error) {
		return h.templates.Get(c.Request.Context(), c.Param("id"))
	})
}

// Update handles PUT /api/templates/:id
func (h *TemplateHandler) Update(c *gin.Context) {
	user := GetUserFromContext(c)
	var req services.TemplateInput
	if !BindJSON(c, &req) {
		return
	}

	HandleGetEnvelope(c, "template", func() (interface{}, error) {
		return h.templates.Update(c.Request.Context(), c.Param("id"), req, user)
	})
}

// Delete handles DELETE /api/templates/:id
func (h *TemplateHandler) Delete(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleDeleteEnvelope(c, "Template deleted", func() error {
		return h.templates.Delete(c.Request.Context(), c.Param("id"), user)
	})
}
